package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nEND:VCALENDAR\r\n"

func TestHTTPFetcherConditionalGet(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), t.TempDir())
	cal := Calendar{Name: "work", URL: srv.URL + "/work.ics"}

	first, err := f.Fetch(context.Background(), cal)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, feed, string(first.Body))

	second, err := f.Fetch(context.Background(), cal)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, feed, string(second.Body))

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestHTTPFetcherFallsBackToCache(t *testing.T) {
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), t.TempDir())
	cal := Calendar{Name: "work", URL: srv.URL}

	_, err := f.Fetch(context.Background(), cal)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.Fetch(context.Background(), cal)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, feed, string(res.Body))
}

func TestHTTPFetcherErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), t.TempDir())
	_, err := f.Fetch(context.Background(), Calendar{Name: "x", URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPFetcherBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "me" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), t.TempDir())
	_, err := f.Fetch(context.Background(), Calendar{Name: "x", URL: srv.URL, Username: "me", Password: "secret"})
	assert.NoError(t, err)
}

type stubFetcher struct {
	body  string
	err   error
	calls []string
}

func (s *stubFetcher) Fetch(_ context.Context, cal Calendar) (Result, error) {
	s.calls = append(s.calls, cal.Name)
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{Calendar: cal, Body: []byte(s.body)}, nil
}

func TestRefreshAllRoutesAndWrites(t *testing.T) {
	dir := t.TempDir()
	web := &stubFetcher{body: "web"}
	dav := &stubFetcher{body: "dav"}
	r := New(dir, web, dav)

	results, errs := r.RefreshAll(context.Background(), []Calendar{
		{Name: "public", URL: "https://example.com/public.ics"},
		{Name: "sub", URL: "webcal://example.com/sub.ics"},
		{Name: "team", URL: "caldavs://dav.example.com/cal/team/"},
		{Name: "../escape", URL: "https://example.com/x.ics"},
		{Name: "ftp", URL: "ftp://example.com/x.ics"},
	})
	assert.Len(t, results, 3)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrFetch)
	}

	assert.Equal(t, []string{"public", "sub"}, web.calls)
	assert.Equal(t, []string{"team"}, dav.calls)

	body, err := os.ReadFile(filepath.Join(dir, "team.ics"))
	require.NoError(t, err)
	assert.Equal(t, "dav", string(body))
	_, err = os.Stat(filepath.Join(dir, "public.ics"))
	assert.NoError(t, err)
}

func TestRefreshAllKeepsOldFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "work.ics")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	r := New(dir, &stubFetcher{err: errors.New("offline")}, nil)
	_, errs := r.RefreshAll(context.Background(), []Calendar{{Name: "work", URL: "https://example.com/w.ics"}})
	require.Len(t, errs, 1)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(body))
}

func TestDavEndpoint(t *testing.T) {
	tests := []struct {
		raw        string
		endpoint   string
		collection string
		wantErr    bool
	}{
		{raw: "caldavs://dav.example.com/cal/team/", endpoint: "https://dav.example.com", collection: "/cal/team/"},
		{raw: "caldav://localhost:5232/me/", endpoint: "http://localhost:5232", collection: "/me/"},
		{raw: "caldav://host", endpoint: "http://host", collection: "/"},
		{raw: "https://dav.example.com/cal/", wantErr: true},
		{raw: "caldavs:///nohost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			endpoint, collection, err := davEndpoint(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.endpoint, endpoint)
			assert.Equal(t, tt.collection, collection)
		})
	}
}

func timezone(tzid string, withRule bool) *ical.Component {
	tz := ical.NewComponent(ical.CompTimezone)
	tz.Props.SetText(ical.PropTimezoneID, tzid)
	if withRule {
		std := ical.NewComponent("STANDARD")
		std.Props.Set(&ical.Prop{Name: ical.PropDateTimeStart, Params: ical.Params{}, Value: "19701025T030000"})
		std.Props.Set(&ical.Prop{Name: "TZOFFSETFROM", Params: ical.Params{}, Value: "+0200"})
		std.Props.Set(&ical.Prop{Name: "TZOFFSETTO", Params: ical.Params{}, Value: "+0100"})
		tz.Children = append(tz.Children, std)
	}
	return tz
}

func calendarObject(path, uid, tzid string) caldav.CalendarObject {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//test//EN")

	cal.Children = append(cal.Children, timezone(tzid, true))

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetText(ical.PropSummary, "Event "+uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ev.Props.SetDateTime(ical.PropDateTimeStart, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	cal.Children = append(cal.Children, ev.Component)

	return caldav.CalendarObject{Path: path, Data: cal}
}

func TestMergeObjects(t *testing.T) {
	body, err := mergeObjects([]caldav.CalendarObject{
		calendarObject("/cal/a.ics", "a", "Europe/Berlin"),
		calendarObject("/cal/b.ics", "b", "Europe/Berlin"),
		{Path: "/cal/empty.ics"},
	})
	require.NoError(t, err)

	text := string(body)
	assert.Equal(t, 1, strings.Count(text, "BEGIN:VCALENDAR"))
	assert.Equal(t, 2, strings.Count(text, "BEGIN:VEVENT"))
	assert.Equal(t, 1, strings.Count(text, "BEGIN:VTIMEZONE"))
	assert.Contains(t, text, "UID:a")
	assert.Contains(t, text, "UID:b")
	assert.Contains(t, text, prodID)
}

func TestMergeObjectsSkipsUnencodableComponent(t *testing.T) {
	broken := calendarObject("/cal/c.ics", "c", "Broken/Zone")
	broken.Data.Children[0] = timezone("Broken/Zone", false)

	body, err := mergeObjects([]caldav.CalendarObject{
		calendarObject("/cal/a.ics", "a", "Europe/Berlin"),
		broken,
	})
	require.NoError(t, err)

	text := string(body)
	assert.Equal(t, 2, strings.Count(text, "BEGIN:VEVENT"))
	assert.Equal(t, 1, strings.Count(text, "BEGIN:VTIMEZONE"))
	assert.Contains(t, text, "UID:a")
	assert.Contains(t, text, "UID:c")
	assert.NotContains(t, text, "Broken/Zone")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private/token.ics?key=1"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
