package refresh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	appLog "agenda/internal/log"
)

const prodID = "-//agenda//refresh//EN"

// CalDAVFetcher reads every VEVENT of a CalDAV collection and returns them
// as one calendar body.
type CalDAVFetcher struct {
	transport http.RoundTripper
	timeout   time.Duration
}

func NewCalDAVFetcher(transport http.RoundTripper) *CalDAVFetcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CalDAVFetcher{transport: transport, timeout: 30 * time.Second}
}

type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", "agenda/1.0")
	return t.next.RoundTrip(req)
}

func (f *CalDAVFetcher) Fetch(ctx context.Context, cal Calendar) (Result, error) {
	endpoint, collection, err := davEndpoint(cal.URL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrFetch, cal.Name, err)
	}

	var rt http.RoundTripper = f.transport
	if cal.Username != "" {
		rt = &basicAuthTransport{username: cal.Username, password: cal.Password, next: f.transport}
	}
	client, err := caldav.NewClient(&http.Client{Transport: rt, Timeout: f.timeout}, endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: connect: %v", ErrFetch, cal.Name, err)
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent}},
		},
	}

	appLog.Debug("caldav query start", "name", cal.Name, "endpoint", redactURL(endpoint), "collection", collection)

	objects, err := client.QueryCalendar(ctx, collection, query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: query calendar: %v", ErrFetch, cal.Name, err)
	}

	body, err := mergeObjects(objects)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: encode: %v", ErrFetch, cal.Name, err)
	}
	appLog.Debug("caldav query done", "name", cal.Name, "objects", len(objects))
	return Result{Calendar: cal, Body: body}, nil
}

// mergeObjects folds the components of every object into one VCALENDAR.
// VTIMEZONE definitions repeated across objects are written once. A
// component the encoder rejects is logged and left out.
func mergeObjects(objects []caldav.CalendarObject) ([]byte, error) {
	merged := ical.NewCalendar()
	merged.Props.SetText(ical.PropVersion, "2.0")
	merged.Props.SetText(ical.PropProductID, prodID)

	zones := make(map[string]struct{})
	for _, obj := range objects {
		if obj.Data == nil {
			appLog.Debug("caldav object without data", "path", obj.Path)
			continue
		}
		for _, comp := range obj.Data.Children {
			if err := encodable(comp); err != nil {
				appLog.Error("caldav component skipped", err, "path", obj.Path, "component", comp.Name)
				continue
			}
			if comp.Name == ical.CompTimezone {
				tzid := ""
				if p := comp.Props.Get(ical.PropTimezoneID); p != nil {
					tzid = p.Value
				}
				if _, seen := zones[tzid]; seen {
					continue
				}
				zones[tzid] = struct{}{}
			}
			merged.Children = append(merged.Children, comp)
		}
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(merged); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodable encodes comp alone in a calendar and discards the output.
func encodable(comp *ical.Component) error {
	single := ical.NewCalendar()
	single.Props.SetText(ical.PropVersion, "2.0")
	single.Props.SetText(ical.PropProductID, prodID)
	single.Children = []*ical.Component{comp}
	return ical.NewEncoder(io.Discard).Encode(single)
}

// davEndpoint splits caldav://host/path into the server root and the
// collection path. caldav talks plain HTTP and caldavs HTTPS.
func davEndpoint(raw string) (endpoint, collection string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "caldav":
		u.Scheme = "http"
	case "caldavs":
		u.Scheme = "https"
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("missing host in %q", redactURL(raw))
	}
	collection = u.EscapedPath()
	if collection == "" {
		collection = "/"
	}
	return u.Scheme + "://" + u.Host, collection, nil
}
