// Package refresh downloads the configured remote calendars into the
// calendar directory, one <name>.ics file per calendar.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	appLog "agenda/internal/log"
)

// ErrFetch wraps every failure to obtain a calendar body.
var ErrFetch = errors.New("calendar fetch failed")

// Calendar is one remote calendar. Name becomes the file name.
type Calendar struct {
	Name     string
	URL      string
	Username string
	Password string
}

// Result is the body obtained for one calendar.
type Result struct {
	Calendar  Calendar
	Body      []byte
	FromCache bool
}

// Fetcher obtains the body of one calendar.
type Fetcher interface {
	Fetch(ctx context.Context, cal Calendar) (Result, error)
}

// Refresher routes each calendar to the fetcher for its URL scheme and
// writes the body under dir.
type Refresher struct {
	dir    string
	http   Fetcher
	caldav Fetcher
}

func New(dir string, httpFetcher, caldavFetcher Fetcher) *Refresher {
	return &Refresher{dir: dir, http: httpFetcher, caldav: caldavFetcher}
}

// RefreshAll fetches and stores every calendar. A failing calendar is
// reported and leaves its previous file in place; the others are still
// written.
func (r *Refresher) RefreshAll(ctx context.Context, cals []Calendar) ([]Result, []error) {
	results := make([]Result, 0, len(cals))
	errs := make([]error, 0)

	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return nil, []error{err}
	}

	for _, cal := range cals {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := r.refreshOne(ctx, cal)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("calendar refresh failed", err, "name", cal.Name, "url", redactURL(cal.URL))
			continue
		}
		appLog.Info("calendar refreshed", "name", cal.Name, "bytes", len(res.Body), "from_cache", res.FromCache)
		results = append(results, res)
	}
	return results, errs
}

func (r *Refresher) refreshOne(ctx context.Context, cal Calendar) (Result, error) {
	if err := validName(cal.Name); err != nil {
		return Result{}, err
	}

	var fetcher Fetcher
	switch scheme(cal.URL) {
	case "caldav", "caldavs":
		fetcher = r.caldav
	case "http", "https", "webcal", "webcals":
		fetcher = r.http
	default:
		return Result{}, fmt.Errorf("%w: %s: unsupported url %q", ErrFetch, cal.Name, redactURL(cal.URL))
	}
	if fetcher == nil {
		return Result{}, fmt.Errorf("%w: %s: no fetcher for %s", ErrFetch, cal.Name, scheme(cal.URL))
	}

	res, err := fetcher.Fetch(ctx, cal)
	if err != nil {
		return Result{}, err
	}
	if err := writeAtomic(filepath.Join(r.dir, cal.Name+".ics"), res.Body); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", cal.Name, err)
	}
	return res, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid calendar name %q", ErrFetch, name)
	}
	return nil
}

func writeAtomic(path string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".agenda-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func scheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// httpURL maps webcal and webcals to their HTTP equivalents.
func httpURL(raw string) string {
	switch scheme(raw) {
	case "webcal":
		return "http" + raw[len("webcal"):]
	case "webcals":
		return "https" + raw[len("webcals"):]
	}
	return raw
}

// redactURL keeps only scheme and host; calendar URLs often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
