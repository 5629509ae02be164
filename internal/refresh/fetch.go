package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	appLog "agenda/internal/log"
)

// httpMeta is the validator pair remembered for one calendar URL.
type httpMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HTTPFetcher downloads ICS feeds with conditional GET. Validators and the
// last body are kept under cacheDir so an unchanged feed costs one 304.
type HTTPFetcher struct {
	client   *http.Client
	cacheDir string
}

// NewHTTPFetcher creates a fetcher caching under cacheDir. A nil client
// gets a 15s timeout client.
func NewHTTPFetcher(client *http.Client, cacheDir string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "agenda-cache")
	}
	return &HTTPFetcher{client: client, cacheDir: cacheDir}
}

// Fetch returns the current body of cal.URL. On a network failure or a
// non-OK status the cached body is returned when there is one.
func (f *HTTPFetcher) Fetch(ctx context.Context, cal Calendar) (Result, error) {
	url := httpURL(cal.URL)
	if url == "" {
		return Result{}, fmt.Errorf("%w: %s: empty url", ErrFetch, cal.Name)
	}

	cachePath := f.cachePath(url)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, err
	}

	meta, _ := loadMeta(cachePath)
	cached, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))
	fallback := func(reason error) (Result, error) {
		if len(cached) == 0 {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrFetch, cal.Name, reason)
		}
		appLog.Error("calendar fetch failed, using cached body", reason, "name", cal.Name, "url", redactURL(url))
		return Result{Calendar: cal, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrFetch, cal.Name, err)
	}
	if meta.URL == url {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}
	if cal.Username != "" {
		req.SetBasicAuth(cal.Username, cal.Password)
	}

	appLog.Debug("calendar fetch start", "name", cal.Name, "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(err)
		}
		next := httpMeta{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, next, body); err != nil {
			appLog.Error("calendar cache save failed", err, "name", cal.Name)
		}
		return Result{Calendar: cal, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Result{}, fmt.Errorf("%w: %s: 304 without a cached body", ErrFetch, cal.Name)
		}
		appLog.Debug("calendar not modified", "name", cal.Name)
		return Result{Calendar: cal, Body: cached, FromCache: true}, nil

	default:
		return fallback(errors.New(resp.Status))
	}
}

func (f *HTTPFetcher) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(cachePath string) (httpMeta, error) {
	var meta httpMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return httpMeta{}, err
	}
	return meta, nil
}

// saveCache writes the body before the metadata so validators never point
// at a body that is not on disk.
func saveCache(cachePath string, meta httpMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
