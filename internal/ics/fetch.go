package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appLog "staycal/internal/log"
)

// Some providers reject default Go/bot-like agents, so we present a
// plain browser one.
const fetchUserAgent = "Mozilla/5.0"

// DefaultCacheTTL is how long a fetched feed body is reused before
// revalidating. Booking feeds change infrequently and the front end
// polls hourly; there is no point hammering the providers.
const DefaultCacheTTL = time.Hour

// FetchResult contains the outcome of fetching a single feed.
type FetchResult struct {
	Source    Source
	Body      []byte // iCal payload, fresh or from cache
	FromCache bool
}

// cacheEntry holds the last good body for one URL plus the validators
// needed for conditional revalidation.
type cacheEntry struct {
	body         []byte
	etag         string
	lastModified string
	fetchedAt    time.Time
}

// Fetcher retrieves iCal feeds with a time-based in-memory cache and
// ETag / Last-Modified revalidation. It is safe for concurrent use; the
// aggregator fetches all feeds in parallel through one shared Fetcher.
type Fetcher struct {
	client *http.Client
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]*cacheEntry
	now   func() time.Time
}

// NewFetcher creates a Fetcher. A non-positive ttl means DefaultCacheTTL.
func NewFetcher(ttl time.Duration) *Fetcher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		ttl:   ttl,
		cache: make(map[string]*cacheEntry),
		now:   time.Now,
	}
}

// Flush drops every cached body so the next fetch hits the network.
func (f *Fetcher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]*cacheEntry)
}

// FetchOne fetches a single feed. Within the TTL the cached body is
// returned without touching the network; past it, a conditional GET is
// issued and the cached body is reused on 304, network error or non-2xx.
// An error is returned only when no usable body exists at all.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	// Snapshot the entry under the lock; the map value is shared with
	// concurrent callers and must not be read or mutated outside it.
	f.mu.Lock()
	var cached cacheEntry
	hasCached := false
	if e := f.cache[src.URL]; e != nil {
		cached = *e
		hasCached = true
	}
	fresh := hasCached && f.now().Sub(cached.fetchedAt) < f.ttl
	f.mu.Unlock()

	if fresh {
		appLog.Debug("ics fetch served from cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cached.body, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	if hasCached {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	appLog.Info("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		if hasCached {
			appLog.Warn("ics fetch network error, using cached body", "id", src.ID, "url", redactURL(src.URL))
			return FetchResult{Source: src, Body: cached.body, FromCache: true}, nil
		}
		// The transport error may echo the full URL; wrap it with the
		// redacted form so upstream logging stays token-free.
		return FetchResult{}, fmt.Errorf("fetch %s: %w", redactURL(src.URL), errUnwrapped(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		f.mu.Lock()
		f.cache[src.URL] = &cacheEntry{
			body:         body,
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			fetchedAt:    f.now(),
		}
		f.mu.Unlock()

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
		return FetchResult{Source: src, Body: body}, nil

	case resp.StatusCode == http.StatusNotModified:
		if !hasCached {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		// Replace the entry rather than touching the shared one in place.
		renewed := cached
		renewed.fetchedAt = f.now()
		f.mu.Lock()
		f.cache[src.URL] = &renewed
		f.mu.Unlock()
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cached.body, FromCache: true}, nil

	default:
		if hasCached {
			appLog.Warn("ics fetch non-OK, using cached body", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return FetchResult{Source: src, Body: cached.body, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
}

// errUnwrapped strips the *url.Error wrapper, whose message contains the
// full request URL, leaving only the underlying cause.
func errUnwrapped(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}
