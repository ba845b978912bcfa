package ics

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Source represents a single iCal feed subscription. ID is the opaque
// label used in logs and API responses; URL is a secret (booking
// platforms embed access tokens in the query string) and must never
// travel outward.
type Source struct {
	ID  string
	URL string
}

// Environment variables consulted by ResolveSources. ICAL_URLS is a
// comma-separated list; the named variables cover the usual platforms.
const (
	EnvICalURLs   = "ICAL_URLS"
	EnvAirbnbURL  = "AIRBNB_ICAL_URL"
	EnvVrboURL    = "VRBO_ICAL_URL"
	EnvBookingURL = "BOOKING_ICAL_URL"
)

// ErrNoFeeds signals that no feed URL was configured through any
// channel. Callers must treat this as a configuration error, distinct
// from a fetch failure.
var ErrNoFeeds = errors.New("no ical feed urls configured")

// ResolveSources builds the ordered feed list from the environment and
// the static config list.
//
// All channels are unioned rather than taking strict precedence: the
// ICAL_URLS CSV first (labelled ical_1..ical_n), then the named platform
// variables, then the static list. Empty and whitespace-only entries are
// skipped. Duplicate URLs across channels collapse to one source,
// keeping the first-seen ID.
func ResolveSources(static []Source) ([]Source, error) {
	var all []Source

	if csv := os.Getenv(EnvICalURLs); csv != "" {
		n := 0
		for _, raw := range strings.Split(csv, ",") {
			u := strings.TrimSpace(raw)
			if u == "" {
				continue
			}
			n++
			all = append(all, Source{ID: fmt.Sprintf("ical_%d", n), URL: u})
		}
	}

	named := []struct {
		env string
		id  string
	}{
		{EnvAirbnbURL, "airbnb"},
		{EnvVrboURL, "vrbo"},
		{EnvBookingURL, "booking"},
	}
	for _, nv := range named {
		if u := strings.TrimSpace(os.Getenv(nv.env)); u != "" {
			all = append(all, Source{ID: nv.id, URL: u})
		}
	}

	for i, src := range static {
		u := strings.TrimSpace(src.URL)
		if u == "" {
			continue
		}
		id := strings.TrimSpace(src.ID)
		if id == "" {
			// Never fall back to the URL as a label; it would leak.
			id = fmt.Sprintf("feed_%d", i+1)
		}
		all = append(all, Source{ID: id, URL: u})
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]Source, 0, len(all))
	for _, src := range all {
		if _, dup := seen[src.URL]; dup {
			continue
		}
		seen[src.URL] = struct{}{}
		out = append(out, src)
	}

	if len(out) == 0 {
		return nil, ErrNoFeeds
	}
	return out, nil
}

// redactURL reduces a feed URL to its scheme and host for logging. The
// path and query carry the provider token and are dropped entirely.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
