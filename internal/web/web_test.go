package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staycal/internal/availability"
	"staycal/internal/config"
	"staycal/internal/ics"
)

const feedToken = "secrettoken123"

const reservedJan = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Test//Test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"UID:res-1@test\r\n" +
	"SUMMARY:Reserved\r\n" +
	"DTSTART;VALUE=DATE:20240105\r\n" +
	"DTEND;VALUE=DATE:20240110\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func clearFeedEnv(t *testing.T) {
	t.Helper()
	t.Setenv(ics.EnvICalURLs, "")
	t.Setenv(ics.EnvAirbnbURL, "")
	t.Setenv(ics.EnvVrboURL, "")
	t.Setenv(ics.EnvBookingURL, "")
}

// newTestServer wires a Server against real aggregation over httptest
// feeds. feedBody == "" means a feed that always returns HTTP 500.
func newTestServer(t *testing.T, cfg *config.Config, feedBodies ...string) (*httptest.Server, []string) {
	t.Helper()
	clearFeedEnv(t)

	feedURLs := make([]string, 0, len(feedBodies))
	for i, body := range feedBodies {
		body := body
		feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if body == "" {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(feed.Close)

		url := feed.URL + "/ical/export.ics?token=" + feedToken
		feedURLs = append(feedURLs, url)
		cfg.Feeds = append(cfg.Feeds, config.FeedConfig{ID: feedID(i), URL: url})
	}
	cfg.Normalize()

	fetcher := ics.NewFetcher(time.Hour)
	agg, err := availability.New(fetcher, availability.Options{
		FallbackBlockedDates: cfg.FallbackBlockedDates,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(cfg, agg, fetcher).Handler())
	t.Cleanup(srv.Close)
	return srv, feedURLs
}

func feedID(i int) string {
	return []string{"airbnb", "vrbo", "booking"}[i%3]
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestCalendarEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, config.DefaultConfig(), reservedJan)

	status, body := get(t, srv.URL+"/api/calendar")
	require.Equal(t, http.StatusOK, status)

	var resp struct {
		BlockedDates []string `json:"blockedDates"`
		LastUpdated  string   `json:"lastUpdated"`
		EventCount   int      `json:"eventCount"`
		FeedCount    int      `json:"feedCount"`
		FeedStatus   []struct {
			Source     string `json:"source"`
			Success    bool   `json:"success"`
			EventCount int    `json:"eventCount"`
		} `json:"feedStatus"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	assert.Equal(t,
		[]string{"2024-01-05", "2024-01-06", "2024-01-07", "2024-01-08", "2024-01-09"},
		resp.BlockedDates,
	)
	assert.Equal(t, 1, resp.EventCount)
	assert.Equal(t, 1, resp.FeedCount)
	require.Len(t, resp.FeedStatus, 1)
	assert.Equal(t, "airbnb", resp.FeedStatus[0].Source)
	assert.True(t, resp.FeedStatus[0].Success)

	_, err := time.Parse(time.RFC3339, resp.LastUpdated)
	assert.NoError(t, err)
}

func TestCalendarNoFeedsConfigured(t *testing.T) {
	srv, _ := newTestServer(t, config.DefaultConfig())

	status, body := get(t, srv.URL+"/api/calendar")
	assert.Equal(t, http.StatusBadRequest, status)

	var resp map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.NotEmpty(t, resp["error"])
	assert.NotEmpty(t, resp["hint"])
}

func TestCalendarFailingFeedStillResponds(t *testing.T) {
	srv, _ := newTestServer(t, config.DefaultConfig(), reservedJan, "")

	status, body := get(t, srv.URL+"/api/calendar")
	require.Equal(t, http.StatusOK, status)

	var resp struct {
		BlockedDates []string `json:"blockedDates"`
		FeedCount    int      `json:"feedCount"`
		FeedStatus   []struct {
			Success bool `json:"success"`
		} `json:"feedStatus"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Len(t, resp.BlockedDates, 5)
	assert.Equal(t, 2, resp.FeedCount)
	require.Len(t, resp.FeedStatus, 2)
	assert.True(t, resp.FeedStatus[0].Success)
	assert.False(t, resp.FeedStatus[1].Success)
}

func TestNoResponseEverContainsFeedSecrets(t *testing.T) {
	cfg := config.DefaultConfig()
	srv, feedURLs := newTestServer(t, cfg, reservedJan, "")

	for _, path := range []string{"/api/calendar", "/api/property", "/health"} {
		_, body := get(t, srv.URL+path)
		assert.NotContains(t, body, feedToken, "path %s leaked the token", path)
		for _, u := range feedURLs {
			assert.NotContains(t, body, u, "path %s leaked a feed URL", path)
		}
	}
}

func TestPropertyEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Property.Name = "Beachside Retreat"
	cfg.Property.MaxGuests = 16
	cfg.FallbackBlockedDates = []string{"2025-12-25"}
	srv, _ := newTestServer(t, cfg, reservedJan)

	status, body := get(t, srv.URL+"/api/property")
	require.Equal(t, http.StatusOK, status)

	var resp struct {
		Property struct {
			Name      string `json:"name"`
			MaxGuests int    `json:"maxGuests"`
		} `json:"property"`
		FallbackBlockedDates []string `json:"fallbackBlockedDates"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "Beachside Retreat", resp.Property.Name)
	assert.Equal(t, 16, resp.Property.MaxGuests)
	assert.Equal(t, []string{"2025-12-25"}, resp.FallbackBlockedDates)
}

func TestRefreshRequiresBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "hunter22"}
	srv, _ := newTestServer(t, cfg, reservedJan)

	resp, err := http.Post(srv.URL+"/api/refresh", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/refresh", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "hunter22")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "flushed"))
}

func TestCalendarRejectsNonGET(t *testing.T) {
	srv, _ := newTestServer(t, config.DefaultConfig(), reservedJan)

	resp, err := http.Post(srv.URL+"/api/calendar", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, config.DefaultConfig())

	status, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
}
