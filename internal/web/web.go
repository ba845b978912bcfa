package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"staycal/internal/availability"
	"staycal/internal/config"
	"staycal/internal/ics"
	appLog "staycal/internal/log"
	"staycal/internal/model"
)

// Server exposes the availability aggregator and the property's static
// marketing content over HTTP.
type Server struct {
	cfg     *config.Config
	agg     *availability.Aggregator
	fetcher *ics.Fetcher
	mux     *http.ServeMux
}

// NewServer constructs a Server and registers its routes.
func NewServer(cfg *config.Config, agg *availability.Aggregator, fetcher *ics.Fetcher) *Server {
	s := &Server{
		cfg:     cfg,
		agg:     agg,
		fetcher: fetcher,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/calendar", s.handleCalendar)
	s.mux.HandleFunc("/api/property", s.handleProperty)
	s.mux.Handle("/api/refresh", s.requireBasicAuth(http.HandlerFunc(s.handleRefresh)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarResponse is the JSON shape consumed by the site's availability
// hook. It must never carry feed URLs or tokens under any code path.
type calendarResponse struct {
	BlockedDates []string           `json:"blockedDates"`
	LastUpdated  string             `json:"lastUpdated"`
	EventCount   int                `json:"eventCount"`
	FeedCount    int                `json:"feedCount"`
	FeedStatus   []model.FeedStatus `json:"feedStatus"`
	Stale        bool               `json:"stale,omitempty"`
}

// handleCalendar runs a full aggregation and returns the merged
// blocked-date list.
//
// GET /api/calendar
//   - 200: calendarResponse
//   - 400: no feed URLs configured anywhere
//   - 500: aggregation-level failure outside the per-feed isolation
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	static := make([]ics.Source, 0, len(s.cfg.Feeds))
	for _, f := range s.cfg.Feeds {
		static = append(static, ics.Source{ID: f.ID, URL: f.URL})
	}

	sources, err := ics.ResolveSources(static)
	if err != nil {
		if errors.Is(err, ics.ErrNoFeeds) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "No iCal URLs configured",
				"hint":  "Set ICAL_URLS (comma-separated) or AIRBNB_ICAL_URL / VRBO_ICAL_URL / BOOKING_ICAL_URL, or add feeds to the config file.",
			})
			return
		}
		writeFailure(w, err)
		return
	}

	result, err := s.agg.Aggregate(r.Context(), sources)
	if err != nil {
		appLog.Error("calendar aggregation failed", err)
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, calendarResponse{
		BlockedDates: result.BlockedDates,
		LastUpdated:  result.LastUpdated.UTC().Format(time.RFC3339),
		EventCount:   result.TotalEventCount,
		FeedCount:    len(sources),
		FeedStatus:   result.FeedStatus,
		Stale:        result.Stale,
	})
}

// propertyResponse bundles the marketing block with the static fallback
// list so the front end has its built-in default without hard-coding it.
type propertyResponse struct {
	Property             config.PropertyConfig `json:"property"`
	FallbackBlockedDates []string              `json:"fallbackBlockedDates"`
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, propertyResponse{
		Property:             s.cfg.Property,
		FallbackBlockedDates: s.cfg.FallbackBlockedDates,
	})
}

// handleRefresh drops the fetch cache so the next aggregation re-fetches
// every feed. Gated by basic auth when configured.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.fetcher.Flush()
	appLog.Info("feed cache flushed via /api/refresh")
	writeJSON(w, http.StatusOK, map[string]bool{"flushed": true})
}

// requireBasicAuth wraps h with HTTP Basic Auth when credentials are
// configured; otherwise h is served as-is.
func (s *Server) requireBasicAuth(h http.Handler) http.Handler {
	auth := s.cfg.BasicAuth
	if auth == nil || auth.Username == "" || auth.Password == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, auth.Username) || !secureCompare(p, auth.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="staycal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure is the 500 shape. The message comes from errors that have
// already been scrubbed of feed URLs.
func writeFailure(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Failed to fetch calendar data",
		"message": err.Error(),
	})
}
