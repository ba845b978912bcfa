package model

import "time"

// FeedStatus is the outward-facing summary for one calendar feed. It
// carries the opaque source label only; the feed URL embeds a provider
// token and must never appear here.
type FeedStatus struct {
	Source     string `json:"source"`
	Success    bool   `json:"success"`
	EventCount int    `json:"eventCount"`
}

// AggregateResult is the merged availability picture across all feeds.
// This is the only value that crosses the system boundary.
type AggregateResult struct {
	// BlockedDates is the deduplicated union of every feed's blocked
	// civil dates, as YYYY-MM-DD strings sorted ascending.
	BlockedDates []string

	// LastUpdated is the wall-clock completion time of the aggregation.
	LastUpdated time.Time

	// TotalEventCount sums the VEVENT counts of all feeds.
	TotalEventCount int

	// FeedStatus has one entry per configured feed, in configuration
	// order, regardless of fetch completion order.
	FeedStatus []FeedStatus

	// Stale is set when every feed failed outright and BlockedDates was
	// substituted with the configured fallback list.
	Stale bool
}
