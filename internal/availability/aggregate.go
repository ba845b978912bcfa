package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"staycal/internal/ics"
	appLog "staycal/internal/log"
	"staycal/internal/model"
)

const defaultMaxConcurrentFeeds = 8

// feedResult is one feed's independent contribution. Failures are
// captured here and never propagate; err stays internal to logging and
// the stale-fallback decision.
type feedResult struct {
	blockedDates map[string]struct{}
	eventCount   int
	err          error
}

// Options configures an Aggregator.
type Options struct {
	// HorizonDays bounds recurrence expansion ahead of now.
	HorizonDays int

	// MaxConcurrentFeeds bounds the fetch fan-out. Zero means default.
	MaxConcurrentFeeds int

	// FallbackBlockedDates is substituted, flagged stale, when every
	// feed fails outright.
	FallbackBlockedDates []string
}

// Aggregator merges one or more iCal feeds into a single blocked-date
// picture. It holds no per-request state; only the fetcher caches.
type Aggregator struct {
	fetcher *ics.Fetcher
	loc     *time.Location
	opts    Options
	now     func() time.Time
}

// New creates an Aggregator. It fails only if the reference timezone is
// missing from the host's zone database.
func New(fetcher *ics.Fetcher, opts Options) (*Aggregator, error) {
	loc, err := time.LoadLocation(Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", Timezone, err)
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 365
	}
	if opts.MaxConcurrentFeeds <= 0 {
		opts.MaxConcurrentFeeds = defaultMaxConcurrentFeeds
	}
	return &Aggregator{
		fetcher: fetcher,
		loc:     loc,
		opts:    opts,
		now:     time.Now,
	}, nil
}

// Aggregate fetches, parses and expands every source concurrently, then
// merges the results.
//
// The join waits for all feeds to settle; a slow or failing feed delays
// but never aborts the rest. Each goroutine writes only its own slot of
// the results slice, so no locking is needed, and the per-feed status
// keeps the original source order regardless of completion order.
func (a *Aggregator) Aggregate(ctx context.Context, sources []ics.Source) (model.AggregateResult, error) {
	results := make([]feedResult, len(sources))

	p := pool.New().WithMaxGoroutines(a.opts.MaxConcurrentFeeds)
	for i, src := range sources {
		i, src := i, src
		p.Go(func() {
			results[i] = a.collectFeed(ctx, src)
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return model.AggregateResult{}, err
	}

	return a.merge(sources, results), nil
}

// collectFeed produces one feed's contribution. Any failure degrades to
// an empty result; the reason is logged locally with the URL redacted.
func (a *Aggregator) collectFeed(ctx context.Context, src ics.Source) feedResult {
	fetched, err := a.fetcher.FetchOne(ctx, src)
	if err != nil {
		appLog.Error("feed fetch failed", err, "id", src.ID)
		return feedResult{err: err}
	}

	events, err := ics.ParseCalendar(src, fetched.Body)
	if err != nil {
		appLog.Error("feed parse failed", err, "id", src.ID)
		return feedResult{err: err}
	}

	now := a.now()
	dates := BlockedDates(events, ExpandOptions{
		Location:   a.loc,
		RangeStart: now.AddDate(0, 0, -1),
		RangeEnd:   now.AddDate(0, 0, a.opts.HorizonDays),
	})

	return feedResult{blockedDates: dates, eventCount: len(events)}
}

// merge unions the per-feed date sets and builds the outward result.
func (a *Aggregator) merge(sources []ics.Source, results []feedResult) model.AggregateResult {
	union := make(map[string]struct{})
	status := make([]model.FeedStatus, 0, len(sources))
	totalEvents := 0
	failed := 0

	for i, res := range results {
		for d := range res.blockedDates {
			union[d] = struct{}{}
		}
		totalEvents += res.eventCount
		if res.err != nil {
			failed++
		}
		// A feed with zero events is indistinguishable from "no bookings
		// on this platform", so success tracks whether anything came back.
		status = append(status, model.FeedStatus{
			Source:     sources[i].ID,
			Success:    res.eventCount > 0 || len(res.blockedDates) > 0,
			EventCount: res.eventCount,
		})
	}

	out := model.AggregateResult{
		BlockedDates:    sortedDates(union),
		LastUpdated:     a.now(),
		TotalEventCount: totalEvents,
		FeedStatus:      status,
	}

	if len(sources) > 0 && failed == len(sources) && len(a.opts.FallbackBlockedDates) > 0 {
		appLog.Warn("all feeds failed; serving fallback blocked dates", "feeds", len(sources))
		fallback := make(map[string]struct{}, len(a.opts.FallbackBlockedDates))
		for _, d := range a.opts.FallbackBlockedDates {
			fallback[d] = struct{}{}
		}
		out.BlockedDates = sortedDates(fallback)
		out.Stale = true
	}

	return out
}

// sortedDates flattens a date set into an ascending list. Lexicographic
// order of YYYY-MM-DD strings is date order, so no re-parsing happens.
func sortedDates(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
