package availability

import (
	"time"

	"github.com/teambition/rrule-go"

	"staycal/internal/ics"
	appLog "staycal/internal/log"
)

// Timezone is the property's reference timezone. Every day-boundary
// decision uses this zone; it is not configurable because the property's
// locality is fixed (Victoria uses Australia/Melbourne).
const Timezone = "Australia/Melbourne"

// CivilDateFormat is the civil-date label layout. Lexicographic order of
// these strings is date order, which the merge step relies on.
const CivilDateFormat = "2006-01-02"

const defaultMaxOccurrencesPerEvent = 1000

// ExpandOptions controls blocked-date expansion for one feed's events.
type ExpandOptions struct {
	// Location is the reference timezone for day boundaries.
	Location *time.Location

	// RangeStart / RangeEnd bound recurrence expansion. Non-recurring
	// events are always expanded in full, matching how booking feeds
	// report fixed reservations.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway RRULEs. Zero means the default.
	MaxOccurrencesPerEvent int
}

// BlockedDates expands events into the set of blocked civil dates in the
// reference zone.
//
// For each event (or recurrence occurrence) the start instant maps to
// the check-in date and the exclusive end instant to the check-out date;
// the last blocked night is check-out minus one day. An event whose
// adjusted range is empty contributes nothing.
func BlockedDates(events []ics.ParsedEvent, opts ExpandOptions) map[string]struct{} {
	if opts.MaxOccurrencesPerEvent <= 0 {
		opts.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make(map[string]struct{})
	for _, ev := range events {
		if ev.RawRRule == "" {
			addBlockedRange(out, ev.Start, ev.End, opts.Location)
			continue
		}
		expandRecurring(out, ev, opts)
	}
	return out
}

// addBlockedRange adds every civil date from the start instant's date
// through the day before the exclusive end instant's date.
//
// Enumeration is pure civil-date arithmetic: the zone is consulted once
// per boundary instant, then dates advance as UTC-anchored whole days.
// Instant arithmetic would drift across daylight-saving transitions.
func addBlockedRange(out map[string]struct{}, start, end time.Time, loc *time.Location) {
	checkIn := civilDate(start, loc)
	checkOut := civilDate(end, loc)

	blockEnd := checkOut.AddDate(0, 0, -1)
	for d := checkIn; !d.After(blockEnd); d = d.AddDate(0, 0, 1) {
		out[d.Format(CivilDateFormat)] = struct{}{}
	}
}

// civilDate returns the civil date of t in loc, re-anchored to UTC
// midnight so that subsequent day arithmetic is DST-free.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// expandRecurring expands an RRULE-bearing event within the configured
// window, honoring EXDATE, and blocks each occurrence's date range.
func expandRecurring(out map[string]struct{}, ev ics.ParsedEvent, opts ExpandOptions) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("skipping unparsable RRULE", "uid", ev.UID, "rrule", ev.RawRRule)
		return
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := opts.RangeStart.In(ev.Start.Location())
	rangeEnd := opts.RangeEnd.In(ev.Start.Location())
	occurrences := set.Between(rangeStart, rangeEnd, true)

	if len(occurrences) > opts.MaxOccurrencesPerEvent {
		appLog.Warn("recurrence expansion truncated",
			"uid", ev.UID,
			"cap", opts.MaxOccurrencesPerEvent,
			"occurrences", len(occurrences),
		)
		occurrences = occurrences[:opts.MaxOccurrencesPerEvent]
	}

	duration := ev.End.Sub(ev.Start)
	for _, occ := range occurrences {
		addBlockedRange(out, occ, occ.Add(duration), opts.Location)
	}
}
