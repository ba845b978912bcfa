package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "staycal/internal/log"
)

// ParsedEvent is one VEVENT normalized for availability expansion.
// End is exclusive per iCal convention: it marks the first unoccupied
// instant, not the last occupied one.
type ParsedEvent struct {
	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	// RawRRule and ExDates describe recurring blocks; expansion happens
	// in internal/availability.
	RawRRule string
	ExDates  []time.Time
}

// ParseCalendar parses a single iCal payload into its VEVENTs.
//
// A malformed document or empty body is an error (the caller degrades
// that feed to an empty contribution). A single malformed VEVENT is
// logged and skipped so the rest of the feed still counts.
func ParseCalendar(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ics body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "url", redactURL(src.URL), "reason", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	out.AllDay = isAllDay(ve.GetProperty(ical.ComponentPropertyDtStart))

	start, err := eventTime(ve, ical.ComponentPropertyDtStart, out.AllDay)
	if err != nil {
		return out, err
	}
	out.Start = start

	end, err := eventTime(ve, ical.ComponentPropertyDtEnd, out.AllDay)
	if err != nil {
		// DTEND is optional; RFC 5545 gives a date-only event a one-day
		// span and a timed event zero duration.
		if out.AllDay {
			end = start.AddDate(0, 0, 1)
		} else {
			end = start
		}
	}
	out.End = end

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := ""
		if vs, ok := p.ICalParameters["TZID"]; ok && len(vs) > 0 {
			tzid = vs[0]
		}
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, tzid); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// isAllDay reports whether DTSTART is a date-only value, either via the
// explicit VALUE=DATE parameter or the bare YYYYMMDD form.
func isAllDay(dtStart *ical.IANAProperty) bool {
	if dtStart == nil {
		return false
	}
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(dtStart.Value, "T")
}

// eventTime resolves DTSTART/DTEND to an absolute instant.
//
// Date-only values are parsed here rather than through the library
// helpers, anchored to UTC midnight: the server's local timezone must
// never influence which civil date an all-day boundary lands on.
func eventTime(ve *ical.VEvent, prop ical.ComponentProperty, allDay bool) (time.Time, error) {
	p := ve.GetProperty(prop)
	if p == nil || p.Value == "" {
		return time.Time{}, errors.New(string(prop) + " missing")
	}

	if allDay {
		return time.ParseInLocation("20060102", strings.TrimSuffix(p.Value, "Z"), time.UTC)
	}

	switch prop {
	case ical.ComponentPropertyDtStart:
		return ve.GetStartAt()
	case ical.ComponentPropertyDtEnd:
		return ve.GetEndAt()
	}
	return time.Time{}, errors.New("unsupported time property")
}

// parseICSTime parses a basic iCal date or date-time string, as found
// in EXDATE values. A naive value is interpreted in the property's TZID
// when one is given; otherwise it is anchored to UTC so expansion never
// depends on the server's local zone. An unknown TZID also falls back
// to UTC.
func parseICSTime(v, tzid string) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := time.UTC
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
