// Package holiday loads holiday regions from ICS files. A region file is a
// calendar of (usually all-day) VEVENTs, one per holiday; multi-day events
// mark every day they span.
package holiday

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "alarmd/internal/log"
)

// Region is a set of holiday dates. A nil *Region is valid and contains no
// holidays.
type Region struct {
	Name string

	// days maps yyyy-mm-dd to the holiday's summary.
	days map[string]string
}

// LoadRegion reads and parses a region from an ICS file on disk. The region
// name is derived from the calendar's X-WR-CALNAME when present, otherwise
// from the file name.
func LoadRegion(path string) (*Region, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".ics"), ".ICS")
	return ParseRegion(name, body)
}

// ParseRegion parses an ICS payload into a Region.
func ParseRegion(name string, body []byte) (*Region, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("holiday ics parse failed", err, "region", name)
		return nil, err
	}

	if props := cal.CalendarProperties; props != nil {
		for _, p := range props {
			if p.IANAToken == "X-WR-CALNAME" && p.Value != "" {
				name = p.Value
			}
		}
	}

	region := &Region{
		Name: name,
		days: make(map[string]string),
	}

	for _, ve := range cal.Events() {
		start, end, summary, err := parseHolidayEvent(ve)
		if err != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("holiday vevent parse failed", err, "region", name)
			continue
		}
		for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
			region.days[d.Format("2006-01-02")] = summary
		}
	}

	appLog.Info("holiday region loaded", "region", region.Name, "day_count", len(region.days))
	return region, nil
}

func parseHolidayEvent(ve *ical.VEvent) (start, end time.Time, summary string, err error) {
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return start, end, summary, errors.New("missing DTSTART")
	}
	start, err = parseICSDate(dtStart.Value)
	if err != nil {
		return start, end, summary, err
	}

	// DTEND is exclusive per RFC 5545; a missing DTEND means a single day.
	end = start.AddDate(0, 0, 1)
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		if e, perr := parseICSDate(dtEnd.Value); perr == nil && e.After(start) {
			end = e
		}
	}
	return start, end, summary, nil
}

// parseICSDate parses a basic ICS DATE or DATE-TIME value and truncates it
// to its calendar day.
func parseICSDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	var (
		t   time.Time
		err error
	)
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err = time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		t, err = time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		t, err = time.ParseInLocation("20060102", v, time.Local)
	}
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// IsHoliday reports whether the calendar day containing t is a holiday.
func (r *Region) IsHoliday(t time.Time) bool {
	if r == nil {
		return false
	}
	_, ok := r.days[t.Format("2006-01-02")]
	return ok
}

// HolidayName returns the summary of the holiday on the given day, if any.
func (r *Region) HolidayName(t time.Time) (string, bool) {
	if r == nil {
		return "", false
	}
	name, ok := r.days[t.Format("2006-01-02")]
	return name, ok
}

// Len returns the number of marked holiday days.
func (r *Region) Len() int {
	if r == nil {
		return 0
	}
	return len(r.days)
}
