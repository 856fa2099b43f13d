package appointment

import "time"

const dateOnly = "2006-01-02"

// TimeWindow is a time-of-day window in "HH:MM" bounds, inclusive. A window
// with From later than To wraps past midnight: 22:00-06:00 accepts 23:30 and
// 05:00 and rejects 12:00.
type TimeWindow struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (w TimeWindow) isZero() bool { return w.From == "" && w.To == "" }

func parseMinutes(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// Contains reports whether the clock time of t falls inside the window. A
// malformed window matches everything; a bad filter must not hide slots.
func (w TimeWindow) Contains(t time.Time) bool {
	from, okF := parseMinutes(w.From)
	to, okT := parseMinutes(w.To)
	if !okF || !okT {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	if from <= to {
		return m >= from && m <= to
	}
	// wraps midnight: from..24:00 plus 00:00..to
	return m >= from || m <= to
}

// Filters are the caller-configured preference predicates. All of them fail
// open: a record whose timestamp cannot be parsed is kept.
type Filters struct {
	StartDate      string                      `json:"start_date,omitempty"` // YYYY-MM-DD, inclusive
	EndDate        string                      `json:"end_date,omitempty"`   // YYYY-MM-DD, inclusive
	Weekdays       []time.Weekday              `json:"weekdays,omitempty"`
	Window         TimeWindow                  `json:"window,omitempty"`
	DayWindows     map[time.Weekday]TimeWindow `json:"day_windows,omitempty"`
	ExcludedDates  []string                    `json:"excluded_dates,omitempty"` // YYYY-MM-DD
	MinLeadMinutes int                         `json:"min_lead_minutes,omitempty"`
}

// InDateRange applies the start/end date predicate as its own earlier-stage
// pass. Bounds are YYYY-MM-DD strings; an empty or malformed bound is open.
func InDateRange(in []Appointment, startDate, endDate string) []Appointment {
	okS := validDay(startDate)
	okE := validDay(endDate)
	if !okS && !okE {
		return in
	}
	out := make([]Appointment, 0, len(in))
	for _, a := range in {
		t, ok := a.Start()
		if !ok {
			out = append(out, a) // fail open
			continue
		}
		// YYYY-MM-DD compares correctly as a string and sidesteps zones.
		day := t.Format(dateOnly)
		if okS && day < startDate {
			continue
		}
		if okE && day > endDate {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Apply runs the full preference pipeline over in: date range, exclusions,
// weekday set, time-of-day window (per-weekday window wins over the global
// one), minimum lead time. Idempotent: filtering an already filtered list
// with the same Filters yields the same list.
func (f Filters) Apply(in []Appointment, now time.Time) []Appointment {
	in = InDateRange(in, f.StartDate, f.EndDate)

	excluded := make(map[string]struct{}, len(f.ExcludedDates))
	for _, d := range f.ExcludedDates {
		excluded[d] = struct{}{}
	}
	allowedDays := make(map[time.Weekday]struct{}, len(f.Weekdays))
	for _, wd := range f.Weekdays {
		allowedDays[wd] = struct{}{}
	}
	minStart := time.Time{}
	if f.MinLeadMinutes > 0 {
		minStart = now.Add(time.Duration(f.MinLeadMinutes) * time.Minute)
	}

	out := make([]Appointment, 0, len(in))
	for _, a := range in {
		t, ok := a.Start()
		if !ok {
			out = append(out, a)
			continue
		}
		if _, skip := excluded[t.Format(dateOnly)]; skip {
			continue
		}
		if len(allowedDays) > 0 {
			if _, ok := allowedDays[t.Weekday()]; !ok {
				continue
			}
		}
		if w, ok := f.windowFor(t.Weekday()); ok && !w.Contains(t) {
			continue
		}
		if !minStart.IsZero() && t.Before(minStart) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// windowFor prefers a per-weekday window over the global one.
func (f Filters) windowFor(wd time.Weekday) (TimeWindow, bool) {
	if w, ok := f.DayWindows[wd]; ok && !w.isZero() {
		return w, true
	}
	if !f.Window.isZero() {
		return f.Window, true
	}
	return TimeWindow{}, false
}

func validDay(s string) bool {
	if s == "" {
		return false
	}
	_, err := time.Parse(dateOnly, s)
	return err == nil
}
