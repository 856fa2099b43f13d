package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slot(date string) Appointment {
	return Appointment{AppointmentID: 1, Date: date}
}

func days(in []Appointment) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, a.Date)
	}
	return out
}

func TestInDateRange(t *testing.T) {
	in := []Appointment{
		slot("2026-09-01T08:00:00"),
		slot("2026-09-10T08:00:00"),
		slot("2026-09-20T08:00:00"),
	}

	t.Run("inclusive bounds", func(t *testing.T) {
		out := InDateRange(in, "2026-09-01", "2026-09-10")
		assert.Equal(t, []string{"2026-09-01T08:00:00", "2026-09-10T08:00:00"}, days(out))
	})

	t.Run("open start", func(t *testing.T) {
		out := InDateRange(in, "", "2026-09-05")
		assert.Equal(t, []string{"2026-09-01T08:00:00"}, days(out))
	})

	t.Run("open end", func(t *testing.T) {
		out := InDateRange(in, "2026-09-15", "")
		assert.Equal(t, []string{"2026-09-20T08:00:00"}, days(out))
	})

	t.Run("no bounds returns input", func(t *testing.T) {
		assert.Equal(t, in, InDateRange(in, "", ""))
	})

	t.Run("malformed bound is open", func(t *testing.T) {
		out := InDateRange(in, "not-a-date", "2026-09-05")
		assert.Equal(t, []string{"2026-09-01T08:00:00"}, days(out))
	})

	t.Run("unparseable record kept", func(t *testing.T) {
		weird := []Appointment{slot("someday soon")}
		out := InDateRange(weird, "2026-09-01", "2026-09-02")
		assert.Len(t, out, 1)
	})
}

func TestTimeWindowContains(t *testing.T) {
	at := func(hhmm string) time.Time {
		tm, err := time.ParseInLocation("2006-01-02 15:04", "2026-09-07 "+hhmm, time.Local)
		require.NoError(t, err)
		return tm
	}

	t.Run("plain window inclusive", func(t *testing.T) {
		w := TimeWindow{From: "08:00", To: "12:00"}
		assert.True(t, w.Contains(at("08:00")))
		assert.True(t, w.Contains(at("12:00")))
		assert.False(t, w.Contains(at("12:01")))
		assert.False(t, w.Contains(at("07:59")))
	})

	t.Run("wraps midnight", func(t *testing.T) {
		w := TimeWindow{From: "22:00", To: "06:00"}
		assert.True(t, w.Contains(at("23:30")))
		assert.True(t, w.Contains(at("05:00")))
		assert.False(t, w.Contains(at("12:00")))
	})

	t.Run("malformed window matches everything", func(t *testing.T) {
		w := TimeWindow{From: "whenever", To: "12:00"}
		assert.True(t, w.Contains(at("23:59")))
	})
}

func TestFiltersApply(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.Local)
	in := []Appointment{
		slot("2026-09-07T09:00:00"), // Monday morning
		slot("2026-09-07T15:00:00"), // Monday afternoon
		slot("2026-09-08T09:00:00"), // Tuesday morning
		slot("2026-09-12T09:00:00"), // Saturday morning
	}

	t.Run("weekday set", func(t *testing.T) {
		f := Filters{Weekdays: []time.Weekday{time.Monday}}
		out := f.Apply(in, now)
		assert.Equal(t, []string{"2026-09-07T09:00:00", "2026-09-07T15:00:00"}, days(out))
	})

	t.Run("global window", func(t *testing.T) {
		f := Filters{Window: TimeWindow{From: "08:00", To: "12:00"}}
		out := f.Apply(in, now)
		assert.Equal(t, []string{"2026-09-07T09:00:00", "2026-09-08T09:00:00", "2026-09-12T09:00:00"}, days(out))
	})

	t.Run("per-day window wins over global", func(t *testing.T) {
		f := Filters{
			Window:     TimeWindow{From: "08:00", To: "12:00"},
			DayWindows: map[time.Weekday]TimeWindow{time.Monday: {From: "14:00", To: "18:00"}},
		}
		out := f.Apply(in, now)
		// Monday uses the afternoon window, other days keep the morning one
		assert.Equal(t, []string{"2026-09-07T15:00:00", "2026-09-08T09:00:00", "2026-09-12T09:00:00"}, days(out))
	})

	t.Run("excluded dates", func(t *testing.T) {
		f := Filters{ExcludedDates: []string{"2026-09-07"}}
		out := f.Apply(in, now)
		assert.Equal(t, []string{"2026-09-08T09:00:00", "2026-09-12T09:00:00"}, days(out))
	})

	t.Run("minimum lead time", func(t *testing.T) {
		soon := []Appointment{
			slot("2026-09-01T12:30:00"),
			slot("2026-09-01T14:00:00"),
		}
		f := Filters{MinLeadMinutes: 60}
		out := f.Apply(soon, now)
		assert.Equal(t, []string{"2026-09-01T14:00:00"}, days(out))
	})

	t.Run("unparseable record survives every stage", func(t *testing.T) {
		f := Filters{
			StartDate:      "2026-09-01",
			EndDate:        "2026-09-30",
			Weekdays:       []time.Weekday{time.Monday},
			Window:         TimeWindow{From: "08:00", To: "12:00"},
			MinLeadMinutes: 60,
		}
		out := f.Apply([]Appointment{slot("tbd")}, now)
		assert.Len(t, out, 1)
	})

	t.Run("idempotent", func(t *testing.T) {
		f := Filters{
			StartDate: "2026-09-01",
			EndDate:   "2026-09-10",
			Weekdays:  []time.Weekday{time.Monday, time.Tuesday},
			Window:    TimeWindow{From: "08:00", To: "12:00"},
		}
		once := f.Apply(in, now)
		twice := f.Apply(once, now)
		assert.Equal(t, once, twice)
	})
}
