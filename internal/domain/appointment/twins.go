package appointment

import (
	"fmt"
	"sort"
	"time"
)

// Pair is two time-adjacent slots with the same doctor at the same clinic,
// meant to be booked by two different profiles back to back.
type Pair struct {
	First  Appointment `json:"first"`
	Second Appointment `json:"second"`
}

// Gap between the pair's slots accepted by TwinPairs.
const (
	MinTwinGap = 10 * time.Minute
	MaxTwinGap = 20 * time.Minute
)

// TwinPairs groups results by (doctor, clinic), sorts each group by time and
// pairs consecutive entries whose delta falls within [minGap, maxGap]. It
// returns at most limit pairs; limit <= 0 means all. Slots without a
// parseable timestamp cannot be paired and are ignored here — pairing needs
// real deltas, unlike the keep-on-doubt filters.
func TwinPairs(in []Appointment, minGap, maxGap time.Duration, limit int) []Pair {
	type timed struct {
		a Appointment
		t time.Time
	}
	groups := make(map[string][]timed)
	var order []string
	for _, a := range in {
		t, ok := a.Start()
		if !ok {
			continue
		}
		key := fmt.Sprintf("%d/%d", a.Doctor.ID, a.Clinic.ID)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], timed{a: a, t: t})
	}

	var pairs []Pair
	for _, key := range order {
		g := groups[key]
		sort.Slice(g, func(i, j int) bool { return g[i].t.Before(g[j].t) })
		for i := 0; i+1 < len(g); i++ {
			delta := g[i+1].t.Sub(g[i].t)
			if delta < minGap || delta > maxGap {
				continue
			}
			pairs = append(pairs, Pair{First: g[i].a, Second: g[i+1].a})
			if limit > 0 && len(pairs) >= limit {
				return pairs
			}
		}
	}
	return pairs
}
