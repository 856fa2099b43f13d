// Package appointment holds the upstream appointment record and the pure
// filtering/pairing logic applied to search results. Nothing here performs
// I/O; the API client produces Appointments and the executor consumes them.
package appointment

import "time"

// Ref identifies an upstream resource (doctor, clinic, specialty) by id.
type Ref struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// Appointment is one bookable slot as returned by the search endpoint.
// Read-only: the pipeline never mutates records, it only drops them.
type Appointment struct {
	AppointmentID int64  `json:"appointmentId"`
	BookingString string `json:"bookingString"`
	// Date is the slot timestamp as the API serialized it. Kept as a string
	// so an unparseable value can flow through the fail-open filters.
	Date          string `json:"appointmentDate"`
	Specialty     Ref    `json:"specialty"`
	Doctor        Ref    `json:"doctor"`
	Clinic        Ref    `json:"clinic"`
	VisitType     string `json:"visitType,omitempty"`
	IsOverbooking bool   `json:"isOverbooking,omitempty"`
}

// The upstream sends local timestamps without a zone; some deployments have
// been seen with an offset suffix.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Start parses the slot timestamp. ok is false when the value is missing or
// unparseable; filters keep such records rather than hiding a bookable slot.
func (a Appointment) Start() (time.Time, bool) {
	if a.Date == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, a.Date, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
