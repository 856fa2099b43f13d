package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twinSlot(id int64, date string, doctor, clinic int64) Appointment {
	return Appointment{
		AppointmentID: id,
		Date:          date,
		Doctor:        Ref{ID: doctor, Name: "dr"},
		Clinic:        Ref{ID: clinic, Name: "clinic"},
	}
}

func TestTwinPairsConsecutiveSlots(t *testing.T) {
	// four slots 15 minutes apart, same doctor and clinic
	in := []Appointment{
		twinSlot(1, "2026-09-07T09:00:00", 7, 100),
		twinSlot(2, "2026-09-07T09:15:00", 7, 100),
		twinSlot(3, "2026-09-07T09:30:00", 7, 100),
		twinSlot(4, "2026-09-07T09:45:00", 7, 100),
	}

	pairs := TwinPairs(in, MinTwinGap, MaxTwinGap, 0)
	require.Len(t, pairs, 3)
	assert.Equal(t, int64(1), pairs[0].First.AppointmentID)
	assert.Equal(t, int64(2), pairs[0].Second.AppointmentID)
	assert.Equal(t, int64(2), pairs[1].First.AppointmentID)
	assert.Equal(t, int64(3), pairs[1].Second.AppointmentID)
	assert.Equal(t, int64(3), pairs[2].First.AppointmentID)
	assert.Equal(t, int64(4), pairs[2].Second.AppointmentID)
}

func TestTwinPairsGapBounds(t *testing.T) {
	in := []Appointment{
		twinSlot(1, "2026-09-07T09:00:00", 7, 100),
		twinSlot(2, "2026-09-07T09:05:00", 7, 100), // too close to 1
		twinSlot(3, "2026-09-07T09:20:00", 7, 100), // 15m after 2
		twinSlot(4, "2026-09-07T10:00:00", 7, 100), // too far from 3
	}

	pairs := TwinPairs(in, MinTwinGap, MaxTwinGap, 0)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(2), pairs[0].First.AppointmentID)
	assert.Equal(t, int64(3), pairs[0].Second.AppointmentID)
}

func TestTwinPairsNeverCrossDoctorOrClinic(t *testing.T) {
	in := []Appointment{
		twinSlot(1, "2026-09-07T09:00:00", 7, 100),
		twinSlot(2, "2026-09-07T09:15:00", 8, 100), // other doctor
		twinSlot(3, "2026-09-07T09:15:00", 7, 200), // other clinic
	}
	assert.Empty(t, TwinPairs(in, MinTwinGap, MaxTwinGap, 0))
}

func TestTwinPairsSortsWithinGroup(t *testing.T) {
	in := []Appointment{
		twinSlot(2, "2026-09-07T09:15:00", 7, 100),
		twinSlot(1, "2026-09-07T09:00:00", 7, 100),
	}
	pairs := TwinPairs(in, MinTwinGap, MaxTwinGap, 0)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(1), pairs[0].First.AppointmentID)
	assert.Equal(t, int64(2), pairs[0].Second.AppointmentID)
}

func TestTwinPairsLimit(t *testing.T) {
	var in []Appointment
	base := time.Date(2026, 9, 7, 9, 0, 0, 0, time.Local)
	for i := 0; i < 8; i++ {
		in = append(in, twinSlot(int64(i+1), base.Add(time.Duration(i)*15*time.Minute).Format("2006-01-02T15:04:05"), 7, 100))
	}
	assert.Len(t, TwinPairs(in, MinTwinGap, MaxTwinGap, 3), 3)
}

func TestTwinPairsSkipsUnparseable(t *testing.T) {
	in := []Appointment{
		twinSlot(1, "2026-09-07T09:00:00", 7, 100),
		twinSlot(2, "sometime", 7, 100),
	}
	assert.Empty(t, TwinPairs(in, MinTwinGap, MaxTwinGap, 0))
}
