package treatment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func lasting(interval time.Duration) *SingleDose {
	return &SingleDose{
		Value:    400,
		Unit:     "mg",
		Schedule: Schedule{Kind: ScheduleLasting, Interval: interval},
	}
}

func TestIntakes_LoopOfLastingDose(t *testing.T) {
	r := TimeRange{
		Start:  at("2022-06-19T08:00:00"),
		End:    at("2022-06-21T08:00:00"),
		Dosage: &Loop{Dosage: lasting(12 * time.Hour)},
	}

	intakes, err := Intakes(r, time.Time{})
	require.NoError(t, err)
	require.Len(t, intakes, 4)
	assert.Equal(t, at("2022-06-19T08:00:00"), intakes[0].Time)
	assert.Equal(t, at("2022-06-20T20:00:00"), intakes[3].Time)
}

func TestIntakes_DailyDoseShiftsToNextDay(t *testing.T) {
	daily := &SingleDose{Schedule: Schedule{Kind: ScheduleDaily, TimeOfDay: 6 * time.Hour}}
	r := TimeRange{
		Start:  at("2022-06-19T08:00:00"),
		End:    at("2022-06-22T00:00:00"),
		Dosage: &Loop{Dosage: daily},
	}

	intakes, err := Intakes(r, time.Time{})
	require.NoError(t, err)
	require.Len(t, intakes, 2)
	assert.Equal(t, at("2022-06-20T06:00:00"), intakes[0].Time)
	assert.Equal(t, at("2022-06-21T06:00:00"), intakes[1].Time)
}

func TestIntakes_WeeklyDose(t *testing.T) {
	// 2022-06-20 is a Monday.
	weekly := &SingleDose{Schedule: Schedule{Kind: ScheduleWeekly, Weekday: time.Wednesday, TimeOfDay: 9 * time.Hour}}
	r := TimeRange{
		Start:  at("2022-06-20T00:00:00"),
		End:    at("2022-07-04T00:00:00"),
		Dosage: &Loop{Dosage: weekly},
	}

	intakes, err := Intakes(r, time.Time{})
	require.NoError(t, err)
	require.Len(t, intakes, 2)
	assert.Equal(t, at("2022-06-22T09:00:00"), intakes[0].Time)
	assert.Equal(t, at("2022-06-29T09:00:00"), intakes[1].Time)
}

func TestIntakes_RepeatSequenceAndParallel(t *testing.T) {
	loading := lasting(6 * time.Hour)
	maintenance := lasting(12 * time.Hour)
	r := TimeRange{
		Start: at("2022-06-19T00:00:00"),
		End:   at("2022-06-20T12:00:00"),
		Dosage: &Sequence{Dosages: []Dosage{
			&Repeat{Count: 2, Dosage: loading},
			&Parallel{
				Dosages: []Dosage{maintenance, lasting(24 * time.Hour)},
				Offsets: []time.Duration{0, 2 * time.Hour},
			},
		}},
	}

	intakes, err := Intakes(r, time.Time{})
	require.NoError(t, err)

	var times []time.Time
	for _, in := range intakes {
		times = append(times, in.Time)
	}
	assert.Equal(t, []time.Time{
		at("2022-06-19T00:00:00"),
		at("2022-06-19T06:00:00"),
		at("2022-06-19T12:00:00"),
		at("2022-06-19T14:00:00"),
	}, times)
}

func TestIntakes_OpenEndedRangeNeedsCap(t *testing.T) {
	r := TimeRange{Start: at("2022-06-19T08:00:00"), Dosage: &Loop{Dosage: lasting(24 * time.Hour)}}

	_, err := Intakes(r, time.Time{})
	assert.ErrorIs(t, err, ErrUnbounded)

	intakes, err := Intakes(r, at("2022-06-21T08:00:00"))
	require.NoError(t, err)
	assert.Len(t, intakes, 2)
}

func TestIntakes_ZeroPeriodLoop(t *testing.T) {
	r := TimeRange{
		Start:  at("2022-06-19T08:00:00"),
		End:    at("2022-06-21T08:00:00"),
		Dosage: &Loop{Dosage: lasting(0)},
	}
	_, err := Intakes(r, time.Time{})
	assert.ErrorIs(t, err, ErrEmptyPeriod)
}

func TestDosageHistory_OldestLatest(t *testing.T) {
	h := DosageHistory{
		{Start: at("2022-06-10T08:00:00"), End: at("2022-06-12T08:00:00")},
		{Start: at("2022-06-01T08:00:00"), End: at("2022-06-05T08:00:00")},
		{Start: at("2022-06-12T08:00:00"), End: at("2022-06-15T08:00:00")},
	}

	oldest, ok := h.Oldest()
	require.True(t, ok)
	assert.Equal(t, at("2022-06-01T08:00:00"), oldest.Start)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, at("2022-06-15T08:00:00"), latest.End)

	assert.False(t, h.AllStartAfter(at("2022-06-11T00:00:00")))
	assert.True(t, h.AllStartAfter(at("2022-05-01T00:00:00")))
}

func TestDosageHistory_SingleDoses(t *testing.T) {
	a, b, c := lasting(time.Hour), lasting(2*time.Hour), lasting(3*time.Hour)
	h := DosageHistory{
		{Dosage: &Loop{Dosage: a}},
		{Dosage: &Sequence{Dosages: []Dosage{&Repeat{Count: 3, Dosage: b}, &Parallel{Dosages: []Dosage{c}}}}},
	}
	assert.Equal(t, []*SingleDose{a, b, c}, h.SingleDoses())
}
