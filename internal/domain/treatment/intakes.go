package treatment

import (
	"fmt"
	"sort"
	"time"
)

// Intake is one scheduled administration.
type Intake struct {
	Time time.Time
	Dose *SingleDose
}

// Intakes expands the dosage of r into scheduled intakes, sorted by time.
// Intakes at or after the range end are excluded. until caps open-ended ranges
// and may be zero for closed ones.
func Intakes(r TimeRange, until time.Time) ([]Intake, error) {
	if r.Dosage == nil {
		return nil, nil
	}
	limit := r.End
	if limit.IsZero() || (!until.IsZero() && until.Before(limit)) {
		limit = until
	}
	if limit.IsZero() {
		return nil, fmt.Errorf("expand open-ended range starting %s: %w", r.Start.Format(time.RFC3339), ErrUnbounded)
	}

	var out []Intake
	if _, err := expand(r.Dosage, r.Start, limit, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// expand appends the intakes of one cycle of d starting at start and returns
// the time at which the cycle ends.
func expand(d Dosage, start, limit time.Time, out *[]Intake) (time.Time, error) {
	switch d.Kind() {
	case KindSingleDose:
		sd := d.(*SingleDose)
		period, err := Period(sd)
		if err != nil {
			return start, err
		}
		if t := intakeTime(sd, start); t.Before(limit) {
			*out = append(*out, Intake{Time: t, Dose: sd})
		}
		return start.Add(period), nil

	case KindRepeat:
		r := d.(*Repeat)
		cur := start
		for i := 0; i < r.Count && cur.Before(limit); i++ {
			next, err := expand(r.Dosage, cur, limit, out)
			if err != nil {
				return cur, err
			}
			cur = next
		}
		return cur, nil

	case KindSequence:
		cur := start
		for _, child := range d.(*Sequence).Dosages {
			if !cur.Before(limit) {
				break
			}
			next, err := expand(child, cur, limit, out)
			if err != nil {
				return cur, err
			}
			cur = next
		}
		return cur, nil

	case KindParallel:
		par := d.(*Parallel)
		end := start
		for i, child := range par.Dosages {
			childEnd, err := expand(child, start.Add(par.Offset(i)), limit, out)
			if err != nil {
				return start, err
			}
			if childEnd.After(end) {
				end = childEnd
			}
		}
		return end, nil

	case KindLoop:
		loop := d.(*Loop)
		cur := start
		for cur.Before(limit) {
			next, err := expand(loop.Dosage, cur, limit, out)
			if err != nil {
				return cur, err
			}
			if !next.After(cur) {
				return cur, ErrEmptyPeriod
			}
			cur = next
		}
		return cur, nil

	default:
		return start, fmt.Errorf("%w: %v", ErrUnknownKind, d.Kind())
	}
}

func intakeTime(sd *SingleDose, cycleStart time.Time) time.Time {
	switch sd.Schedule.Kind {
	case ScheduleDaily:
		t := midnight(cycleStart).Add(sd.Schedule.TimeOfDay)
		if t.Before(cycleStart) {
			t = t.AddDate(0, 0, 1)
		}
		return t
	case ScheduleWeekly:
		day := midnight(cycleStart)
		shift := (int(sd.Schedule.Weekday) - int(day.Weekday()) + 7) % 7
		t := day.AddDate(0, 0, shift).Add(sd.Schedule.TimeOfDay)
		if t.Before(cycleStart) {
			t = t.AddDate(0, 0, 7)
		}
		return t
	default:
		return cycleStart
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
