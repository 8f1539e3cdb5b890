// Package treatment holds the patient treatment record: dosage history, samples, targets and covariates.
package treatment

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the dosage node variants.
type Kind int

const (
	KindSingleDose Kind = iota + 1
	KindRepeat
	KindSequence
	KindParallel
	KindLoop
)

func (k Kind) String() string {
	switch k {
	case KindSingleDose:
		return "single_dose"
	case KindRepeat:
		return "repeat"
	case KindSequence:
		return "sequence"
	case KindParallel:
		return "parallel"
	case KindLoop:
		return "loop"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Dosage is a node of a dosage tree. The set of implementations is closed:
// *SingleDose, *Repeat, *Sequence, *Parallel and *Loop.
type Dosage interface {
	Kind() Kind
	dosage()
}

// ScheduleKind tells how a single dose is placed within its cycle.
type ScheduleKind string

const (
	ScheduleLasting ScheduleKind = "lasting"
	ScheduleDaily   ScheduleKind = "daily"
	ScheduleWeekly  ScheduleKind = "weekly"
)

// Schedule places a single dose in time.
type Schedule struct {
	Kind ScheduleKind
	// Interval is the cycle length of a lasting dose.
	Interval time.Duration
	// TimeOfDay is the offset from midnight for daily and weekly doses.
	TimeOfDay time.Duration
	Weekday   time.Weekday
}

// SingleDose is the leaf of a dosage tree.
type SingleDose struct {
	ID                  string
	Value               float64
	Unit                string
	FormulationAndRoute FormulationAndRoute
	Infusion            time.Duration
	Schedule            Schedule
}

// Repeat repeats its child Count times.
type Repeat struct {
	Count  int
	Dosage Dosage
}

// Sequence runs its children one after the other.
type Sequence struct {
	Dosages []Dosage
}

// Parallel runs its children side by side, each shifted by its offset.
type Parallel struct {
	Dosages []Dosage
	Offsets []time.Duration
}

// Loop repeats its child until the enclosing time range ends.
type Loop struct {
	Dosage Dosage
}

func (*SingleDose) Kind() Kind { return KindSingleDose }
func (*Repeat) Kind() Kind     { return KindRepeat }
func (*Sequence) Kind() Kind   { return KindSequence }
func (*Parallel) Kind() Kind   { return KindParallel }
func (*Loop) Kind() Kind       { return KindLoop }

func (*SingleDose) dosage() {}
func (*Repeat) dosage()     {}
func (*Sequence) dosage()   {}
func (*Parallel) dosage()   {}
func (*Loop) dosage()       {}

// Offset returns the start offset of the i-th child.
func (p *Parallel) Offset(i int) time.Duration {
	if i < len(p.Offsets) {
		return p.Offsets[i]
	}
	return 0
}

var (
	ErrUnbounded   = errors.New("dosage has no bounded period")
	ErrEmptyPeriod = errors.New("dosage period is zero")
	ErrUnknownKind = errors.New("unknown dosage kind")
)

// Period returns the length of one cycle of d.
func Period(d Dosage) (time.Duration, error) {
	switch d.Kind() {
	case KindSingleDose:
		sd := d.(*SingleDose)
		switch sd.Schedule.Kind {
		case ScheduleDaily:
			return 24 * time.Hour, nil
		case ScheduleWeekly:
			return 7 * 24 * time.Hour, nil
		default:
			return sd.Schedule.Interval, nil
		}
	case KindRepeat:
		r := d.(*Repeat)
		p, err := Period(r.Dosage)
		if err != nil {
			return 0, err
		}
		return time.Duration(r.Count) * p, nil
	case KindSequence:
		var total time.Duration
		for _, child := range d.(*Sequence).Dosages {
			p, err := Period(child)
			if err != nil {
				return 0, err
			}
			total += p
		}
		return total, nil
	case KindParallel:
		par := d.(*Parallel)
		var longest time.Duration
		for i, child := range par.Dosages {
			p, err := Period(child)
			if err != nil {
				return 0, err
			}
			if end := par.Offset(i) + p; end > longest {
				longest = end
			}
		}
		return longest, nil
	case KindLoop:
		return 0, ErrUnbounded
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownKind, d.Kind())
	}
}
