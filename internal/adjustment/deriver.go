package adjustment

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/validation"
)

// ErrTreatmentOver is wrapped when a standard treatment ends before the adjustment time.
var ErrTreatmentOver = errors.New("treatment is already over")

const (
	// DefaultHorizon caps the expansion of open-ended dosage ranges.
	DefaultHorizon = 7 * 24 * time.Hour

	windowLead   = time.Hour
	windowLength = 7 * 24 * time.Hour
)

// Clock provides the reference time of a derivation.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// Deriver builds adjustment traits.
type Deriver struct {
	clock   Clock
	horizon time.Duration
	logger  *zap.Logger
}

// NewDeriver creates a deriver reading its reference time from clock.
func NewDeriver(clock Clock, logger *zap.Logger) *Deriver {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deriver{clock: clock, horizon: DefaultHorizon, logger: logger}
}

// Derive computes the adjustment trait of req for treatment t and drug model m.
func (d *Deriver) Derive(t *treatment.Treatment, m *drugmodel.DrugModel, req Request) (*Trait, error) {
	if t == nil {
		return nil, validation.ErrNoTreatment
	}
	if m == nil {
		return nil, validation.ErrNoDrugModel
	}

	now := d.clock.Now()

	prediction := Aposteriori
	if t.History.IsEmpty() || len(t.Samples) == 0 {
		prediction = Apriori
	}

	adjTime := req.AdjustmentTime
	if adjTime.IsZero() {
		var err error
		adjTime, err = d.adjustmentTime(t.History, m, now)
		if err != nil {
			return nil, err
		}
	}

	var start, end time.Time
	if m.HasStandardTreatment() {
		start = now
		if oldest, ok := t.History.Oldest(); ok {
			start = oldest.Start
		}
		end = start.Add(m.StandardTreatment.Duration)
		if end.Before(adjTime) {
			return nil, validation.Errorf(validation.KindValidation, ErrTreatmentOver,
				"Based on the standard treatment of drug model %s, the treatment is already over.", m.ID)
		}
	} else {
		start = adjTime.Add(-windowLead)
		end = start.Add(windowLength)
	}

	d.logger.Debug("adjustment trait derived",
		zap.String("request_id", req.ID),
		zap.String("drug_model_id", m.ID),
		zap.Time("adjustment_time", adjTime),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	return &Trait{
		RequestID:      req.ID,
		DrugModelID:    m.ID,
		PredictionType: prediction,
		AdjustmentTime: adjTime,
		Start:          start,
		End:            end,
		PointsPerHour:  PointsPerHour,
		Computing:      DefaultComputingOptions(),
		Options:        ResolveOptions(req, m),
	}, nil
}

func (d *Deriver) adjustmentTime(h treatment.DosageHistory, m *drugmodel.DrugModel, now time.Time) (time.Time, error) {
	if h.IsEmpty() || h.AllStartAfter(now) {
		return now.Add(time.Hour), nil
	}

	for _, r := range h {
		if !r.Contains(now) {
			continue
		}
		intakes, err := treatment.Intakes(r, now.Add(d.horizon))
		if err != nil {
			return time.Time{}, validation.Errorf(validation.KindValidation, err, "cannot expand dosage history: %v", err)
		}
		for _, in := range intakes {
			if !in.Time.Before(now) {
				return in.Time, nil
			}
		}
		return d.afterHalfLives(lastIntake(intakes, r), m, now)
	}

	// Every range that has started is over; use the one ending last.
	var (
		latest treatment.TimeRange
		found  bool
	)
	for _, r := range h {
		if r.Start.After(now) {
			continue
		}
		if !found || r.End.After(latest.End) {
			latest, found = r, true
		}
	}
	intakes, err := treatment.Intakes(latest, time.Time{})
	if err != nil {
		return time.Time{}, validation.Errorf(validation.KindValidation, err, "cannot expand dosage history: %v", err)
	}
	return d.afterHalfLives(lastIntake(intakes, latest), m, now)
}

// afterHalfLives steps from last by twice the half-life until reaching now.
func (d *Deriver) afterHalfLives(last time.Time, m *drugmodel.DrugModel, now time.Time) (time.Time, error) {
	step := 2 * m.HalfLifeDuration
	if step <= 0 {
		return time.Time{}, validation.Errorf(validation.KindValidation, nil, "drug model %s has no half-life", m.ID)
	}
	if !last.Before(now) {
		return last, nil
	}
	n := (now.Sub(last) + step - 1) / step
	return last.Add(n * step), nil
}

func lastIntake(intakes []treatment.Intake, r treatment.TimeRange) time.Time {
	if len(intakes) > 0 {
		return intakes[len(intakes)-1].Time
	}
	if !r.End.IsZero() {
		return r.End
	}
	return r.Start
}
