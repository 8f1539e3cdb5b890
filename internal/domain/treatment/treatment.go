package treatment

import (
	"time"
)

// FormulationAndRoute identifies how a drug is formulated and administered.
type FormulationAndRoute struct {
	Formulation        string `json:"formulation"`
	AdministrationName string `json:"administration_name,omitempty"`
	Route              string `json:"route"`
	AbsorptionModel    string `json:"absorption_model"`
}

// Matches compares the (formulation, route, absorption) triplet. The administration
// name is informative only.
func (f FormulationAndRoute) Matches(other FormulationAndRoute) bool {
	return f.Formulation == other.Formulation &&
		f.Route == other.Route &&
		f.AbsorptionModel == other.AbsorptionModel
}

func (f FormulationAndRoute) String() string {
	return f.Formulation + "/" + f.Route + "/" + f.AbsorptionModel
}

// TimeRange bounds a dosage in time. A zero End means the range is open ended.
type TimeRange struct {
	Start  time.Time
	End    time.Time
	Dosage Dosage
}

// Contains reports whether t falls within the range, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	if t.Before(r.Start) {
		return false
	}
	return r.End.IsZero() || !t.After(r.End)
}

// DosageHistory is the ordered record of prescribed dosages.
type DosageHistory []TimeRange

func (h DosageHistory) IsEmpty() bool { return len(h) == 0 }

// Oldest returns the range with the earliest start.
func (h DosageHistory) Oldest() (TimeRange, bool) {
	if h.IsEmpty() {
		return TimeRange{}, false
	}
	oldest := h[0]
	for _, r := range h[1:] {
		if r.Start.Before(oldest.Start) {
			oldest = r
		}
	}
	return oldest, true
}

// Latest returns the range ending last. Open-ended ranges end last.
func (h DosageHistory) Latest() (TimeRange, bool) {
	if h.IsEmpty() {
		return TimeRange{}, false
	}
	latest := h[0]
	for _, r := range h[1:] {
		switch {
		case latest.End.IsZero():
		case r.End.IsZero(), r.End.After(latest.End):
			latest = r
		}
	}
	return latest, true
}

// AllStartAfter reports whether every range starts strictly after t.
func (h DosageHistory) AllStartAfter(t time.Time) bool {
	for _, r := range h {
		if !r.Start.After(t) {
			return false
		}
	}
	return true
}

// SingleDoses lists every leaf of every range, in tree order.
func (h DosageHistory) SingleDoses() []*SingleDose {
	var doses []*SingleDose
	for _, r := range h {
		doses = appendLeaves(doses, r.Dosage)
	}
	return doses
}

func appendLeaves(doses []*SingleDose, d Dosage) []*SingleDose {
	if d == nil {
		return doses
	}
	switch d.Kind() {
	case KindSingleDose:
		return append(doses, d.(*SingleDose))
	case KindRepeat:
		return appendLeaves(doses, d.(*Repeat).Dosage)
	case KindSequence:
		for _, child := range d.(*Sequence).Dosages {
			doses = appendLeaves(doses, child)
		}
	case KindParallel:
		for _, child := range d.(*Parallel).Dosages {
			doses = appendLeaves(doses, child)
		}
	case KindLoop:
		return appendLeaves(doses, d.(*Loop).Dosage)
	}
	return doses
}

// Sample is a measured concentration.
type Sample struct {
	ID        string
	Date      time.Time
	AnalyteID string
	Value     float64
	Unit      string
}

// TargetType names the pharmacokinetic quantity a target applies to.
type TargetType string

const (
	TargetResidual      TargetType = "residual"
	TargetPeak          TargetType = "peak"
	TargetMean          TargetType = "mean"
	TargetAUC           TargetType = "auc"
	TargetAUC24         TargetType = "auc24"
	TargetCumulativeAUC TargetType = "cumulativeAuc"
)

// IsExposure reports whether the target is expressed as concentration x time.
func (t TargetType) IsExposure() bool {
	return t == TargetAUC || t == TargetAUC24 || t == TargetCumulativeAUC
}

// Target is a therapeutic window for one active moiety.
type Target struct {
	ActiveMoietyID  string
	Type            TargetType
	Unit            string
	InefficacyAlarm float64
	Min             float64
	Best            float64
	Max             float64
	ToxicityAlarm   float64
}

// Covariate is a patient characteristic at a point in time.
type Covariate struct {
	ID       string
	Date     time.Time
	Value    string
	Unit     string
	DataType string
}

// Treatment is everything known about a patient's treatment for one drug.
type Treatment struct {
	DrugID     string
	History    DosageHistory
	Samples    []Sample
	Targets    []Target
	Covariates []Covariate
}

// LatestCovariates keeps, for every covariate id, the most recent measurement.
func (t *Treatment) LatestCovariates() map[string]Covariate {
	latest := make(map[string]Covariate, len(t.Covariates))
	for _, c := range t.Covariates {
		if prev, ok := latest[c.ID]; !ok || c.Date.After(prev.Date) {
			latest[c.ID] = c
		}
	}
	return latest
}
