// Package drugmodel describes pharmacologic drug models and the repository they are loaded into.
package drugmodel

import (
	"time"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
)

// ConstraintType tells whether a violated covariate range rejects the model.
type ConstraintType string

const (
	ConstraintHard ConstraintType = "hard"
	ConstraintSoft ConstraintType = "soft"
)

// ValidRange bounds a covariate value.
type ValidRange struct {
	Min  *float64
	Max  *float64
	Type ConstraintType
}

// CovariateDefinition is a covariate the model knows about.
type CovariateDefinition struct {
	ID           string
	Unit         string
	DataType     string
	DefaultValue string
	Validation   *ValidRange
}

// Analyte is a measurable substance.
type Analyte struct {
	ID   string
	Unit string
}

// ActiveMoiety groups analytes and carries the model's default targets.
type ActiveMoiety struct {
	ID         string
	Unit       string
	AnalyteIDs []string
	Targets    []treatment.Target
}

// HalfLife is the elimination half-life of the drug.
type HalfLife struct {
	Value      float64
	Unit       string
	Multiplier float64
}

// StandardTreatment is a fixed-duration regimen declared by the model.
type StandardTreatment struct {
	IsFixedDuration bool
	Duration        time.Duration
}

// FormularyEntry maps a formulation and route to its recommended doses.
type FormularyEntry struct {
	ID                  string
	FormulationAndRoute treatment.FormulationAndRoute
	DoseUnit            string
	MinDose             float64
	MaxDose             float64
	DefaultDose         float64
	Intervals           []time.Duration
}

// DrugModel describes the pharmacology of one drug.
type DrugModel struct {
	ID                     string
	DrugID                 string
	HalfLife               HalfLife
	HalfLifeDuration       time.Duration
	StandardTreatment      *StandardTreatment
	LoadingDoseRecommended bool
	RestPeriodRecommended  bool
	ActiveMoieties         []ActiveMoiety
	Analytes               []Analyte
	Covariates             []CovariateDefinition
	Formulary              []FormularyEntry
	DefaultFormularyID     string
}

// HasStandardTreatment reports whether the model declares a fixed-duration regimen.
func (m *DrugModel) HasStandardTreatment() bool {
	return m.StandardTreatment != nil && m.StandardTreatment.IsFixedDuration
}

// FindFormulary returns the entry matching the (formulation, route, absorption) triplet.
func (m *DrugModel) FindFormulary(fr treatment.FormulationAndRoute) (*FormularyEntry, bool) {
	for i := range m.Formulary {
		if m.Formulary[i].FormulationAndRoute.Matches(fr) {
			return &m.Formulary[i], true
		}
	}
	return nil, false
}

// Analyte returns the analyte with the given id.
func (m *DrugModel) Analyte(id string) (*Analyte, bool) {
	for i := range m.Analytes {
		if m.Analytes[i].ID == id {
			return &m.Analytes[i], true
		}
	}
	return nil, false
}

// ActiveMoiety returns the active moiety with the given id.
func (m *DrugModel) ActiveMoiety(id string) (*ActiveMoiety, bool) {
	for i := range m.ActiveMoieties {
		if m.ActiveMoieties[i].ID == id {
			return &m.ActiveMoieties[i], true
		}
	}
	return nil, false
}

// Covariate returns the covariate definition with the given id.
func (m *DrugModel) Covariate(id string) (*CovariateDefinition, bool) {
	for i := range m.Covariates {
		if m.Covariates[i].ID == id {
			return &m.Covariates[i], true
		}
	}
	return nil, false
}
