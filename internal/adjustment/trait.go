// Package adjustment derives the computation window and options handed to the
// computation engine for a dosage adjustment.
package adjustment

import "time"

// PredictionType selects population or individualized parameters.
type PredictionType string

const (
	Apriori     PredictionType = "apriori"
	Aposteriori PredictionType = "aposteriori"
)

// LoadingOption tells the engine whether a loading dose may be proposed.
type LoadingOption string

const (
	LoadingDoseAllowed LoadingOption = "loadingDoseAllowed"
	NoLoadingDose      LoadingOption = "noLoadingDose"
)

// RestPeriodOption tells the engine whether a rest period may be proposed.
type RestPeriodOption string

const (
	RestPeriodAllowed RestPeriodOption = "restPeriodAllowed"
	NoRestPeriod      RestPeriodOption = "noRestPeriod"
)

// SteadyStateTargetOption selects when targets must be reached.
type SteadyStateTargetOption string

const (
	AtSteadyState            SteadyStateTargetOption = "atSteadyState"
	WithinTreatmentTimeRange SteadyStateTargetOption = "withinTreatmentTimeRange"
)

// TargetExtractionOption selects where the engine takes its targets from.
type TargetExtractionOption string

const (
	PopulationValues                    TargetExtractionOption = "populationValues"
	AprioriValues                       TargetExtractionOption = "aprioriValues"
	IndividualTargets                   TargetExtractionOption = "individualTargets"
	IndividualTargetsIfDefinitionExists TargetExtractionOption = "individualTargetsIfDefinitionExists"
	DefinitionIfNoIndividualTarget      TargetExtractionOption = "definitionIfNoIndividualTarget"
)

// Valid reports whether o is a known option.
func (o TargetExtractionOption) Valid() bool {
	switch o {
	case PopulationValues, AprioriValues, IndividualTargets, IndividualTargetsIfDefinitionExists, DefinitionIfNoIndividualTarget:
		return true
	}
	return false
}

// FormulationAndRouteSelectionOption selects the formulations candidates may use.
type FormulationAndRouteSelectionOption string

const (
	LastFormulationAndRoute    FormulationAndRouteSelectionOption = "lastFormulationAndRoute"
	DefaultFormulationAndRoute FormulationAndRouteSelectionOption = "defaultFormulationAndRoute"
	AllFormulationAndRoutes    FormulationAndRouteSelectionOption = "allFormulationAndRoutes"
)

// Valid reports whether o is a known option.
func (o FormulationAndRouteSelectionOption) Valid() bool {
	switch o {
	case LastFormulationAndRoute, DefaultFormulationAndRoute, AllFormulationAndRoutes:
		return true
	}
	return false
}

// BestCandidatesOption selects how many candidates the engine returns.
type BestCandidatesOption string

const (
	BestDosage            BestCandidatesOption = "bestDosage"
	AllDosages            BestCandidatesOption = "allDosages"
	BestDosagePerInterval BestCandidatesOption = "bestDosagePerInterval"
)

// CompartmentsOption selects the compartments of predicted curves.
type CompartmentsOption string

const AllActiveMoieties CompartmentsOption = "allActiveMoieties"

// PointsPerHour is the sampling resolution of predicted curves.
const PointsPerHour = 20

// ComputingOptions are fixed for every adjustment.
type ComputingOptions struct {
	Compartments       CompartmentsOption `json:"compartments"`
	RetrieveStatistics bool               `json:"retrieve_statistics"`
	RetrieveParameters bool               `json:"retrieve_parameters"`
	RetrieveCovariates bool               `json:"retrieve_covariates"`
	ForceUgPerLiter    bool               `json:"force_ug_per_liter"`
}

// DefaultComputingOptions returns the computing options used for adjustments.
func DefaultComputingOptions() ComputingOptions {
	return ComputingOptions{
		Compartments:       AllActiveMoieties,
		RetrieveStatistics: true,
		RetrieveParameters: true,
		RetrieveCovariates: true,
		ForceUgPerLiter:    true,
	}
}

// Trait is the parameter set of one adjustment computation. It is built once
// per validated request and not modified afterwards.
type Trait struct {
	RequestID      string           `json:"request_id"`
	DrugModelID    string           `json:"drug_model_id"`
	PredictionType PredictionType   `json:"prediction_type"`
	AdjustmentTime time.Time        `json:"adjustment_time"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	PointsPerHour  int              `json:"points_per_hour"`
	Computing      ComputingOptions `json:"computing_options"`
	Options
}
