package adjustment

import (
	"time"

	"github.com/drfirst/go-tdm/internal/drugmodel"
)

// Request holds what a query asks for. Zero values mean "not specified".
type Request struct {
	ID                           string
	AdjustmentTime               time.Time
	Loading                      LoadingOption
	RestPeriod                   RestPeriodOption
	TargetExtraction             TargetExtractionOption
	FormulationAndRouteSelection FormulationAndRouteSelectionOption
}

// Options are the adjustment policies resolved from a request and a drug model.
type Options struct {
	Loading                      LoadingOption                      `json:"loading"`
	RestPeriod                   RestPeriodOption                   `json:"rest_period"`
	SteadyStateTarget            SteadyStateTargetOption            `json:"steady_state_target"`
	TargetExtraction             TargetExtractionOption             `json:"target_extraction"`
	FormulationAndRouteSelection FormulationAndRouteSelectionOption `json:"formulation_and_route_selection"`
	BestCandidates               BestCandidatesOption               `json:"best_candidates"`
}

// ResolveOptions fills the options the request leaves unspecified from the
// drug model recommendations and the defaults.
func ResolveOptions(req Request, m *drugmodel.DrugModel) Options {
	opts := Options{
		Loading:                      req.Loading,
		RestPeriod:                   req.RestPeriod,
		SteadyStateTarget:            AtSteadyState,
		TargetExtraction:             req.TargetExtraction,
		FormulationAndRouteSelection: req.FormulationAndRouteSelection,
		BestCandidates:               BestDosagePerInterval,
	}

	if opts.Loading == "" {
		opts.Loading = NoLoadingDose
		if m.LoadingDoseRecommended {
			opts.Loading = LoadingDoseAllowed
		}
	}
	if opts.RestPeriod == "" {
		opts.RestPeriod = NoRestPeriod
		if m.RestPeriodRecommended {
			opts.RestPeriod = RestPeriodAllowed
		}
	}
	if m.HasStandardTreatment() {
		opts.SteadyStateTarget = WithinTreatmentTimeRange
	}
	if opts.TargetExtraction == "" {
		opts.TargetExtraction = DefinitionIfNoIndividualTarget
	}
	if opts.FormulationAndRouteSelection == "" {
		opts.FormulationAndRouteSelection = LastFormulationAndRoute
	}
	return opts
}
