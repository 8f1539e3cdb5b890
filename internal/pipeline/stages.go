package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/adjustment"
	"github.com/drfirst/go-tdm/internal/computing"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/translation"
	"github.com/drfirst/go-tdm/internal/validation"
)

// Stage names, in execution order.
const (
	StageTranslation = "translation"
	StageCovariates  = "covariates"
	StageDoses       = "doses"
	StageSamples     = "samples"
	StageTargets     = "targets"
	StageTrait       = "adjustment_trait"
	StageExecution   = "execution"
)

// Stage is one step of request processing. A returned error stops the request.
type Stage interface {
	Name() string
	Run(ctx context.Context, res *RequestResult) error
}

// DictionaryLoader provides the dictionary of a language.
type DictionaryLoader interface {
	Load(language string) (*translation.Dictionary, error)
}

// ModelSource looks drug models up by drug id.
type ModelSource interface {
	ModelsByDrugID(drugID string) []*drugmodel.DrugModel
}

type stageFunc struct {
	name string
	run  func(ctx context.Context, res *RequestResult) error
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Run(ctx context.Context, res *RequestResult) error { return s.run(ctx, res) }

// TranslationStage loads the dictionary of the request language.
func TranslationStage(loader DictionaryLoader) Stage {
	return stageFunc{name: StageTranslation, run: func(_ context.Context, res *RequestResult) error {
		dict, err := loader.Load(res.Request.Language)
		if err != nil {
			return validation.Errorf(validation.KindInfrastructure, err, "Cannot load translations: %v", err)
		}
		res.Dictionary = dict
		return nil
	}}
}

// CovariateStage validates the patient covariates and selects the drug model.
func CovariateStage(models ModelSource) Stage {
	return stageFunc{name: StageCovariates, run: func(_ context.Context, res *RequestResult) error {
		if res.Treatment == nil {
			return validation.ErrNoTreatment
		}
		sel, err := validation.SelectDrugModel(res.Treatment, models.ModelsByDrugID(res.Treatment.DrugID), res.Dictionary)
		if err != nil {
			return err
		}
		res.DrugModel = sel.Model
		res.CovariateWarnings = sel.Warnings
		return nil
	}}
}

// preflight checks what every validation stage needs.
func preflight(res *RequestResult) error {
	if res.Treatment == nil {
		return validation.ErrNoTreatment
	}
	if res.DrugModel == nil {
		return validation.ErrNoDrugModel
	}
	return nil
}

// DoseStage validates every dose against the drug model formulary.
func DoseStage() Stage {
	return stageFunc{name: StageDoses, run: func(_ context.Context, res *RequestResult) error {
		if err := preflight(res); err != nil {
			return err
		}
		results, err := validation.ValidateDoses(res.Treatment.History, res.DrugModel.Formulary, res.Dictionary)
		if err != nil {
			return validation.Errorf(validation.KindValidation, err, "Dose validation failed: %v", err)
		}
		res.DoseResults = results
		return nil
	}}
}

// SampleStage validates the measured concentrations.
func SampleStage() Stage {
	return stageFunc{name: StageSamples, run: func(_ context.Context, res *RequestResult) error {
		if err := preflight(res); err != nil {
			return err
		}
		results, err := validation.ValidateSamples(res.Treatment, res.DrugModel, res.ReferenceTime, res.Dictionary)
		if err != nil {
			return err
		}
		res.SampleResults = results
		return nil
	}}
}

// TargetStage validates the individual targets.
func TargetStage() Stage {
	return stageFunc{name: StageTargets, run: func(_ context.Context, res *RequestResult) error {
		if err := preflight(res); err != nil {
			return err
		}
		return validation.ValidateTargets(res.Treatment, res.DrugModel)
	}}
}

// TraitStage derives the adjustment trait at the request reference time.
func TraitStage(logger *zap.Logger) Stage {
	return stageFunc{name: StageTrait, run: func(_ context.Context, res *RequestResult) error {
		if err := preflight(res); err != nil {
			return err
		}
		d := adjustment.NewDeriver(adjustment.FixedClock(res.ReferenceTime), logger)
		trait, err := d.Derive(res.Treatment, res.DrugModel, res.Request.Options)
		if err != nil {
			return err
		}
		res.AdjustmentTrait = trait
		return nil
	}}
}

// ExecutionStage submits the trait to the computation engine.
func ExecutionStage(engine computing.Engine) Stage {
	return stageFunc{name: StageExecution, run: func(ctx context.Context, res *RequestResult) error {
		if err := preflight(res); err != nil {
			return err
		}
		if res.AdjustmentTrait == nil {
			return validation.Errorf(validation.KindPreflight, nil, "No adjustment trait set.")
		}
		resp, err := engine.ComputeAdjustment(ctx, &computing.Request{
			Trait:     res.AdjustmentTrait,
			Treatment: res.Treatment,
			DrugModel: res.DrugModel,
		})
		if err != nil {
			return validation.Errorf(validation.KindComputation, err, "computation failed: %v", err)
		}
		res.Adjustment = resp
		if !resp.Succeeded() {
			return validation.Errorf(validation.KindComputation, nil, "computation failed: %s", resp.Message)
		}
		return nil
	}}
}

// DefaultStages returns the stages in their fixed order.
func DefaultStages(loader DictionaryLoader, models ModelSource, engine computing.Engine, logger *zap.Logger) []Stage {
	return []Stage{
		TranslationStage(loader),
		CovariateStage(models),
		DoseStage(),
		SampleStage(),
		TargetStage(),
		TraitStage(logger),
		ExecutionStage(engine),
	}
}
