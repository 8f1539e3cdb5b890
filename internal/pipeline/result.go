// Package pipeline validates and prepares adjustment requests, then submits
// them to the computation engine.
package pipeline

import (
	"time"

	"github.com/drfirst/go-tdm/internal/adjustment"
	"github.com/drfirst/go-tdm/internal/computing"
	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/query"
	"github.com/drfirst/go-tdm/internal/translation"
	"github.com/drfirst/go-tdm/internal/validation"
)

// RequestResult is the state of one request as it moves through the stages.
// It is created once per request and only mutated by stages.
type RequestResult struct {
	Request   *query.XpertRequest
	Treatment *treatment.Treatment
	DrugModel *drugmodel.DrugModel
	// ReferenceTime is the computation time of the run.
	ReferenceTime time.Time

	ShouldContinue bool
	ErrorMessage   string
	ErrorKind      validation.ErrorKind
	FailedStage    string

	DoseResults       validation.DoseResults
	SampleResults     []validation.SampleResult
	CovariateWarnings []string
	AdjustmentTrait   *adjustment.Trait
	Adjustment        *computing.Response
	Dictionary        *translation.Dictionary
}

// NewRequestResult starts the result of req.
func NewRequestResult(req *query.XpertRequest, referenceTime time.Time) *RequestResult {
	return &RequestResult{
		Request:        req,
		Treatment:      req.Treatment,
		ReferenceTime:  referenceTime,
		ShouldContinue: true,
	}
}

// Stop marks the request as failed with err.
func (r *RequestResult) Stop(err error) {
	r.ShouldContinue = false
	r.ErrorMessage = err.Error()
	r.ErrorKind = validation.KindOf(err)
}

// Succeeded reports whether every stage completed.
func (r *RequestResult) Succeeded() bool {
	return r.ShouldContinue && r.ErrorMessage == ""
}

// Outcome converts the result for export.
func (r *RequestResult) Outcome() query.Outcome {
	o := query.Outcome{
		RequestID:  r.Request.ID,
		DrugID:     r.Request.DrugID,
		Succeeded:  r.Succeeded(),
		Error:      r.ErrorMessage,
		Trait:      r.AdjustmentTrait,
		Adjustment: r.Adjustment,

		CovariateWarnings: r.CovariateWarnings,
	}
	if r.DrugModel != nil {
		o.DrugModelID = r.DrugModel.ID
	}
	for _, d := range r.DoseResults {
		if d.Warning != "" {
			o.DoseWarnings = append(o.DoseWarnings, query.Warning{ID: d.Dose.ID, Message: d.Warning})
		}
	}
	for _, s := range r.SampleResults {
		if s.Warning != "" {
			o.SampleWarnings = append(o.SampleWarnings, query.Warning{ID: s.Sample.ID, Message: s.Warning})
		}
	}
	return o
}
