// Package computing is the client side of the external computation engine.
package computing

import (
	"context"
	"time"

	"github.com/drfirst/go-tdm/internal/adjustment"
	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
)

// Engine computes dosage adjustments.
type Engine interface {
	ComputeAdjustment(ctx context.Context, req *Request) (*Response, error)
}

// Request binds an adjustment trait to the treatment and drug model it applies to.
type Request struct {
	Trait     *adjustment.Trait
	Treatment *treatment.Treatment
	DrugModel *drugmodel.DrugModel
}

// Status is the engine verdict for one request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Response is the engine output.
type Response struct {
	RequestID  string      `json:"request_id"`
	Status     Status      `json:"status"`
	Message    string      `json:"message,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Succeeded reports whether the engine computed the adjustment.
func (r *Response) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Candidate is one proposed dosage.
type Candidate struct {
	Score               float64                       `json:"score"`
	Dose                float64                       `json:"dose"`
	Unit                string                        `json:"unit"`
	IntervalHours       float64                       `json:"interval_hours"`
	FormulationAndRoute treatment.FormulationAndRoute `json:"formulation_and_route"`
	Targets             []TargetEvaluation            `json:"targets,omitempty"`
}

// Interval returns the dosing interval of the candidate.
func (c Candidate) Interval() time.Duration {
	return time.Duration(c.IntervalHours * float64(time.Hour))
}

// TargetEvaluation scores a candidate against one target.
type TargetEvaluation struct {
	Type  treatment.TargetType `json:"type"`
	Value float64              `json:"value"`
	Unit  string               `json:"unit"`
	Score float64              `json:"score"`
}

// DryRunEngine accepts every request without proposing candidates. It lets a
// run validate queries when no engine is configured.
type DryRunEngine struct{}

func (DryRunEngine) ComputeAdjustment(_ context.Context, req *Request) (*Response, error) {
	id := ""
	if req != nil && req.Trait != nil {
		id = req.Trait.RequestID
	}
	return &Response{RequestID: id, Status: StatusSuccess, Message: "dry run"}, nil
}
