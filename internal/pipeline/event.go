package pipeline

import (
	"encoding/json"
	"time"

	"github.com/drfirst/go-tdm/internal/validation"
)

// ResultEvent summarises a report for downstream consumers.
type ResultEvent struct {
	RunID      string           `json:"run_id"`
	QueryID    string           `json:"query_id"`
	Status     string           `json:"status"`
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Requests   []RequestSummary `json:"requests"`
}

// RequestSummary is the per request part of a ResultEvent.
type RequestSummary struct {
	RequestID      string               `json:"request_id"`
	DrugID         string               `json:"drug_id"`
	DrugModelID    string               `json:"drug_model_id,omitempty"`
	Succeeded      bool                 `json:"succeeded"`
	FailedStage    string               `json:"failed_stage,omitempty"`
	ErrorKind      validation.ErrorKind `json:"error_kind,omitempty"`
	Error          string               `json:"error,omitempty"`
	AdjustmentTime *time.Time           `json:"adjustment_time,omitempty"`
	Candidates     int                  `json:"candidates"`
	Warnings       int                  `json:"warnings"`
}

// Event builds the result event of the report.
func (r *Report) Event() ResultEvent {
	ev := ResultEvent{
		RunID:      r.RunID,
		QueryID:    r.QueryID,
		Status:     r.Status.String(),
		Total:      len(r.Results),
		Succeeded:  r.Succeeded(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Requests:   make([]RequestSummary, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		ev.Requests = append(ev.Requests, res.Summary())
	}
	return ev
}

// MarshalEvent encodes the result event of the report as JSON.
func (r *Report) MarshalEvent() ([]byte, error) {
	return json.Marshal(r.Event())
}

// Summary condenses the result.
func (r *RequestResult) Summary() RequestSummary {
	s := RequestSummary{
		RequestID:   r.Request.ID,
		DrugID:      r.Request.DrugID,
		Succeeded:   r.Succeeded(),
		FailedStage: r.FailedStage,
		ErrorKind:   r.ErrorKind,
		Error:       r.ErrorMessage,
		Warnings:    len(r.CovariateWarnings),
	}
	if r.DrugModel != nil {
		s.DrugModelID = r.DrugModel.ID
	}
	if r.AdjustmentTrait != nil {
		t := r.AdjustmentTrait.AdjustmentTime
		s.AdjustmentTime = &t
	}
	if r.Adjustment != nil {
		s.Candidates = len(r.Adjustment.Candidates)
	}
	for _, d := range r.DoseResults {
		if d.Warning != "" {
			s.Warnings++
		}
	}
	for _, sr := range r.SampleResults {
		if sr.Warning != "" {
			s.Warnings++
		}
	}
	return s
}
