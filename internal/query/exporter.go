package query

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/adjustment"
	"github.com/drfirst/go-tdm/internal/computing"
)

// Warning is a message attached to a dose or a sample.
type Warning struct {
	ID      string
	Message string
}

// Outcome is what is exported for one request.
type Outcome struct {
	RequestID      string
	DrugID         string
	DrugModelID    string
	Succeeded      bool
	Error          string
	DoseWarnings   []Warning
	SampleWarnings []Warning
	Trait          *adjustment.Trait
	Adjustment     *computing.Response

	// CovariateWarnings are soft range violations of the selected model.
	CovariateWarnings []string
}

// Exporter writes one XML result file per request.
type Exporter struct {
	logger *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{logger: logger}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the name of the result file of a request.
func FileName(queryID, requestID string) string {
	return unsafeName.ReplaceAllString(queryID, "_") + "_" + unsafeName.ReplaceAllString(requestID, "_") + ".xml"
}

// Export writes the outcomes of run into dir and returns the written paths.
func (e *Exporter) Export(dir string, run *RunAggregate, outcomes []Outcome) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	paths := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		data, err := Marshal(run, o)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, FileName(run.QueryID, o.RequestID))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("write result %s: %w", path, err)
		}
		e.logger.Debug("result exported",
			zap.String("request_id", o.RequestID),
			zap.String("path", path))
		paths = append(paths, path)
	}
	return paths, nil
}

// Marshal renders the result document of one outcome.
func Marshal(run *RunAggregate, o Outcome) ([]byte, error) {
	doc := resultFile{
		QueryID:     run.QueryID,
		RequestID:   o.RequestID,
		Date:        formatTime(run.ComputationTime),
		DrugID:      o.DrugID,
		DrugModelID: o.DrugModelID,
		Status:      "failure",
		Error:       o.Error,
	}
	if o.Succeeded {
		doc.Status = "success"
	}
	for _, w := range o.DoseWarnings {
		doc.DoseWarnings = append(doc.DoseWarnings, warningNode{ID: w.ID, Warning: w.Message})
	}
	for _, w := range o.SampleWarnings {
		doc.SampleWarnings = append(doc.SampleWarnings, warningNode{ID: w.ID, Warning: w.Message})
	}
	doc.Covariates = o.CovariateWarnings
	if t := o.Trait; t != nil {
		doc.Trait = &traitNode{
			PredictionType:               string(t.PredictionType),
			AdjustmentTime:               formatTime(t.AdjustmentTime),
			Start:                        formatTime(t.Start),
			End:                          formatTime(t.End),
			PointsPerHour:                t.PointsPerHour,
			Loading:                      string(t.Loading),
			RestPeriod:                   string(t.RestPeriod),
			SteadyStateTarget:            string(t.SteadyStateTarget),
			TargetExtraction:             string(t.TargetExtraction),
			FormulationAndRouteSelection: string(t.FormulationAndRouteSelection),
			BestCandidates:               string(t.BestCandidates),
		}
	}
	if o.Adjustment != nil {
		for _, c := range o.Adjustment.Candidates {
			cn := candidateNode{
				Score:    c.Score,
				Dose:     c.Dose,
				Unit:     c.Unit,
				Interval: formatClock(c.Interval()),
				FormulationAndRoute: formulationAndRouteNode{
					Formulation:        c.FormulationAndRoute.Formulation,
					AdministrationName: c.FormulationAndRoute.AdministrationName,
					Route:              c.FormulationAndRoute.Route,
					AbsorptionModel:    c.FormulationAndRoute.AbsorptionModel,
				},
			}
			for _, te := range c.Targets {
				cn.Targets = append(cn.Targets, targetEvaluationNode{
					TargetType: string(te.Type),
					Value:      te.Value,
					Unit:       te.Unit,
					Score:      te.Score,
				})
			}
			doc.Candidates = append(doc.Candidates, cn)
		}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result %s: %w", o.RequestID, err)
	}
	return append([]byte(xml.Header), out...), nil
}

func formatClock(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}
