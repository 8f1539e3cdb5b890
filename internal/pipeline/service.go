package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/adjustment"
	"github.com/drfirst/go-tdm/internal/computing"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/query"
	"github.com/drfirst/go-tdm/internal/translation"
)

// Report is the outcome of one query run.
type Report struct {
	RunID      string
	QueryID    string
	Status     RunStatus
	Run        *query.RunAggregate
	Results    []*RequestResult
	Files      []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcomes converts every request result for export.
func (r *Report) Outcomes() []query.Outcome {
	out := make([]query.Outcome, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Outcome())
	}
	return out
}

// Succeeded counts the requests that completed every stage.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Succeeded() {
			n++
		}
	}
	return n
}

// ErrRunNotFound is returned when no stored run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// ResultStore persists reports.
type ResultStore interface {
	SaveReport(ctx context.Context, report *Report) error
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Models       ModelSource
	Translations DictionaryLoader
	Engine       computing.Engine
	// Store is optional.
	Store    ResultStore
	Recorder Recorder
	Clock    adjustment.Clock
	Logger   *zap.Logger
}

// Service imports, processes and exports queries against a loaded set of
// drug models. It is safe for concurrent use.
type Service struct {
	processor *Processor
	importer  *query.Importer
	exporter  *query.Exporter
	store     ResultStore
	clock     adjustment.Clock
	logger    *zap.Logger
}

// NewService creates a service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = adjustment.SystemClock
	}
	if cfg.Engine == nil {
		cfg.Engine = computing.DryRunEngine{}
	}
	stages := DefaultStages(cfg.Translations, cfg.Models, cfg.Engine, cfg.Logger)
	return &Service{
		processor: NewProcessor(stages, cfg.Recorder, cfg.Logger),
		importer:  query.NewImporter(cfg.Clock, cfg.Logger),
		exporter:  query.NewExporter(cfg.Logger),
		store:     cfg.Store,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Execute runs the query read from r. Results are written to outputDir when
// it is not empty. The returned report is never nil; its status is
// ImportError when the query could not be imported.
func (s *Service) Execute(ctx context.Context, r io.Reader, outputDir string) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: s.clock.Now(),
	}
	log := s.logger.With(zap.String("run_id", report.RunID))

	run, err := s.importer.Import(r)
	if err != nil {
		report.Status = ImportError
		report.FinishedAt = s.clock.Now()
		log.Error("query import failed", zap.Error(err))
		return report, err
	}
	report.Run = run
	report.QueryID = run.QueryID

	report.Status, report.Results = s.processor.Process(ctx, run)
	report.FinishedAt = s.clock.Now()

	var errs []error
	if outputDir != "" {
		files, err := s.exporter.Export(outputDir, run, report.Outcomes())
		report.Files = files
		if err != nil {
			errs = append(errs, fmt.Errorf("export results: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.SaveReport(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("store report: %w", err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Error("query results not delivered", zap.String("query_id", run.QueryID), zap.Error(err))
		return report, err
	}

	log.Info("query completed",
		zap.String("query_id", run.QueryID),
		zap.Stringer("status", report.Status),
		zap.Int("files", len(report.Files)))
	return report, nil
}

// Paths locates the inputs and output of a run.
type Paths struct {
	DrugPath        string
	QueryPath       string
	OutputPath      string
	TranslationPath string
}

// Runner executes a single query from files on disk.
type Runner struct {
	cfg ServiceConfig
}

// NewRunner creates a runner. Models and Translations of cfg are replaced by
// the folders given to Run.
func NewRunner(cfg ServiceConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{cfg: cfg}
}

// Run loads the drug models, processes the query and writes the results.
func (r *Runner) Run(ctx context.Context, p Paths) RunStatus {
	logger := r.cfg.Logger

	repo := drugmodel.NewRepository(logger)
	if _, err := repo.AddFolderPath(ctx, p.DrugPath); err != nil {
		logger.Error("drug models not loaded", zap.String("path", p.DrugPath), zap.Error(err))
		return ImportError
	}

	f, err := os.Open(p.QueryPath)
	if err != nil {
		logger.Error("query not readable", zap.String("path", p.QueryPath), zap.Error(err))
		return ImportError
	}
	defer f.Close()

	cfg := r.cfg
	cfg.Models = repo
	cfg.Translations = translation.NewLoader(p.TranslationPath, logger)

	report, err := NewService(cfg).Execute(ctx, f, p.OutputPath)
	if err != nil && report.Status != ImportError {
		logger.Warn("run finished with delivery errors", zap.Error(err))
	}
	return report.Status
}
