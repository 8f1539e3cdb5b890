// Package query reads computation queries and writes their results.
package query

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/adjustment"
	"github.com/drfirst/go-tdm/internal/domain/treatment"
)

// ImportError makes the whole run fail.
type ImportError struct {
	Message string
	Cause   error
}

func (e *ImportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("import query: %s: %v", e.Message, e.Cause)
	}
	return "import query: " + e.Message
}

func (e *ImportError) Unwrap() error { return e.Cause }

// Person identifies a mandator or a patient.
type Person struct {
	ID        string
	Title     string
	FirstName string
	LastName  string
}

// Admin holds the administrative part of a query.
type Admin struct {
	Mandator  *Person
	Patient   *Person
	Institute string
}

// XpertRequest is one adjustment request of a query. Treatment is nil when
// it could not be extracted; ExtractionError then says why.
type XpertRequest struct {
	ID              string
	DrugID          string
	Language        string
	OutputFormat    string
	Options         adjustment.Request
	Treatment       *treatment.Treatment
	ExtractionError string
}

// RunAggregate is an imported query.
type RunAggregate struct {
	QueryID string
	// ComputationTime is the reference time of every request of the run.
	ComputationTime time.Time
	Language        string
	Admin           *Admin
	Requests        []*XpertRequest
}

// Importer parses query XML.
type Importer struct {
	clock  adjustment.Clock
	logger *zap.Logger
}

// NewImporter creates an importer. clock provides the computation time of
// queries without a date attribute.
func NewImporter(clock adjustment.Clock, logger *zap.Logger) *Importer {
	if clock == nil {
		clock = adjustment.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{clock: clock, logger: logger}
}

// Import reads one query document.
func (im *Importer) Import(r io.Reader) (*RunAggregate, error) {
	var doc queryFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &ImportError{Message: "malformed query", Cause: err}
	}
	if doc.QueryID == "" {
		return nil, &ImportError{Message: "missing queryId"}
	}
	if doc.DrugTreatment == nil {
		return nil, &ImportError{Message: "missing drugTreatment"}
	}

	run := &RunAggregate{
		QueryID:  doc.QueryID,
		Language: doc.Language,
		Admin:    convertAdmin(doc.Admin),
	}
	if run.Language == "" {
		run.Language = "en"
	}

	run.ComputationTime = im.clock.Now()
	if doc.Date != "" {
		t, err := parseTime(doc.Date)
		if err != nil {
			return nil, &ImportError{Message: "invalid query date", Cause: err}
		}
		run.ComputationTime = t
	}

	covariates, err := convertCovariates(doc.DrugTreatment.Covariates)
	if err != nil {
		return nil, &ImportError{Message: "invalid patient covariates", Cause: err}
	}

	for i, node := range doc.Requests {
		req, err := im.convertRequest(node, run.Language)
		if err != nil {
			return nil, &ImportError{Message: fmt.Sprintf("request %d", i+1), Cause: err}
		}
		req.Treatment, req.ExtractionError = extractTreatment(doc.DrugTreatment.Drugs, req.DrugID, covariates)
		if req.Treatment == nil {
			im.logger.Warn("treatment extraction failed",
				zap.String("query_id", run.QueryID),
				zap.String("request_id", req.ID),
				zap.String("reason", req.ExtractionError))
		}
		run.Requests = append(run.Requests, req)
	}

	im.logger.Info("query imported",
		zap.String("query_id", run.QueryID),
		zap.Time("computation_time", run.ComputationTime),
		zap.Int("requests", len(run.Requests)))
	return run, nil
}

func (im *Importer) convertRequest(node requestNode, language string) (*XpertRequest, error) {
	req := &XpertRequest{
		ID:           strings.TrimSpace(node.RequestID),
		DrugID:       strings.TrimSpace(node.DrugID),
		Language:     node.Language,
		OutputFormat: node.Format,
	}
	if req.DrugID == "" {
		return nil, errors.New("missing drugId")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Language == "" {
		req.Language = language
	}

	opts := adjustment.Request{
		ID:                           req.ID,
		Loading:                      adjustment.LoadingOption(node.Options.Loading),
		RestPeriod:                   adjustment.RestPeriodOption(node.Options.RestPeriod),
		TargetExtraction:             adjustment.TargetExtractionOption(node.Options.TargetExtraction),
		FormulationAndRouteSelection: adjustment.FormulationAndRouteSelectionOption(node.Options.FormulationAndRouteSelection),
	}
	switch opts.Loading {
	case "", adjustment.LoadingDoseAllowed, adjustment.NoLoadingDose:
	default:
		return nil, fmt.Errorf("unknown loadingOption %q", opts.Loading)
	}
	switch opts.RestPeriod {
	case "", adjustment.RestPeriodAllowed, adjustment.NoRestPeriod:
	default:
		return nil, fmt.Errorf("unknown restPeriodOption %q", opts.RestPeriod)
	}
	if opts.TargetExtraction != "" && !opts.TargetExtraction.Valid() {
		return nil, fmt.Errorf("unknown targetExtractionOption %q", opts.TargetExtraction)
	}
	if opts.FormulationAndRouteSelection != "" && !opts.FormulationAndRouteSelection.Valid() {
		return nil, fmt.Errorf("unknown formulationAndRouteSelectionOption %q", opts.FormulationAndRouteSelection)
	}
	if node.AdjustmentDate != "" {
		t, err := parseTime(node.AdjustmentDate)
		if err != nil {
			return nil, fmt.Errorf("adjustmentDate: %w", err)
		}
		opts.AdjustmentTime = t
	}
	req.Options = opts
	return req, nil
}

func convertAdmin(node *adminNode) *Admin {
	if node == nil {
		return nil
	}
	return &Admin{
		Mandator:  convertPerson(node.Mandator),
		Patient:   convertPerson(node.Patient),
		Institute: node.Institute,
	}
}

func convertPerson(node *personNode) *Person {
	if node == nil {
		return nil
	}
	p := Person(*node)
	return &p
}

func convertCovariates(nodes []covariateNode) ([]treatment.Covariate, error) {
	out := make([]treatment.Covariate, 0, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return nil, errors.New("covariate without covariateId")
		}
		c := treatment.Covariate{
			ID:       n.ID,
			Value:    strings.TrimSpace(n.Value),
			Unit:     n.Unit,
			DataType: n.DataType,
		}
		if n.Date != "" {
			t, err := parseTime(n.Date)
			if err != nil {
				return nil, fmt.Errorf("covariate %s: %w", n.ID, err)
			}
			c.Date = t
		}
		out = append(out, c)
	}
	return out, nil
}

// extractTreatment builds the treatment of drugID. On failure it returns a
// nil treatment and the reason.
func extractTreatment(drugs []drugNode, drugID string, covariates []treatment.Covariate) (*treatment.Treatment, string) {
	var drug *drugNode
	for i := range drugs {
		if drugs[i].DrugID == drugID {
			drug = &drugs[i]
			break
		}
	}
	if drug == nil {
		return nil, fmt.Sprintf("no drug %s in drug treatment", drugID)
	}

	t := &treatment.Treatment{DrugID: drugID, Covariates: covariates}
	b := &treeBuilder{}
	for i, rn := range drug.TimeRanges {
		r, err := b.timeRange(rn)
		if err != nil {
			return nil, fmt.Sprintf("dosage time range %d: %v", i+1, err)
		}
		t.History = append(t.History, r)
	}

	for _, sn := range drug.Samples {
		date, err := parseTime(sn.Date)
		if err != nil {
			return nil, fmt.Sprintf("sample %s: %v", sn.ID, err)
		}
		for _, c := range sn.Concentrations {
			t.Samples = append(t.Samples, treatment.Sample{
				ID:        sn.ID,
				Date:      date,
				AnalyteID: c.AnalyteID,
				Value:     c.Value,
				Unit:      c.Unit,
			})
		}
	}

	for _, tn := range drug.Targets {
		t.Targets = append(t.Targets, treatment.Target{
			ActiveMoietyID:  tn.ActiveMoietyID,
			Type:            treatment.TargetType(tn.TargetType),
			Unit:            tn.Unit,
			InefficacyAlarm: tn.InefficacyAlarm,
			Min:             tn.Min,
			Best:            tn.Best,
			Max:             tn.Max,
			ToxicityAlarm:   tn.ToxicityAlarm,
		})
	}
	return t, ""
}

// treeBuilder converts dosage elements and numbers the single doses it meets.
type treeBuilder struct {
	doses int
}

func (b *treeBuilder) timeRange(n timeRangeNode) (treatment.TimeRange, error) {
	start, err := parseTime(n.Start)
	if err != nil {
		return treatment.TimeRange{}, fmt.Errorf("start: %w", err)
	}
	r := treatment.TimeRange{Start: start}
	if strings.TrimSpace(n.End) != "" {
		if r.End, err = parseTime(n.End); err != nil {
			return treatment.TimeRange{}, fmt.Errorf("end: %w", err)
		}
		if !r.End.After(r.Start) {
			return treatment.TimeRange{}, fmt.Errorf("end %s is not after start %s", n.End, n.Start)
		}
	}
	if r.Dosage, err = b.only(n.Dosage.Children); err != nil {
		return treatment.TimeRange{}, err
	}
	return r, nil
}

func (b *treeBuilder) only(children []dosageElement) (treatment.Dosage, error) {
	if len(children) != 1 {
		return nil, fmt.Errorf("expected exactly one dosage, got %d", len(children))
	}
	return b.dosage(children[0])
}

func (b *treeBuilder) all(children []dosageElement) ([]treatment.Dosage, error) {
	if len(children) == 0 {
		return nil, errors.New("empty dosage list")
	}
	out := make([]treatment.Dosage, 0, len(children))
	for _, c := range children {
		d, err := b.dosage(c)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (b *treeBuilder) dosage(e dosageElement) (treatment.Dosage, error) {
	switch e.Name {
	case elemLoop:
		child, err := b.only(e.Loop.Children)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		return &treatment.Loop{Dosage: child}, nil

	case elemRepeat:
		if e.Repeat.Iterations <= 0 {
			return nil, fmt.Errorf("%s: iterations must be positive", e.Name)
		}
		child, err := b.only(e.Repeat.Children)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		return &treatment.Repeat{Count: e.Repeat.Iterations, Dosage: child}, nil

	case elemSequence:
		children, err := b.all(e.Sequence.Children)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		return &treatment.Sequence{Dosages: children}, nil

	case elemParallel:
		children, err := b.all(e.Parallel.Children)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		if len(e.Parallel.Offsets) > len(children) {
			return nil, fmt.Errorf("%s: more offsets than dosages", e.Name)
		}
		offsets := make([]time.Duration, len(e.Parallel.Offsets))
		for i, o := range e.Parallel.Offsets {
			if offsets[i], err = parseClock(o); err != nil {
				return nil, fmt.Errorf("%s: offset %d: %w", e.Name, i+1, err)
			}
		}
		return &treatment.Parallel{Dosages: children, Offsets: offsets}, nil

	case elemLasting, elemDaily, elemWeekly:
		return b.single(e.Name, e.Single)

	default:
		return nil, fmt.Errorf("unknown dosage element <%s>", e.Name)
	}
}

func (b *treeBuilder) single(name string, n *singleDoseNode) (*treatment.SingleDose, error) {
	b.doses++
	sd := &treatment.SingleDose{
		ID:    "dose-" + strconv.Itoa(b.doses),
		Value: n.Dose.Value,
		Unit:  strings.TrimSpace(n.Dose.Unit),
		FormulationAndRoute: treatment.FormulationAndRoute{
			Formulation:        n.FormulationAndRoute.Formulation,
			AdministrationName: n.FormulationAndRoute.AdministrationName,
			Route:              n.FormulationAndRoute.Route,
			AbsorptionModel:    n.FormulationAndRoute.AbsorptionModel,
		},
		Infusion: time.Duration(n.Dose.Infusion * float64(time.Minute)),
	}
	if sd.Value < 0 {
		return nil, fmt.Errorf("%s: negative dose", name)
	}

	var err error
	switch name {
	case elemLasting:
		sd.Schedule.Kind = treatment.ScheduleLasting
		if sd.Schedule.Interval, err = parseClock(n.Interval); err != nil {
			return nil, fmt.Errorf("%s: interval: %w", name, err)
		}
		if sd.Schedule.Interval <= 0 {
			return nil, fmt.Errorf("%s: interval must be positive", name)
		}
	case elemDaily:
		sd.Schedule.Kind = treatment.ScheduleDaily
		if sd.Schedule.TimeOfDay, err = parseClock(n.Time); err != nil {
			return nil, fmt.Errorf("%s: time: %w", name, err)
		}
	case elemWeekly:
		sd.Schedule.Kind = treatment.ScheduleWeekly
		if n.Day < 0 || n.Day > 6 {
			return nil, fmt.Errorf("%s: day %d out of range", name, n.Day)
		}
		sd.Schedule.Weekday = time.Weekday(n.Day)
		if sd.Schedule.TimeOfDay, err = parseClock(n.Time); err != nil {
			return nil, fmt.Errorf("%s: time: %w", name, err)
		}
	}
	return sd, nil
}

const dateLayout = "2006-01-02T15:04:05"

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// parseClock reads HH:MM:SS. Hours may exceed 23.
func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration %q, expected HH:MM:SS", s)
	}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || (i > 0 && v > 59) {
			return 0, fmt.Errorf("invalid duration %q, expected HH:MM:SS", s)
		}
		total += time.Duration(v) * units[i]
	}
	return total, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
