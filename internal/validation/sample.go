package validation

import (
	"fmt"
	"time"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/units"
)

// SampleResult carries the warning attached to one sample.
type SampleResult struct {
	Sample  *treatment.Sample
	Warning string
}

// ValidateSamples checks the samples of t against m at reference time now.
func ValidateSamples(t *treatment.Treatment, m *drugmodel.DrugModel, now time.Time, tr Translator) ([]SampleResult, error) {
	if t == nil {
		return nil, ErrNoTreatment
	}
	if m == nil {
		return nil, ErrNoDrugModel
	}

	oldest, hasHistory := t.History.Oldest()
	results := make([]SampleResult, 0, len(t.Samples))
	for i := range t.Samples {
		s := &t.Samples[i]

		unit, err := analyteUnit(m, s.AnalyteID)
		if err != nil {
			return nil, Errorf(KindValidation, err, "sample %s: %v", s.ID, err)
		}
		if !units.Convertible(s.Unit, unit) {
			return nil, Errorf(KindValidation, units.ErrIncompatible, "sample %s: unit %q cannot be converted to %q", s.ID, s.Unit, unit)
		}
		if s.Value < 0 {
			return nil, Errorf(KindValidation, nil, "sample %s: negative value %s", s.ID, formatValue(s.Value))
		}
		if s.Date.After(now) {
			return nil, Errorf(KindValidation, nil, "sample %s: date %s is in the future", s.ID, s.Date.Format(time.RFC3339))
		}

		var warning string
		if hasHistory && s.Date.Before(oldest.Start) {
			warning = tr.Translate(KeySampleBeforeTreatment)
		}
		results = append(results, SampleResult{Sample: s, Warning: warning})
	}
	return results, nil
}

func analyteUnit(m *drugmodel.DrugModel, analyteID string) (string, error) {
	if analyteID != "" {
		a, ok := m.Analyte(analyteID)
		if !ok {
			return "", fmt.Errorf("unknown analyte %q for drug model %s", analyteID, m.ID)
		}
		return a.Unit, nil
	}
	if len(m.Analytes) > 0 {
		return m.Analytes[0].Unit, nil
	}
	if len(m.ActiveMoieties) > 0 {
		return m.ActiveMoieties[0].Unit, nil
	}
	return "", fmt.Errorf("drug model %s declares no analyte", m.ID)
}
