package validation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/units"
)

// ModelSelection is the outcome of SelectDrugModel.
type ModelSelection struct {
	Model *drugmodel.DrugModel
	// Warnings lists soft range violations of the selected model.
	Warnings []string
}

// SelectDrugModel picks the first candidate, by model id, that accepts the
// patient covariates of t. A candidate is rejected when a covariate it knows
// has an inconvertible unit, an unparsable value or violates a hard range.
func SelectDrugModel(t *treatment.Treatment, candidates []*drugmodel.DrugModel, tr Translator) (*ModelSelection, error) {
	if t == nil {
		return nil, ErrNoTreatment
	}
	if len(candidates) == 0 {
		return nil, Errorf(KindValidation, nil, "No drug model found for drug %s.", t.DrugID)
	}

	sorted := make([]*drugmodel.DrugModel, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	latest := t.LatestCovariates()
	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var reasons []string
	for _, m := range sorted {
		warnings, err := checkCovariates(m, latest, ids, tr)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", m.ID, err))
			continue
		}
		return &ModelSelection{Model: m, Warnings: warnings}, nil
	}
	return nil, Errorf(KindValidation, nil, "No suitable drug model found: %s", strings.Join(reasons, "; "))
}

func checkCovariates(m *drugmodel.DrugModel, latest map[string]treatment.Covariate, ids []string, tr Translator) ([]string, error) {
	var warnings []string
	for _, id := range ids {
		def, ok := m.Covariate(id)
		if !ok {
			continue
		}
		c := latest[id]

		value, numeric, err := parseCovariate(c, def)
		if err != nil {
			return nil, err
		}
		if !numeric || def.Validation == nil {
			continue
		}

		r := def.Validation
		if (r.Min == nil || value >= *r.Min) && (r.Max == nil || value <= *r.Max) {
			continue
		}
		if r.Type == drugmodel.ConstraintSoft {
			warnings = append(warnings, fmt.Sprintf("%s: %s", tr.Translate(KeyCovariateOutOfRange), id))
			continue
		}
		return nil, fmt.Errorf("covariate %s value %s %s out of range", id, formatValue(value), def.Unit)
	}
	return warnings, nil
}

// parseCovariate returns the numeric value of c expressed in the unit of def.
// numeric is false for data types without an order, such as bool.
func parseCovariate(c treatment.Covariate, def *drugmodel.CovariateDefinition) (value float64, numeric bool, err error) {
	dataType := def.DataType
	if dataType == "" {
		dataType = c.DataType
	}
	raw := strings.TrimSpace(c.Value)

	switch strings.ToLower(dataType) {
	case "bool":
		if _, err := strconv.ParseBool(raw); err != nil {
			return 0, false, fmt.Errorf("covariate %s: invalid bool %q", c.ID, c.Value)
		}
		return 0, false, nil
	case "date":
		if _, err := time.Parse(time.RFC3339, raw); err != nil {
			if _, err := time.Parse("2006-01-02T15:04:05", raw); err != nil {
				return 0, false, fmt.Errorf("covariate %s: invalid date %q", c.ID, c.Value)
			}
		}
		return 0, false, nil
	case "int":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v != math.Trunc(v) {
			return 0, false, fmt.Errorf("covariate %s: invalid int %q", c.ID, c.Value)
		}
		value = v
	default:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, false, fmt.Errorf("covariate %s: invalid number %q", c.ID, c.Value)
		}
		value = v
	}

	unit := c.Unit
	if unit == "" {
		unit = def.Unit
	}
	value, err = units.Convert(value, unit, def.Unit)
	if err != nil {
		return 0, false, fmt.Errorf("covariate %s: %w", c.ID, err)
	}
	return value, true, nil
}
