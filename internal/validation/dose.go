package validation

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/units"
)

var (
	ErrNoFormulation  = errors.New("no matching formulation/route")
	ErrUnitConversion = errors.New("dose unit conversion failed")
)

// DoseResult associates a single dose with its warning. An empty warning means
// the dose lies within the recommended range.
type DoseResult struct {
	Dose    *treatment.SingleDose
	Warning string
}

// DoseResults holds one result per distinct single dose, in tree order.
type DoseResults []DoseResult

// Warning returns the warning recorded for dose.
func (r DoseResults) Warning(dose *treatment.SingleDose) (string, bool) {
	for _, res := range r {
		if res.Dose == dose {
			return res.Warning, true
		}
	}
	return "", false
}

// ValidateDoses checks every single dose of history against the formulary.
// The result is all-or-nothing: when any dose has no formulary entry or cannot
// be converted into the entry's unit, no result is returned.
func ValidateDoses(history treatment.DosageHistory, formulary []drugmodel.FormularyEntry, tr Translator) (DoseResults, error) {
	v := &doseValidator{
		formulary: formulary,
		tr:        tr,
		seen:      make(map[*treatment.SingleDose]bool),
	}
	for _, r := range history {
		if r.Dosage == nil {
			continue
		}
		if err := v.visit(r.Dosage); err != nil {
			return nil, err
		}
	}
	return v.results, nil
}

type doseValidator struct {
	formulary []drugmodel.FormularyEntry
	tr        Translator
	seen      map[*treatment.SingleDose]bool
	results   DoseResults
}

func (v *doseValidator) visit(d treatment.Dosage) error {
	switch d.Kind() {
	case treatment.KindSingleDose:
		return v.check(d.(*treatment.SingleDose))
	case treatment.KindRepeat:
		return v.visit(d.(*treatment.Repeat).Dosage)
	case treatment.KindSequence:
		return v.visitAll(d.(*treatment.Sequence).Dosages)
	case treatment.KindParallel:
		return v.visitAll(d.(*treatment.Parallel).Dosages)
	case treatment.KindLoop:
		return v.visit(d.(*treatment.Loop).Dosage)
	default:
		return fmt.Errorf("%w: %v", treatment.ErrUnknownKind, d.Kind())
	}
}

func (v *doseValidator) visitAll(children []treatment.Dosage) error {
	for _, child := range children {
		if err := v.visit(child); err != nil {
			return err
		}
	}
	return nil
}

func (v *doseValidator) check(dose *treatment.SingleDose) error {
	if v.seen[dose] {
		return nil
	}

	entry := findEntry(v.formulary, dose.FormulationAndRoute)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrNoFormulation, dose.FormulationAndRoute)
	}

	value, err := units.Convert(dose.Value, dose.Unit, entry.DoseUnit)
	if err != nil {
		return fmt.Errorf("%w: %s to %s: %v", ErrUnitConversion, dose.Unit, entry.DoseUnit, err)
	}

	var warning string
	switch {
	case value < entry.MinDose:
		warning = v.rangeWarning(KeyBelowMinimum, entry.MinDose, entry.DoseUnit)
	case value > entry.MaxDose:
		warning = v.rangeWarning(KeyAboveMaximum, entry.MaxDose, entry.DoseUnit)
	}

	v.seen[dose] = true
	v.results = append(v.results, DoseResult{Dose: dose, Warning: warning})
	return nil
}

func (v *doseValidator) rangeWarning(key string, bound float64, unit string) string {
	return fmt.Sprintf("%s (%s %s)", v.tr.Translate(key), formatValue(bound), unit)
}

func findEntry(formulary []drugmodel.FormularyEntry, fr treatment.FormulationAndRoute) *drugmodel.FormularyEntry {
	for i := range formulary {
		if formulary[i].FormulationAndRoute.Matches(fr) {
			return &formulary[i]
		}
	}
	return nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
