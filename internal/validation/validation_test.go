package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
)

type dict map[string]string

func (d dict) Translate(key string) string {
	if v, ok := d[key]; ok {
		return v
	}
	return "Translation not found"
}

var testDict = dict{
	KeyBelowMinimum:          "below minimum",
	KeyAboveMaximum:          "above maximum",
	KeySampleBeforeTreatment: "sample before treatment",
	KeyCovariateOutOfRange:   "covariate out of range",
}

var infusion = treatment.FormulationAndRoute{
	Formulation:     "parenteralSolution",
	Route:           "intravenousDrip",
	AbsorptionModel: "infusion",
}

var oral = treatment.FormulationAndRoute{
	Formulation:     "oralSolution",
	Route:           "oral",
	AbsorptionModel: "extravascular",
}

func formulary() []drugmodel.FormularyEntry {
	return []drugmodel.FormularyEntry{{
		ID:                  "id0",
		FormulationAndRoute: infusion,
		DoseUnit:            "mg",
		MinDose:             250,
		MaxDose:             4000,
	}}
}

func dose(id string, value float64, unit string, fr treatment.FormulationAndRoute) *treatment.SingleDose {
	return &treatment.SingleDose{
		ID:                  id,
		Value:               value,
		Unit:                unit,
		FormulationAndRoute: fr,
		Schedule:            treatment.Schedule{Kind: treatment.ScheduleLasting, Interval: 12 * time.Hour},
	}
}

func history(d treatment.Dosage) treatment.DosageHistory {
	start := time.Date(2022, 6, 19, 8, 0, 0, 0, time.UTC)
	return treatment.DosageHistory{{Start: start, End: start.Add(48 * time.Hour), Dosage: d}}
}

func TestValidateDoses_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		unit    string
		warning string
	}{
		{"at minimum", 250, "mg", ""},
		{"at maximum", 4000, "mg", ""},
		{"inside", 1000, "mg", ""},
		{"converted inside", 1, "g", ""},
		{"below", 249, "mg", "below minimum (250 mg)"},
		{"above", 4.5, "g", "above maximum (4000 mg)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dose("d1", tt.value, tt.unit, infusion)
			results, err := ValidateDoses(history(&treatment.Loop{Dosage: d}), formulary(), testDict)
			require.NoError(t, err)
			require.Len(t, results, 1)

			warning, ok := results.Warning(d)
			require.True(t, ok)
			assert.Equal(t, tt.warning, warning)
		})
	}
}

func TestValidateDoses_BoundsAcrossUnits(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		unit     string
		entry    string
		min, max float64
		warning  string
	}{
		{"mg at ug maximum", 1, "mg", "ug", 1000, 1000, ""},
		{"g at mg minimum", 0.7, "g", "mg", 700, 700, ""},
		{"mg at g bounds", 300, "mg", "g", 0.3, 0.3, ""},
		{"ug just above mg maximum", 1001, "ug", "mg", 0.5, 1, "above maximum (1 mg)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := []drugmodel.FormularyEntry{{
				ID:                  "id0",
				FormulationAndRoute: infusion,
				DoseUnit:            tt.entry,
				MinDose:             tt.min,
				MaxDose:             tt.max,
			}}
			d := dose("d1", tt.value, tt.unit, infusion)
			results, err := ValidateDoses(history(d), entries, testDict)
			require.NoError(t, err)

			warning, ok := results.Warning(d)
			require.True(t, ok)
			assert.Equal(t, tt.warning, warning)
		})
	}
}

func TestValidateDoses_WalksEveryComposite(t *testing.T) {
	a := dose("a", 500, "mg", infusion)
	b := dose("b", 100, "mg", infusion)
	c := dose("c", 5000, "mg", infusion)
	tree := &treatment.Sequence{Dosages: []treatment.Dosage{
		&treatment.Repeat{Count: 2, Dosage: a},
		&treatment.Parallel{Dosages: []treatment.Dosage{b, &treatment.Loop{Dosage: c}}},
		a,
	}}

	results, err := ValidateDoses(history(tree), formulary(), testDict)
	require.NoError(t, err)
	require.Len(t, results, 3, "a is reported once")

	assert.Same(t, a, results[0].Dose)
	assert.Same(t, b, results[1].Dose)
	assert.Same(t, c, results[2].Dose)
	assert.Empty(t, results[0].Warning)
	assert.Equal(t, "below minimum (250 mg)", results[1].Warning)
	assert.Equal(t, "above maximum (4000 mg)", results[2].Warning)
}

func TestValidateDoses_AllOrNothing(t *testing.T) {
	t.Run("no formulation", func(t *testing.T) {
		tree := &treatment.Sequence{Dosages: []treatment.Dosage{
			dose("ok", 500, "mg", infusion),
			dose("bad", 500, "mg", oral),
		}}
		results, err := ValidateDoses(history(tree), formulary(), testDict)
		assert.ErrorIs(t, err, ErrNoFormulation)
		assert.Nil(t, results)
	})

	t.Run("unit conversion", func(t *testing.T) {
		tree := &treatment.Sequence{Dosages: []treatment.Dosage{
			dose("ok", 500, "mg", infusion),
			dose("bad", 500, "ml", infusion),
		}}
		results, err := ValidateDoses(history(tree), formulary(), testDict)
		assert.ErrorIs(t, err, ErrUnitConversion)
		assert.Nil(t, results)
	})
}

func TestValidateDoses_EmptyHistory(t *testing.T) {
	results, err := ValidateDoses(nil, formulary(), testDict)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func ptr(v float64) *float64 { return &v }

func vancomycin(id string, weight drugmodel.ValidRange) *drugmodel.DrugModel {
	return &drugmodel.DrugModel{
		ID:     id,
		DrugID: "vancomycin",
		Covariates: []drugmodel.CovariateDefinition{
			{ID: "bodyweight", Unit: "kg", DataType: "double", Validation: &weight},
			{ID: "sex", DataType: "bool"},
		},
		Analytes:       []drugmodel.Analyte{{ID: "vancomycin", Unit: "mg/l"}},
		ActiveMoieties: []drugmodel.ActiveMoiety{{ID: "vancomycin", Unit: "mg/l", AnalyteIDs: []string{"vancomycin"}}},
	}
}

func TestSelectDrugModel(t *testing.T) {
	adult := vancomycin("b.adult", drugmodel.ValidRange{Min: ptr(40), Max: ptr(200), Type: drugmodel.ConstraintHard})
	child := vancomycin("a.child", drugmodel.ValidRange{Min: ptr(3), Max: ptr(40), Type: drugmodel.ConstraintHard})

	tr := &treatment.Treatment{
		DrugID: "vancomycin",
		Covariates: []treatment.Covariate{
			{ID: "bodyweight", Value: "20", Unit: "kg", Date: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "bodyweight", Value: "70000", Unit: "g", Date: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "unknown", Value: "whatever"},
		},
	}

	sel, err := SelectDrugModel(tr, []*drugmodel.DrugModel{child, adult}, testDict)
	require.NoError(t, err)
	assert.Equal(t, "b.adult", sel.Model.ID, "latest weight is 70 kg")
	assert.Empty(t, sel.Warnings)
}

func TestSelectDrugModel_SoftRangeWarns(t *testing.T) {
	m := vancomycin("m", drugmodel.ValidRange{Min: ptr(40), Type: drugmodel.ConstraintSoft})
	tr := &treatment.Treatment{DrugID: "vancomycin", Covariates: []treatment.Covariate{{ID: "bodyweight", Value: "30", Unit: "kg"}}}

	sel, err := SelectDrugModel(tr, []*drugmodel.DrugModel{m}, testDict)
	require.NoError(t, err)
	assert.Equal(t, []string{"covariate out of range: bodyweight"}, sel.Warnings)
}

func TestSelectDrugModel_Errors(t *testing.T) {
	hard := drugmodel.ValidRange{Min: ptr(40), Max: ptr(200), Type: drugmodel.ConstraintHard}

	t.Run("no candidates", func(t *testing.T) {
		_, err := SelectDrugModel(&treatment.Treatment{DrugID: "imatinib"}, nil, testDict)
		require.Error(t, err)
		assert.Equal(t, "No drug model found for drug imatinib.", err.Error())
	})

	tests := []struct {
		name      string
		covariate treatment.Covariate
	}{
		{"hard range", treatment.Covariate{ID: "bodyweight", Value: "500", Unit: "kg"}},
		{"bad unit", treatment.Covariate{ID: "bodyweight", Value: "70", Unit: "ml"}},
		{"bad number", treatment.Covariate{ID: "bodyweight", Value: "heavy", Unit: "kg"}},
		{"bad bool", treatment.Covariate{ID: "sex", Value: "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &treatment.Treatment{DrugID: "vancomycin", Covariates: []treatment.Covariate{tt.covariate}}
			_, err := SelectDrugModel(tr, []*drugmodel.DrugModel{vancomycin("m", hard)}, testDict)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "No suitable drug model found: m: ")
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestValidateSamples(t *testing.T) {
	m := vancomycin("m", drugmodel.ValidRange{})
	now := time.Date(2022, 6, 20, 10, 0, 0, 0, time.UTC)
	base := treatment.Treatment{History: history(dose("d", 1000, "mg", infusion))}

	t.Run("valid with warning", func(t *testing.T) {
		tr := base
		tr.Samples = []treatment.Sample{
			{ID: "s1", AnalyteID: "vancomycin", Value: 12, Unit: "mg/l", Date: now.Add(-2 * time.Hour)},
			{ID: "s2", Value: 8000, Unit: "ug/l", Date: time.Date(2022, 6, 18, 0, 0, 0, 0, time.UTC)},
		}
		results, err := ValidateSamples(&tr, m, now, testDict)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Empty(t, results[0].Warning)
		assert.Equal(t, "sample before treatment", results[1].Warning)
	})

	tests := []struct {
		name   string
		sample treatment.Sample
	}{
		{"unknown analyte", treatment.Sample{ID: "s", AnalyteID: "x", Value: 1, Unit: "mg/l", Date: now}},
		{"bad unit", treatment.Sample{ID: "s", Value: 1, Unit: "mg", Date: now}},
		{"negative", treatment.Sample{ID: "s", Value: -1, Unit: "mg/l", Date: now}},
		{"future", treatment.Sample{ID: "s", Value: 1, Unit: "mg/l", Date: now.Add(time.Minute)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := base
			tr.Samples = []treatment.Sample{tt.sample}
			_, err := ValidateSamples(&tr, m, now, testDict)
			assert.Error(t, err)
		})
	}
}

func TestValidateTargets(t *testing.T) {
	m := vancomycin("m", drugmodel.ValidRange{})

	ok := &treatment.Treatment{Targets: []treatment.Target{
		{ActiveMoietyID: "vancomycin", Type: treatment.TargetResidual, Unit: "mg/l", Min: 10, Best: 15, Max: 20},
		{ActiveMoietyID: "vancomycin", Type: treatment.TargetAUC24, Unit: "mg*h/l", Min: 400, Best: 500, Max: 600},
	}}
	assert.NoError(t, ValidateTargets(ok, m))

	tests := []struct {
		name   string
		target treatment.Target
	}{
		{"unknown moiety", treatment.Target{ActiveMoietyID: "x", Type: treatment.TargetPeak, Unit: "mg/l"}},
		{"auc in concentration", treatment.Target{ActiveMoietyID: "vancomycin", Type: treatment.TargetAUC, Unit: "mg/l"}},
		{"residual in exposure", treatment.Target{ActiveMoietyID: "vancomycin", Type: treatment.TargetResidual, Unit: "mg*h/l"}},
		{"unknown type", treatment.Target{ActiveMoietyID: "vancomycin", Type: "trough", Unit: "mg/l"}},
		{"inverted", treatment.Target{ActiveMoietyID: "vancomycin", Type: treatment.TargetMean, Unit: "mg/l", Min: 20, Best: 15, Max: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargets(&treatment.Treatment{Targets: []treatment.Target{tt.target}}, m)
			assert.Error(t, err)
		})
	}
}

func TestPreflight(t *testing.T) {
	assert.ErrorIs(t, ValidateTargets(nil, nil), ErrNoTreatment)
	assert.ErrorIs(t, ValidateTargets(&treatment.Treatment{}, nil), ErrNoDrugModel)

	_, err := ValidateSamples(&treatment.Treatment{}, nil, time.Now(), testDict)
	assert.ErrorIs(t, err, ErrNoDrugModel)
	assert.Equal(t, KindPreflight, KindOf(err))
	assert.Equal(t, "No drug model set.", err.Error())
}
