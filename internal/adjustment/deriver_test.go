package adjustment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/validation"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

var reference = at("2022-06-20T10:00:00")

func model() *drugmodel.DrugModel {
	return &drugmodel.DrugModel{
		ID:                     "ch.tdm.vancomycin.adult",
		DrugID:                 "vancomycin",
		HalfLifeDuration:       12 * time.Hour,
		LoadingDoseRecommended: true,
	}
}

func standardModel() *drugmodel.DrugModel {
	m := model()
	m.ID = "ch.tdm.busulfan"
	m.StandardTreatment = &drugmodel.StandardTreatment{IsFixedDuration: true, Duration: 96 * time.Hour}
	return m
}

func every12h(start, end time.Time) treatment.TimeRange {
	return treatment.TimeRange{
		Start: start,
		End:   end,
		Dosage: &treatment.Loop{Dosage: &treatment.SingleDose{
			ID:       "d",
			Value:    1000,
			Unit:     "mg",
			Schedule: treatment.Schedule{Kind: treatment.ScheduleLasting, Interval: 12 * time.Hour},
		}},
	}
}

func derive(t *testing.T, tr *treatment.Treatment, m *drugmodel.DrugModel, req Request) *Trait {
	t.Helper()
	trait, err := NewDeriver(FixedClock(reference), nil).Derive(tr, m, req)
	require.NoError(t, err)
	return trait
}

func TestDerive_NoHistory(t *testing.T) {
	trait := derive(t, &treatment.Treatment{}, model(), Request{ID: "r1"})

	assert.Equal(t, at("2022-06-20T11:00:00"), trait.AdjustmentTime)
	assert.Equal(t, at("2022-06-20T10:00:00"), trait.Start)
	assert.Equal(t, at("2022-06-27T10:00:00"), trait.End)
	assert.Equal(t, Apriori, trait.PredictionType)
	assert.Equal(t, "r1", trait.RequestID)
	assert.Equal(t, PointsPerHour, trait.PointsPerHour)
	assert.Equal(t, DefaultComputingOptions(), trait.Computing)
}

func TestDerive_FutureHistory(t *testing.T) {
	tr := &treatment.Treatment{History: treatment.DosageHistory{
		every12h(at("2022-06-21T08:00:00"), at("2022-06-23T08:00:00")),
	}}
	trait := derive(t, tr, model(), Request{})
	assert.Equal(t, at("2022-06-20T11:00:00"), trait.AdjustmentTime)
}

func TestDerive_Ongoing(t *testing.T) {
	tr := &treatment.Treatment{History: treatment.DosageHistory{
		every12h(at("2022-06-19T08:00:00"), at("2022-06-21T08:00:00")),
	}}
	trait := derive(t, tr, model(), Request{})
	assert.Equal(t, at("2022-06-20T20:00:00"), trait.AdjustmentTime)
}

func TestDerive_OngoingOpenEnded(t *testing.T) {
	tr := &treatment.Treatment{History: treatment.DosageHistory{
		every12h(at("2022-06-19T08:00:00"), time.Time{}),
	}}
	trait := derive(t, tr, model(), Request{})
	assert.Equal(t, at("2022-06-20T20:00:00"), trait.AdjustmentTime)
}

func TestDerive_OngoingWithoutRemainingIntake(t *testing.T) {
	// Single intake at 08:00 on the 19th, range still running at reference time.
	tr := &treatment.Treatment{History: treatment.DosageHistory{{
		Start: at("2022-06-19T08:00:00"),
		End:   at("2022-06-21T08:00:00"),
		Dosage: &treatment.SingleDose{
			ID:       "d",
			Schedule: treatment.Schedule{Kind: treatment.ScheduleLasting, Interval: 12 * time.Hour},
		},
	}}}
	trait := derive(t, tr, model(), Request{})
	assert.Equal(t, at("2022-06-21T08:00:00"), trait.AdjustmentTime)
}

func TestDerive_Completed(t *testing.T) {
	tr := &treatment.Treatment{
		History: treatment.DosageHistory{every12h(at("2018-07-06T09:00:00"), at("2018-07-08T09:00:00"))},
		Samples: []treatment.Sample{{ID: "s1", Date: at("2018-07-07T08:00:00"), Value: 10, Unit: "mg/l"}},
	}
	trait := derive(t, tr, model(), Request{})

	assert.Equal(t, at("2022-06-20T21:00:00"), trait.AdjustmentTime)
	assert.Equal(t, Aposteriori, trait.PredictionType)
	assert.Equal(t, at("2022-06-20T20:00:00"), trait.Start)
	assert.Equal(t, at("2022-06-27T20:00:00"), trait.End)
}

func TestDerive_ExplicitAdjustmentTime(t *testing.T) {
	explicit := at("2022-06-22T07:30:00")
	tr := &treatment.Treatment{History: treatment.DosageHistory{
		every12h(at("2022-06-19T08:00:00"), at("2022-06-21T08:00:00")),
	}}
	trait := derive(t, tr, model(), Request{AdjustmentTime: explicit})
	assert.Equal(t, explicit, trait.AdjustmentTime)
	assert.Equal(t, Apriori, trait.PredictionType, "no samples")
}

func TestDerive_StandardTreatment(t *testing.T) {
	tr := &treatment.Treatment{History: treatment.DosageHistory{
		every12h(at("2022-06-19T08:00:00"), at("2022-06-21T08:00:00")),
	}}
	trait := derive(t, tr, standardModel(), Request{})

	assert.Equal(t, at("2022-06-19T08:00:00"), trait.Start)
	assert.Equal(t, at("2022-06-23T08:00:00"), trait.End)
	assert.Equal(t, WithinTreatmentTimeRange, trait.SteadyStateTarget)
}

func TestDerive_StandardTreatmentWithoutHistory(t *testing.T) {
	trait := derive(t, &treatment.Treatment{}, standardModel(), Request{})
	assert.Equal(t, reference, trait.Start)
	assert.Equal(t, reference.Add(96*time.Hour), trait.End)
}

func TestDerive_StandardTreatmentOver(t *testing.T) {
	tr := &treatment.Treatment{History: treatment.DosageHistory{
		every12h(at("2022-06-10T08:00:00"), at("2022-06-12T08:00:00")),
	}}
	_, err := NewDeriver(FixedClock(reference), nil).Derive(tr, standardModel(), Request{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTreatmentOver)
	assert.Contains(t, err.Error(), "ch.tdm.busulfan")
	assert.Contains(t, err.Error(), "treatment is already over")
	assert.Equal(t, validation.KindValidation, validation.KindOf(err))
}

func TestDerive_Preflight(t *testing.T) {
	d := NewDeriver(FixedClock(reference), nil)

	_, err := d.Derive(nil, model(), Request{})
	require.Error(t, err)
	assert.Equal(t, "No treatment set.", err.Error())

	_, err = d.Derive(&treatment.Treatment{}, nil, Request{})
	require.Error(t, err)
	assert.Equal(t, "No drug model set.", err.Error())
}

func TestResolveOptions(t *testing.T) {
	m := model()

	opts := ResolveOptions(Request{}, m)
	assert.Equal(t, Options{
		Loading:                      LoadingDoseAllowed,
		RestPeriod:                   NoRestPeriod,
		SteadyStateTarget:            AtSteadyState,
		TargetExtraction:             DefinitionIfNoIndividualTarget,
		FormulationAndRouteSelection: LastFormulationAndRoute,
		BestCandidates:               BestDosagePerInterval,
	}, opts)

	opts = ResolveOptions(Request{
		Loading:                      NoLoadingDose,
		RestPeriod:                   RestPeriodAllowed,
		TargetExtraction:             PopulationValues,
		FormulationAndRouteSelection: AllFormulationAndRoutes,
	}, standardModel())
	assert.Equal(t, NoLoadingDose, opts.Loading)
	assert.Equal(t, RestPeriodAllowed, opts.RestPeriod)
	assert.Equal(t, WithinTreatmentTimeRange, opts.SteadyStateTarget)
	assert.Equal(t, PopulationValues, opts.TargetExtraction)
	assert.Equal(t, AllFormulationAndRoutes, opts.FormulationAndRouteSelection)
	assert.Equal(t, BestDosagePerInterval, opts.BestCandidates)
}
