package drugmodel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
)

func TestRepository_AddFolderPath(t *testing.T) {
	repo := NewRepository(zap.NewNop())

	added, err := repo.AddFolderPath(context.Background(), "testdata")
	require.NoError(t, err)
	assert.Equal(t, 1, added, "broken.xml is skipped, notes.txt ignored")

	models := repo.ModelsByDrugID("vancomycin")
	require.Len(t, models, 1)

	m := models[0]
	assert.Equal(t, "ch.tdm.vancomycin.adult", m.ID)
	assert.Equal(t, 12*time.Hour, m.HalfLifeDuration)
	assert.True(t, m.LoadingDoseRecommended)
	assert.False(t, m.RestPeriodRecommended)
	assert.False(t, m.HasStandardTreatment())

	entry, ok := m.FindFormulary(treatment.FormulationAndRoute{
		Formulation:     "parenteralSolution",
		Route:           "intravenousDrip",
		AbsorptionModel: "infusion",
	})
	require.True(t, ok)
	assert.Equal(t, "mg", entry.DoseUnit)
	assert.Equal(t, 250.0, entry.MinDose)
	assert.Equal(t, 4000.0, entry.MaxDose)
	assert.Len(t, entry.Intervals, 4)

	age, ok := m.Covariate("age")
	require.True(t, ok)
	require.NotNil(t, age.Validation)
	assert.Nil(t, age.Validation.Max)
	assert.Equal(t, 18.0, *age.Validation.Min)

	assert.Empty(t, repo.ModelsByDrugID("imatinib"))
}

func TestRepository_MissingFolder(t *testing.T) {
	repo := NewRepository(nil)
	_, err := repo.AddFolderPath(context.Background(), "testdata/does-not-exist")
	assert.Error(t, err)
}

func TestRepository_DuplicateIgnored(t *testing.T) {
	repo := NewRepository(nil)
	m := &DrugModel{ID: "a", DrugID: "d"}
	assert.True(t, repo.Add(m))
	assert.False(t, repo.Add(&DrugModel{ID: "a", DrugID: "d"}))
	assert.Equal(t, 1, repo.Len())
}

func TestParse_StandardTreatment(t *testing.T) {
	doc := `<model><drugModel>
		<drugId>busulfan</drugId><drugModelId>ch.tdm.busulfan</drugModelId>
		<timeConsiderations><halfLife><unit>h</unit><value>3</value></halfLife></timeConsiderations>
		<dosages>
			<standardTreatment><isFixedDuration>true</isFixedDuration><timeValue><unit>d</unit><value>4</value></timeValue></standardTreatment>
			<formulationAndRoutes default="id0"><formulationAndRoute>
				<formulationAndRouteId>id0</formulationAndRouteId>
				<formulation>parenteralSolution</formulation>
				<administrationRoute>intravenousDrip</administrationRoute>
				<absorptionModel>infusion</absorptionModel>
				<dosages><availableDoses><unit>mg</unit><rangeValues><from>10</from><to>500</to></rangeValues></availableDoses></dosages>
			</formulationAndRoute></formulationAndRoutes>
		</dosages>
	</drugModel></model>`

	m, err := Parse(strings.NewReader(doc), "inline")
	require.NoError(t, err)
	require.True(t, m.HasStandardTreatment())
	assert.Equal(t, 96*time.Hour, m.StandardTreatment.Duration)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `<model><drugModel>`},
		{"missing ids", `<model><drugModel></drugModel></model>`},
		{"no half-life", `<model><drugModel><drugId>a</drugId><drugModelId>b</drugModelId></drugModel></model>`},
		{"no formulary", `<model><drugModel><drugId>a</drugId><drugModelId>b</drugModelId>
			<timeConsiderations><halfLife><unit>h</unit><value>3</value></halfLife></timeConsiderations>
		</drugModel></model>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc), tt.name)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}
