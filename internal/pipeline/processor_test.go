package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/query"
)

type countingRecorder struct {
	requests map[string]int
	stages   map[string]int
	runs     []string
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{requests: map[string]int{}, stages: map[string]int{}}
}

func (r *countingRecorder) RequestProcessed(outcome string) { r.requests[outcome]++ }
func (r *countingRecorder) StageFailed(stage string)        { r.stages[stage]++ }
func (r *countingRecorder) RunCompleted(status string)      { r.runs = append(r.runs, status) }

func TestStatusOf(t *testing.T) {
	tests := []struct {
		succeeded, total int
		want             RunStatus
	}{
		{0, 0, NoneSucceeded},
		{0, 3, NoneSucceeded},
		{1, 3, SomeSucceeded},
		{3, 3, AllSucceeded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.succeeded, tt.total))
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		in   []RunStatus
		want RunStatus
	}{
		{nil, NoneSucceeded},
		{[]RunStatus{AllSucceeded, AllSucceeded}, AllSucceeded},
		{[]RunStatus{AllSucceeded, NoneSucceeded}, SomeSucceeded},
		{[]RunStatus{AllSucceeded, ImportError}, SomeSucceeded},
		{[]RunStatus{SomeSucceeded}, SomeSucceeded},
		{[]RunStatus{NoneSucceeded, ImportError}, NoneSucceeded},
		{[]RunStatus{ImportError, ImportError}, ImportError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Combine(tt.in...), "%v", tt.in)
	}
}

func TestRunStatus_ExitCode(t *testing.T) {
	assert.Equal(t, 0, AllSucceeded.ExitCode())
	assert.Equal(t, 1, SomeSucceeded.ExitCode())
	assert.Equal(t, 2, NoneSucceeded.ExitCode())
	assert.Equal(t, 3, ImportError.ExitCode())
	assert.Equal(t, "IMPORT_ERROR", ImportError.String())
}

func TestProcessor_FailureIsolation(t *testing.T) {
	var visited []string
	failing := stageFunc{name: "check", run: func(_ context.Context, res *RequestResult) error {
		if res.Request.ID == "bad" {
			return errors.New("rejected")
		}
		return nil
	}}
	tail := stageFunc{name: "tail", run: func(_ context.Context, res *RequestResult) error {
		visited = append(visited, res.Request.ID)
		return nil
	}}

	rec := newCountingRecorder()
	p := NewProcessor([]Stage{failing, tail}, rec, zap.NewNop())
	run := &query.RunAggregate{QueryID: "q", ComputationTime: referenceTime, Requests: []*query.XpertRequest{
		{ID: "a"}, {ID: "bad"}, {ID: "c"},
	}}

	status, results := p.Process(context.Background(), run)

	assert.Equal(t, SomeSucceeded, status)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "c"}, visited)

	bad := results[1]
	assert.False(t, bad.Succeeded())
	assert.Equal(t, "rejected", bad.ErrorMessage)
	assert.Equal(t, "check", bad.FailedStage)
	assert.Equal(t, referenceTime, results[0].ReferenceTime)

	assert.Equal(t, 2, rec.requests["succeeded"])
	assert.Equal(t, 1, rec.requests["failed"])
	assert.Equal(t, 1, rec.stages["check"])
	assert.Equal(t, []string{"SOME_SUCCEEDED"}, rec.runs)
}

func TestProcessor_NoRequests(t *testing.T) {
	status, results := NewProcessor(nil, nil, nil).Process(context.Background(), &query.RunAggregate{QueryID: "q"})
	assert.Equal(t, NoneSucceeded, status)
	assert.Empty(t, results)
}

func TestRequestResult_Outcome(t *testing.T) {
	res := newResult(vancomycinTreatment(100))
	res.DrugModel = vancomycinModel()
	require.NoError(t, TranslationStage(staticDictionaries{}).Run(context.Background(), res))
	require.NoError(t, DoseStage().Run(context.Background(), res))
	res.CovariateWarnings = []string{"covariate out of range: age"}

	o := res.Outcome()
	assert.True(t, o.Succeeded)
	assert.Equal(t, "ch.tdm.vancomycin.adult", o.DrugModelID)
	assert.Equal(t, []query.Warning{{ID: "dose-1", Message: "below minimum (250 mg)"}}, o.DoseWarnings)
	assert.Equal(t, res.CovariateWarnings, o.CovariateWarnings)

	res.Stop(errors.New("boom"))
	o = res.Outcome()
	assert.False(t, o.Succeeded)
	assert.Equal(t, "boom", o.Error)
}
