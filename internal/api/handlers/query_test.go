package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-tdm/internal/pipeline"
)

type executorFunc func(ctx context.Context, r io.Reader, outputDir string) (*pipeline.Report, error)

func (f executorFunc) Execute(ctx context.Context, r io.Reader, outputDir string) (*pipeline.Report, error) {
	return f(ctx, r, outputDir)
}

type publishedMessage struct {
	topic, key string
	value      []byte
	headers    map[string]string
}

type fakePublisher struct {
	messages []publishedMessage
	err      error
}

func (p *fakePublisher) PublishWithHeaders(_ context.Context, topic, key string, value []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, publishedMessage{topic, key, value, headers})
	return nil
}

type fakeRuns map[string]*pipeline.ResultEvent

func (f fakeRuns) Run(_ context.Context, id string) (*pipeline.ResultEvent, error) {
	if ev, ok := f[id]; ok {
		return ev, nil
	}
	return nil, pipeline.ErrRunNotFound
}

func serve(h *QueryHandler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestQueryHandler_Run(t *testing.T) {
	var gotDir string
	h := NewQueryHandler(QueryConfig{
		OutputDir: "/tmp/out",
		Service: executorFunc(func(_ context.Context, r io.Reader, dir string) (*pipeline.Report, error) {
			gotDir = dir
			body, _ := io.ReadAll(r)
			assert.Equal(t, "<query/>", string(body))
			return &pipeline.Report{RunID: "run-1", QueryID: "q1", Status: pipeline.NoneSucceeded}, errors.New("store report: down")
		}),
	})

	rec := serve(h, http.MethodPost, "/queries", "<query/>")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/tmp/out", gotDir)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "NONE_SUCCEEDED", resp.Status)
	assert.Equal(t, 2, resp.ExitCode)
	assert.Equal(t, "store report: down", resp.DeliveryError)
}

func TestQueryHandler_Run_ImportError(t *testing.T) {
	h := NewQueryHandler(QueryConfig{
		Service: executorFunc(func(context.Context, io.Reader, string) (*pipeline.Report, error) {
			return &pipeline.Report{RunID: "run-1", Status: pipeline.ImportError}, errors.New("malformed query")
		}),
	})

	rec := serve(h, http.MethodPost, "/queries", "not xml")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed query")
}

func TestQueryHandler_Submit(t *testing.T) {
	pub := &fakePublisher{}
	h := NewQueryHandler(QueryConfig{Publisher: pub, Topic: "tdm.queries"})

	rec := serve(h, http.MethodPost, "/queries/async", "<query/>")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "tdm.queries", pub.messages[0].topic)
	assert.Equal(t, resp.SubmissionID, pub.messages[0].key)
	assert.Equal(t, "<query/>", string(pub.messages[0].value))
	assert.Equal(t, "application/xml", pub.messages[0].headers["content-type"])

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/queries/async", "  ").Code)

	pub.err = errors.New("broker down")
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodPost, "/queries/async", "<query/>").Code)
}

func TestQueryHandler_Submit_NotConfigured(t *testing.T) {
	h := NewQueryHandler(QueryConfig{})
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodPost, "/queries/async", "<query/>").Code)
}

func TestQueryHandler_GetRun(t *testing.T) {
	h := NewQueryHandler(QueryConfig{Runs: fakeRuns{"run-1": {RunID: "run-1", Status: "ALL_SUCCEEDED"}}})

	rec := serve(h, http.MethodGet, "/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ALL_SUCCEEDED"`)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/runs/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(NewQueryHandler(QueryConfig{}), http.MethodGet, "/runs/run-1", "").Code)
}

func TestReady(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	rec := httptest.NewRecorder()
	Ready(map[string]Check{"database": ok}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	Ready(map[string]Check{"database": ok, "engine": down}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"database":"ok","engine":"connection refused"}`, rec.Body.String())
}
