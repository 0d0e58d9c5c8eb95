package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vos/internal/config"
	"vos/internal/models"
	"vos/internal/personas"
	"vos/internal/providers"
	"vos/internal/review"
	"vos/internal/storage"
	"vos/internal/synthesis"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/mocks"
)

const testDoc = "# Launch Plan\n\nWe ship on Friday.\nRollback is manual."

type testEnv struct {
	srv     *httptest.Server
	handler http.Handler
	store   *storage.MemoryStore
	orch    *review.Orchestrator
}

func newTestEnv(t *testing.T, temporal *mocks.Client) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	store := storage.NewMemoryStore()
	registry, err := personas.Default()
	require.NoError(t, err)
	manager := providers.NewManagerWithProviders(nil, 0)

	orch := review.NewOrchestrator(store, registry, review.NewClient(manager, store, log, 0), log, review.Options{
		PersonaTimeout: 5 * time.Second,
	})
	engine := synthesis.NewEngine(store, synthesis.NewModelJudge(manager, store, log, 0), nil, log, synthesis.Options{
		Proximity: 2,
		Threshold: 0.5,
		Timeout:   5 * time.Second,
	})

	cfg := config.Config{
		DataDir:           t.TempDir(),
		SSEHeartbeat:      20 * time.Millisecond,
		MaxUploadBytes:    1 << 20,
		CORSOrigins:       []string{"*"},
		TemporalTaskQueue: "vos-test",
		PersonaTimeout:    5 * time.Second,
	}
	deps := Deps{
		Store:        store,
		Personas:     registry,
		Orchestrator: orch,
		Synthesis:    engine,
		Providers:    manager,
	}
	if temporal != nil {
		deps.Temporal = temporal
	}
	handler := NewServer(cfg, log, deps).Routes()
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Wait(ctx)
	})
	return &testEnv{srv: srv, handler: handler, store: store, orch: orch}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (e *testEnv) createDoc(t *testing.T, content string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/documents", map[string]any{"content": content})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

type sseRecord struct {
	Event string
	Data  review.Event
}

// readStream reads SSE records until the stream closes.
func readStream(t *testing.T, body io.Reader) []sseRecord {
	t.Helper()
	var out []sseRecord
	var cur sseRecord
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.Data))
		case line == "" && cur.Event != "":
			out = append(out, cur)
			cur = sseRecord{}
		}
	}
	return out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestStreamReviewThenSynthesize(t *testing.T) {
	env := newTestEnv(t, nil)
	docID := env.createDoc(t, testDoc)

	payload, _ := json.Marshal(map[string]any{"persona_ids": []string{"devils-advocate", "casual-reader"}})
	resp, err := http.Post(env.srv.URL+"/api/v1/documents/"+docID+"/reviews", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	records := readStream(t, resp.Body)
	require.NotEmpty(t, records)

	require.Equal(t, review.EventPersonaStatus, records[0].Event)
	require.Equal(t, "queued", records[0].Data.Status)

	last := records[len(records)-1]
	require.Equal(t, review.EventDone, last.Event)
	require.NotNil(t, last.Data.TotalComments)
	require.Equal(t, 4, *last.Data.TotalComments)
	require.Equal(t, string(models.ReviewCompleted), last.Data.Status)
	reviewID := last.Data.ReviewID

	comments := 0
	completed := map[string]bool{}
	for _, rec := range records {
		require.Equal(t, rec.Event, rec.Data.Type)
		switch rec.Event {
		case review.EventComment:
			comments++
			require.False(t, completed[rec.Data.Comment.PersonaID], "comment after persona completed")
			require.GreaterOrEqual(t, rec.Data.Comment.StartLine, 0)
			require.Less(t, rec.Data.Comment.EndLine, 4)
		case review.EventPersonaStatus:
			if rec.Data.Status == string(models.PersonaCompleted) {
				completed[rec.Data.PersonaID] = true
			}
		}
	}
	require.Equal(t, 4, comments)
	require.Len(t, completed, 2)

	r, body := env.do(t, http.MethodGet, "/api/v1/reviews/"+reviewID+"/comments", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, body["comments"], 4)

	r, body = env.do(t, http.MethodGet, "/api/v1/reviews/"+reviewID+"/synthesis", nil)
	require.Equal(t, http.StatusNotFound, r.StatusCode)
	require.Equal(t, "VOS-API-4004", errorCode(body))

	r, body = env.do(t, http.MethodPost, "/api/v1/reviews/"+reviewID+"/synthesis", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, false, body["cached"])
	metas := body["meta_comments"].([]any)
	require.Len(t, metas, 1)
	sources := metas[0].(map[string]any)["sources"].([]any)
	require.Len(t, sources, 4)

	r, body = env.do(t, http.MethodPost, "/api/v1/reviews/"+reviewID+"/synthesis", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, true, body["cached"])

	r, body = env.do(t, http.MethodGet, "/api/v1/reviews/"+reviewID+"/synthesis", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, body["meta_comments"], 1)

	r, body = env.do(t, http.MethodGet, "/api/v1/documents/"+docID+"/reviews/latest/comments", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, reviewID, body["review"].(map[string]any)["id"])

	r, body = env.do(t, http.MethodGet, "/api/v1/reviews/"+reviewID+"/progress", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, "store", body["source"])
	progress := body["progress"].(map[string]any)
	require.EqualValues(t, 2, progress["done"])
	require.Equal(t, "completed", progress["synthesis"])
}

func TestStreamReviewRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	docID := env.createDoc(t, testDoc)

	resp, body := env.do(t, http.MethodPost, "/api/v1/documents/"+docID+"/reviews", map[string]any{"persona_ids": []string{"ghost"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VOS-API-4001", errorCode(body))
	assert.Contains(t, body["error"].(map[string]any)["message"], "ghost")

	resp, _ = env.do(t, http.MethodPost, "/api/v1/documents/missing/reviews", map[string]any{})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/documents/"+docID+"/archive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = env.do(t, http.MethodPost, "/api/v1/documents/"+docID+"/reviews", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "VOS-API-4009", errorCode(body))
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/documents", map[string]any{"content": "  \n "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Document content is empty", body["error"].(map[string]any)["message"])

	id := env.createDoc(t, testDoc)

	resp, body = env.do(t, http.MethodGet, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Launch Plan", body["title"])
	require.EqualValues(t, 4, body["line_count"])
	require.NotEmpty(t, body["content_hash"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/content", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["lines"], 4)

	resp, body = env.do(t, http.MethodGet, "/api/v1/documents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["documents"], 1)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/documents/"+id+"/archive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = env.do(t, http.MethodGet, "/api/v1/documents", nil)
	require.Empty(t, body["documents"])
	_, body = env.do(t, http.MethodGet, "/api/v1/documents?include_archived=true", nil)
	require.Len(t, body["documents"], 1)
	resp, _ = env.do(t, http.MethodPost, "/api/v1/documents/"+id+"/unarchive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/reviews", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body["reviews"])

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = env.do(t, http.MethodGet, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "VOS-API-4004", errorCode(body))
	resp, _ = env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/reviews/latest/comments", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func (e *testEnv) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestUploadDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.upload(t, "notes.md", "no heading here\nsecond line\n")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "notes", doc.Title)
	require.Equal(t, 2, doc.LineCount)

	rec = env.upload(t, "plan.md", testDoc)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "Launch Plan", doc.Title)

	rec = env.upload(t, "report.pdf", "%PDF")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.upload(t, "big.md", strings.Repeat("x", 2<<20))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	_, body := env.do(t, http.MethodGet, "/api/v1/documents", nil)
	require.Len(t, body["documents"], 2)
}

func TestSynthesisRequiresCompletedReview(t *testing.T) {
	env := newTestEnv(t, nil)
	docID := env.createDoc(t, testDoc)
	plan, err := env.orch.Prepare(context.Background(), docID, []string{"devils-advocate"})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPost, "/api/v1/reviews/"+plan.Review.ID+"/synthesis", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "VOS-API-4009", errorCode(body))

	resp, _ = env.do(t, http.MethodPost, "/api/v1/reviews/nope/synthesis", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAsyncReview(t *testing.T) {
	env := newTestEnv(t, nil)
	docID := env.createDoc(t, testDoc)
	resp, body := env.do(t, http.MethodPost, "/api/v1/documents/"+docID+"/reviews/async", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "VOS-API-5030", errorCode(body))

	tc := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("review-fixed")
	run.On("GetRunID").Return("run-1")
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(run, nil)

	env = newTestEnv(t, tc)
	docID = env.createDoc(t, testDoc)
	resp, body = env.do(t, http.MethodPost, "/api/v1/documents/"+docID+"/reviews/async", map[string]any{"synthesize": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "review-fixed", body["workflow_id"])
	reviewID := body["review_id"].(string)

	rv, err := env.store.GetReview(context.Background(), reviewID)
	require.NoError(t, err)
	require.Equal(t, models.ReviewQueued, rv.Status)
	require.Len(t, rv.PersonaIDs, 4)
	tc.AssertExpectations(t)
}

func TestStatusAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	_, body = env.do(t, http.MethodGet, "/status", nil)
	checks := body["checks"].(map[string]any)
	require.Equal(t, statusHealthy, checks["database"].(map[string]any)["status"])
	require.Equal(t, statusDegraded, checks["providers"].(map[string]any)["status"])
	require.Contains(t, checks, "disk")
	require.NotContains(t, checks, "temporal")
	require.NotEqual(t, statusHealthy, body["status"])

	resp, _ = env.do(t, http.MethodGet, "/no/such/route", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "vos_http_requests_total")
}

func TestWorse(t *testing.T) {
	require.Equal(t, statusDegraded, worse(statusHealthy, statusDegraded))
	require.Equal(t, statusUnhealthy, worse(statusUnhealthy, statusDegraded))
	require.Equal(t, statusHealthy, worse(statusHealthy, statusHealthy))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get document: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("prepare: %w", review.ErrUnknownPersona), http.StatusBadRequest},
		{review.ErrNoPersonas, http.StatusBadRequest},
		{review.ErrDocumentArchived, http.StatusConflict},
		{synthesis.ErrSynthesisInProgress, http.StatusConflict},
		{&synthesis.SynthesisError{ReviewID: "r", Err: errors.New("boom")}, http.StatusBadGateway},
		{badRequest("nope"), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}

	apiErr := toAPIError(http.StatusInternalServerError, errors.New("dial tcp 127.0.0.1:5432: connection refused"))
	require.Equal(t, "VOS-DB-5002", apiErr.Code)
	apiErr = toAPIError(http.StatusConflict, synthesis.ErrSynthesisInProgress)
	require.Equal(t, "VOS-API-4091", apiErr.Code)
}

func TestAsyncReviewStartFailureMarksReviewFailed(t *testing.T) {
	tc := &mocks.Client{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("frontend unavailable"))
	env := newTestEnv(t, tc)
	docID := env.createDoc(t, testDoc)

	resp, body := env.do(t, http.MethodPost, "/api/v1/documents/"+docID+"/reviews/async", map[string]any{"persona_ids": []string{"casual-reader"}})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "VOS-API-5000", errorCode(body))

	list, err := env.store.ListReviews(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.ReviewFailed, list[0].Status)
	require.Equal(t, "workflow start failed", list[0].Error)
}
