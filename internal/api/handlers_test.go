package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/uswahq/uswa/internal/agent"
	"github.com/uswahq/uswa/internal/ingest"
	"github.com/uswahq/uswa/internal/scheduler"
	"github.com/uswahq/uswa/internal/storage"
	"github.com/uswahq/uswa/internal/triage"
)

const testToken = "test-token"

type mockIngester struct {
	res ingest.Result
	err error
}

func (m *mockIngester) Ingest(context.Context, string, string) (ingest.Result, error) {
	return m.res, m.err
}

type mockAgent struct {
	res    agent.Result
	err    error
	lastIn agent.Input
}

func (m *mockAgent) Chat(_ context.Context, in agent.Input) (agent.Result, error) {
	m.lastIn = in
	return m.res, m.err
}

type mockScheduler struct {
	res scheduler.Result
	err error
}

func (m *mockScheduler) Run(context.Context, string) (scheduler.Result, error) {
	return m.res, m.err
}

type mockTriager struct {
	res    triage.Result
	err    error
	lastIn triage.Input
}

func (m *mockTriager) Run(_ context.Context, in triage.Input) (triage.Result, error) {
	m.lastIn = in
	return m.res, m.err
}

func newTestHandler(deps AppDeps) http.Handler {
	deps.Token = testToken
	if deps.Ingester == nil {
		deps.Ingester = &mockIngester{}
	}
	if deps.Agent == nil {
		deps.Agent = &mockAgent{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = &mockScheduler{}
	}
	if deps.Triager == nil {
		deps.Triager = &mockTriager{}
	}
	return NewAppHandler(deps)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthNeedsNoAuth(t *testing.T) {
	h := newTestHandler(AppDeps{})
	w := doRequest(t, h, http.MethodGet, "/health", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeResponse(t, w)["status"]; got != "ok" {
		t.Errorf("status field = %v", got)
	}
}

func TestRoutesRequireBearerToken(t *testing.T) {
	h := newTestHandler(AppDeps{})
	for _, path := range []string{"/ingest", "/chat", "/auto-schedule", "/triage"} {
		w := doRequest(t, h, http.MethodPost, path, "{}", false)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, w.Code)
		}
		body := decodeResponse(t, w)
		if _, ok := body["error"]; !ok {
			t.Errorf("%s: missing error envelope: %v", path, body)
		}
	}
}

func TestIngestHandler(t *testing.T) {
	ingester := &mockIngester{res: ingest.Result{Embedded: true, Message: "Document processed successfully."}}
	h := newTestHandler(AppDeps{Ingester: ingester})

	w := doRequest(t, h, http.MethodPost, "/ingest", `{"document_id":"d1","file_path":"ws1/a.txt"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeResponse(t, w)
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
}

func TestIngestHandlerValidation(t *testing.T) {
	h := newTestHandler(AppDeps{})
	w := doRequest(t, h, http.MethodPost, "/ingest", `{"document_id":"d1"}`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngestHandlerNotFound(t *testing.T) {
	ingester := &mockIngester{err: storage.ErrNotFound}
	h := newTestHandler(AppDeps{Ingester: ingester})

	w := doRequest(t, h, http.MethodPost, "/ingest", `{"document_id":"ghost","file_path":"x"}`, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestChatHandler(t *testing.T) {
	ag := &mockAgent{res: agent.Result{Reply: "The refund window is 30 days."}}
	h := newTestHandler(AppDeps{Agent: ag})

	w := doRequest(t, h, http.MethodPost, "/chat",
		`{"workspace_id":"ws1","user_id":"u1","session_id":"s1","message":"refund window?"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeResponse(t, w)["reply"]; got != "The refund window is 30 days." {
		t.Errorf("reply = %v", got)
	}
	if ag.lastIn.WorkspaceID != "ws1" || ag.lastIn.Message != "refund window?" {
		t.Errorf("agent input = %+v", ag.lastIn)
	}
}

func TestChatHandlerRequiresWorkspace(t *testing.T) {
	h := newTestHandler(AppDeps{})
	w := doRequest(t, h, http.MethodPost, "/chat", `{"message":"hi"}`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAutoScheduleHandler(t *testing.T) {
	sched := &mockScheduler{res: scheduler.Result{Scheduled: 3, Message: "Scheduled 3 task(s) over the next 7 days."}}
	h := newTestHandler(AppDeps{Scheduler: sched})

	w := doRequest(t, h, http.MethodPost, "/auto-schedule", `{"workspace_id":"ws1"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeResponse(t, w)
	if body["scheduled_count"] != float64(3) {
		t.Errorf("scheduled_count = %v", body["scheduled_count"])
	}
}

func TestTriageHandler(t *testing.T) {
	tr := &mockTriager{res: triage.Result{Scanned: 2, TasksCreated: 1, Message: "Scanned 2 email(s) and created 1 task(s)."}}
	h := newTestHandler(AppDeps{Triager: tr})

	w := doRequest(t, h, http.MethodPost, "/triage",
		`{"workspace_id":"ws1","user_id":"u1","mail_token":"tok"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeResponse(t, w)
	if body["scanned_count"] != float64(2) || body["created_count"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	if tr.lastIn.AccessToken != "tok" {
		t.Errorf("triage input = %+v", tr.lastIn)
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	ingester := &mockIngester{err: errors.New("disk on fire")}
	h := newTestHandler(AppDeps{Ingester: ingester})

	w := doRequest(t, h, http.MethodPost, "/ingest", `{"document_id":"d1","file_path":"x"}`, true)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeResponse(t, w)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error object: %v", body)
	}
	if errObj["type"] != "api_error" {
		t.Errorf("error.type = %v", errObj["type"])
	}
	if msg, _ := errObj["message"].(string); !strings.Contains(msg, "disk on fire") {
		t.Errorf("error.message = %v", errObj["message"])
	}
}

func TestInvalidJSONBody(t *testing.T) {
	h := newTestHandler(AppDeps{})
	w := doRequest(t, h, http.MethodPost, "/chat", `{"workspace_id":`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
