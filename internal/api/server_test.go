package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hookflow/internal/domain"
	"hookflow/internal/scheduler"
	"hookflow/internal/store"
)

type panickingStore struct{ *store.Memory }

func (panickingStore) Get(context.Context, string) (domain.Task, error) { panic("store exploded") }

type fixedStats scheduler.Stats

func (f fixedStats) Stats() scheduler.Stats { return scheduler.Stats(f) }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) domain.Task {
	t.Helper()
	var tk domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tk); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return tk
}

func TestCreateTaskAppliesDefaults(t *testing.T) {
	h := NewServer(store.NewMemory(), nil)
	rec := do(t, h, http.MethodPost, "/tasks", `{"name":"ping","url":"https://example.com/hook"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	tk := decodeTask(t, rec)
	if rec.Header().Get("Location") != "/tasks/"+tk.ID {
		t.Fatalf("Location = %q", rec.Header().Get("Location"))
	}
	if tk.Method != "GET" || tk.Timeout != 60 || tk.MaxRetries != 3 || tk.RetryInterval != 5 {
		t.Fatalf("defaults not applied: %+v", tk)
	}
	if !tk.Active || tk.RecurrenceType != domain.RecurNone || tk.ScheduleAt.IsZero() {
		t.Fatalf("scheduling defaults not applied: %+v", tk)
	}
}

func TestCreateTaskExplicitFields(t *testing.T) {
	h := NewServer(store.NewMemory(), nil)
	body := `{
		"url":"http://example.com/x","method":"post","payload":"{\"x\":1}",
		"headers":{"X-A":"1"},"max_retries":0,"retry_interval":2,
		"recurrence_type":"Day","recurrence_interval":1,
		"schedule_at":"2030-01-02T03:04:05Z","active":false
	}`
	rec := do(t, h, http.MethodPost, "/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	tk := decodeTask(t, rec)
	if tk.Method != "POST" || tk.Payload == nil || *tk.Payload != `{"x":1}` || tk.Headers["X-A"] != "1" {
		t.Fatalf("task = %+v", tk)
	}
	if tk.MaxRetries != 0 || tk.RetryInterval != 2 || tk.Active {
		t.Fatalf("task = %+v", tk)
	}
	if !tk.ScheduleAt.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("ScheduleAt = %v", tk.ScheduleAt)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	h := NewServer(store.NewMemory(), nil)
	for _, body := range []string{
		`{}`,
		`{"url":"not a url"}`,
		`{"url":"ftp://example.com"}`,
		`{"url":"http://example.com","max_retries":-1}`,
		`{"url":"http://example.com","method":"GE T"}`,
		`{"url":`,
	} {
		rec := do(t, h, http.MethodPost, "/tasks", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Fatalf("body %s: response %s lacks error field", body, rec.Body.String())
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	h := NewServer(store.NewMemory(), nil)
	created := decodeTask(t, do(t, h, http.MethodPost, "/tasks", `{"url":"http://example.com/a"}`))

	rec := do(t, h, http.MethodGet, "/tasks/"+created.ID, "")
	if rec.Code != http.StatusOK || decodeTask(t, rec).ID != created.ID {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPut, "/tasks/"+created.ID, `{"url":"http://example.com/b","recurrence_type":"Hour","recurrence_interval":2,"active":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	updated := decodeTask(t, rec)
	if updated.URL != "http://example.com/b" || updated.RecurrenceType != domain.RecurHour || updated.RecurrenceInterval != 2 || updated.Active {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Timeout != created.Timeout {
		t.Fatalf("unspecified field changed: %d -> %d", created.Timeout, updated.Timeout)
	}

	rec = do(t, h, http.MethodGet, "/tasks", "")
	var all []domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil || len(all) != 1 {
		t.Fatalf("list: %s", rec.Body.String())
	}

	if rec := do(t, h, http.MethodDelete, "/tasks/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/tasks/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/tasks/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/tasks/"+created.ID, `{}`); rec.Code != http.StatusNotFound {
		t.Fatalf("update missing: %d", rec.Code)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	rec := do(t, NewServer(store.NewMemory(), nil), http.MethodGet, "/tasks", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := NewServer(store.NewMemory(), fixedStats{Cycles: 3, Executed: 7, Failed: 1})
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodGet, "/metrics", "")
	body := rec.Body.String()
	for _, want := range []string{"hookflow_up 1", "hookflow_engine_cycles_total 3", "hookflow_engine_tasks_executed_total 7", "hookflow_engine_tasks_failed_total 1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestDebugRoutesOnlyWhenEnabled(t *testing.T) {
	if rec := do(t, NewServer(store.NewMemory(), nil), http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof exposed without debug: %d", rec.Code)
	}
	if rec := do(t, NewServerWithDebug(store.NewMemory(), nil, true), http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof index: %d", rec.Code)
	}
}

func TestPanicAnsweredWithJSONError(t *testing.T) {
	h := NewServer(panickingStore{store.NewMemory()}, nil)
	rec := do(t, h, http.MethodGet, "/tasks/any", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("content-type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("body = %q (%v)", rec.Body.String(), err)
	}

	// the server keeps serving after a panic
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health after panic: %d", rec.Code)
	}
}
