package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/laudza/leona/internal/handler"
	"github.com/laudza/leona/internal/llm"
	"github.com/laudza/leona/internal/memory"
	"github.com/laudza/leona/internal/orchestrator"
)

// mockProcessor returns a fixed pipeline result.
type mockProcessor struct {
	result orchestrator.Result
	got    string
}

func (m *mockProcessor) Process(_ context.Context, input string) orchestrator.Result {
	m.got = input
	return m.result
}

// mockBackend reports a fixed backend health state.
type mockBackend struct{ running bool }

func (m *mockBackend) IsRunning(context.Context) bool { return m.running }

// stubGenerator satisfies llm.Generator for handler construction.
type stubGenerator struct{ response string }

func (s *stubGenerator) Generate(context.Context, llm.Request) (string, error) {
	return s.response, nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store, err := memory.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gen := &stubGenerator{response: "{}"}
	return Deps{
		Processor:  &mockProcessor{result: orchestrator.Result{Response: "Done.", Handler: "scheduler"}},
		Store:      store,
		Backend:    &mockBackend{running: true},
		SmartHome:  handler.NewSmartHome(gen, store, handler.NewSimulatedIntegration()),
		Automation: handler.NewAutomation(gen),
		Token:      "secret-token",
		StartedAt:  time.Now(),
		Version:    "test",
	}
}

func TestChat(t *testing.T) {
	deps := newTestDeps(t)
	srv := httptest.NewServer(NewHandler(deps))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"remind me to call Bob"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Response != "Done." || body.Handler != "scheduler" {
		t.Errorf("body = %+v", body)
	}
	if got := deps.Processor.(*mockProcessor).got; got != "remind me to call Bob" {
		t.Errorf("processor input = %q", got)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newTestDeps(t)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChat_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newTestDeps(t)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{broken`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newTestDeps(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "running" {
		t.Errorf("status = %v", body["status"])
	}
	if body["model_backend"] != true {
		t.Errorf("model_backend = %v", body["model_backend"])
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newTestDeps(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newTestDeps(t)))
	defer srv.Close()

	for _, path := range []string{"/api/tasks", "/api/devices", "/api/workflows"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestProtectedRoutes_WithToken(t *testing.T) {
	deps := newTestDeps(t)
	srv := httptest.NewServer(NewHandler(deps))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Tasks []memory.Task `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Tasks == nil {
		t.Error("tasks should be an empty array, not null")
	}
}

func TestProtectedRoutes_DisabledWithoutConfiguredToken(t *testing.T) {
	deps := newTestDeps(t)
	deps.Token = ""
	srv := httptest.NewServer(NewHandler(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/tasks")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no token configured", resp.StatusCode)
	}
}

func TestSmartHomeControl(t *testing.T) {
	deps := newTestDeps(t)
	srv := httptest.NewServer(NewHandler(deps))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/smarthome/control",
		strings.NewReader(`{"device":"living room light","state":"on"}`))
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["device"] != "living_room_light" || body["state"] != "on" {
		t.Errorf("body = %v", body)
	}
}

func TestSmartHomeControl_NewDeviceRegistered(t *testing.T) {
	deps := newTestDeps(t)
	srv := httptest.NewServer(NewHandler(deps))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/smarthome/control",
		strings.NewReader(`{"device":"disco ball","state":"on"}`))
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["device"] != "disco_ball" || body["state"] != "on" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newTestDeps(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
