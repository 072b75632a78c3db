package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeRunner struct{}

func (f fakeRunner) CreateAdminRun(principal Principal, req RunRequest, ip, ua string) (RunMeta, error) {
	return RunMeta{
		RunID:      "run_fake_admin",
		Status:     "queued",
		CreatorSub: principal.Subject,
		Request:    req,
		CreatedAt:  nowRFC3339(),
	}, nil
}

func (f fakeRunner) CreateUserRun(principal Principal, req RunRequest, ip, ua string) (RunMeta, error) {
	return RunMeta{
		RunID:     "run_fake_user",
		Status:    "queued",
		Request:   req,
		CreatedAt: nowRFC3339(),
	}, nil
}

func (f fakeRunner) Close() {}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	api := NewAPI(auth, store, fakeRunner{}, nil)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return server
}

func TestRouterHealthz(t *testing.T) {
	server := newTestAPI(t)

	response, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
}

func TestRouterAdminAuthAndRun(t *testing.T) {
	server := newTestAPI(t)

	body := map[string]any{
		"target":         "./testdata/server",
		"server_command": []string{"python", "server.py"},
	}
	rawBody, _ := json.Marshal(body)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/runs", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("admin create without auth failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req2, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/runs", bytes.NewReader(rawBody))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Admin-Token", "secret-token")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("admin create with token failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp2.StatusCode)
	}
}

func TestRouterUserEvaluation(t *testing.T) {
	server := newTestAPI(t)

	body := map[string]any{
		"target":         "./testdata/server",
		"server_command": []string{"node", "index.js"},
	}
	rawBody, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/user/evaluations", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("user evaluation request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestRouterUserGetEvaluationHidesRequest(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{})
	meta := RunMeta{
		RunID:     "run_view_1",
		Status:    "completed",
		CreatedAt: nowRFC3339(),
		Cert: CertSnapshot{
			Composite:    82.5,
			Tier:         "silver",
			ProbesTotal:  10,
			ProbesPassed: 8,
		},
	}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	api := NewAPI(auth, store, fakeRunner{}, nil)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/user/evaluations/run_view_1")
	if err != nil {
		t.Fatalf("GET evaluation failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var view map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	cert, ok := view["certification"].(map[string]any)
	if !ok {
		t.Fatalf("expected certification object, got %v", view)
	}
	if cert["tier"] != "silver" {
		t.Fatalf("expected tier silver, got %v", cert["tier"])
	}
	if _, exposed := view["request"]; exposed {
		t.Fatalf("user view must not expose the raw request")
	}
}
