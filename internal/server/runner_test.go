package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(v bool) *bool { return &v }

func testRunManager(t *testing.T, cfg ServerConfig) (*RunManager, *MemoryFileStore) {
	t.Helper()
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	manager := NewRunManager(cfg, store, nil)
	t.Cleanup(manager.Close)
	return manager, store
}

func TestNormalizeRequestValidation(t *testing.T) {
	manager, _ := testRunManager(t, DefaultServerConfig())

	if _, err := manager.normalizeRequest(RunRequest{}); err == nil {
		t.Fatalf("expected error for empty target")
	}
	if _, err := manager.normalizeRequest(RunRequest{Target: "./server"}); err == nil {
		t.Fatalf("expected error for runtime half without server_command")
	}
	if _, err := manager.normalizeRequest(RunRequest{
		Target:     "./server",
		RunStatic:  boolPtr(false),
		RunRuntime: boolPtr(false),
	}); err == nil {
		t.Fatalf("expected error when both halves are disabled")
	}
	if _, err := manager.normalizeRequest(RunRequest{
		Target:       "./server",
		RunRuntime:   boolPtr(false),
		StaticShare:  0.5,
		RuntimeShare: 0.7,
	}); err == nil {
		t.Fatalf("expected error for shares not summing to 1")
	}

	normalized, err := manager.normalizeRequest(RunRequest{
		Target:     "./server",
		RunRuntime: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("normalizeRequest: %v", err)
	}
	if normalized.TimeoutSec != 300 {
		t.Fatalf("expected default timeout 300, got %d", normalized.TimeoutSec)
	}
	if normalized.PassThreshold != 60 {
		t.Fatalf("expected default threshold 60, got %v", normalized.PassThreshold)
	}
}

func TestNormalizeRequestEnforcesTargetRoot(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultServerConfig()
	cfg.Runs.AllowedTargetRoot = root
	manager, _ := testRunManager(t, cfg)

	inside := filepath.Join(root, "servers", "weather")
	if _, err := manager.normalizeRequest(RunRequest{
		Target:     inside,
		RunRuntime: boolPtr(false),
	}); err != nil {
		t.Fatalf("target inside root rejected: %v", err)
	}

	if _, err := manager.normalizeRequest(RunRequest{
		Target:     filepath.Join(root, "..", "outside"),
		RunRuntime: boolPtr(false),
	}); err == nil {
		t.Fatalf("expected error for target escaping the allowed root")
	}
}

func TestStaticOnlyRunCompletesThroughQueue(t *testing.T) {
	dir := t.TempDir()
	readme := "# weather\n\n## Features\n\n- get_weather\n\n## Example\n\n```json\n{\"city\": \"Oslo\"}\n```\n"
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	source := "def get_weather(city):\n    try:\n        return lookup(city)\n    except KeyError:\n        raise ValueError(\"unknown city\")\n"
	if err := os.WriteFile(filepath.Join(dir, "server.py"), []byte(source), 0o644); err != nil {
		t.Fatalf("write server.py: %v", err)
	}

	manager, store := testRunManager(t, DefaultServerConfig())
	meta, err := manager.CreateAdminRun(Principal{Subject: "admin-1", Role: "admin"}, RunRequest{
		Target:     dir,
		RunRuntime: boolPtr(false),
		TimeoutSec: 30,
	}, "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("CreateAdminRun: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	var final RunMeta
	for time.Now().Before(deadline) {
		current, ok := store.GetRun(meta.RunID)
		if ok && (current.Status == "completed" || current.Status == "errored") {
			final = current
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if final.RunID == "" {
		t.Fatalf("run did not finish before deadline")
	}
	if final.Status != "completed" {
		t.Fatalf("expected completed, got %s (error: %s)", final.Status, final.Error)
	}
	if final.Report == nil {
		t.Fatalf("expected report on finished run")
	}
	if final.Cert.Composite <= 0 {
		t.Fatalf("expected positive composite score, got %v", final.Cert.Composite)
	}
	events := store.ListRunEvents(meta.RunID, 0)
	if len(events) < 3 {
		t.Fatalf("expected queued/running/progress events, got %d", len(events))
	}
}

func TestUserRunRateLimited(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Limits.EvaluateRPM = 1
	manager, _ := testRunManager(t, cfg)

	req := RunRequest{Target: "./server", RunRuntime: boolPtr(false)}
	principal := Principal{Subject: "user-1", Role: "user"}
	if _, err := manager.CreateUserRun(principal, req, "10.0.0.9", "agent"); err != nil {
		t.Fatalf("first user run rejected: %v", err)
	}
	_, err := manager.CreateUserRun(principal, req, "10.0.0.9", "agent")
	if err == nil {
		t.Fatalf("expected rate limit on second run from same IP")
	}
	if _, ok := err.(*RateLimitedError); !ok {
		t.Fatalf("expected RateLimitedError, got %T", err)
	}

	// a different IP is unaffected
	if _, err := manager.CreateUserRun(principal, req, "10.0.0.10", "agent"); err != nil {
		t.Fatalf("run from different IP rejected: %v", err)
	}
}

func TestIPRateLimiterDisabledWhenZero(t *testing.T) {
	limiter := newIPRateLimiter(0)
	for i := 0; i < 50; i++ {
		if !limiter.allow("key") {
			t.Fatalf("disabled limiter must always allow")
		}
	}
}
