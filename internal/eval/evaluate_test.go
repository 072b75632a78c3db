package eval

import (
	"context"
	"errors"
	"testing"

	"mcp-cert/internal/mcp"
)

func TestEvaluateBothHalves(t *testing.T) {
	fake := &fakeServer{tools: []mcp.Tool{echoTool()}}
	report, err := Evaluate(context.Background(), healthyFixture(t), Options{
		RunStatic:  true,
		RunRuntime: true,
		Run:        fastRunConfig(),
		NewClient:  func() ServerClient { return fake },
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Static == nil || report.Runtime == nil {
		t.Fatal("both halves should be present")
	}
	if report.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (%s)", report.Status, report.StatusNote)
	}
	if report.StaticScore != 100 {
		t.Fatalf("static score = %v, want 100 for the healthy fixture", report.StaticScore)
	}
	if report.Composite < 0 || report.Composite > 100 {
		t.Fatalf("composite out of range: %v", report.Composite)
	}
	if report.Tier == "" {
		t.Fatal("tier must always be populated")
	}
	if fake.stops() != 1 {
		t.Fatalf("stop calls = %d, want 1", fake.stops())
	}
}

func TestEvaluateStaticOnly(t *testing.T) {
	report, err := Evaluate(context.Background(), healthyFixture(t), Options{RunStatic: true}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Runtime != nil {
		t.Fatal("runtime half should be skipped")
	}
	if report.Composite != report.StaticScore {
		t.Fatalf("static-only composite = %v, want %v", report.Composite, report.StaticScore)
	}
}

func TestEvaluateRuntimeLaunchFailureIsErroredNotCrashed(t *testing.T) {
	fake := &fakeServer{startErr: &mcp.LaunchError{Command: "missing-server", Err: errors.New("no such file")}}
	report, err := Evaluate(context.Background(), t.TempDir(), Options{
		RunStatic:  true,
		RunRuntime: true,
		Run:        fastRunConfig(),
		NewClient:  func() ServerClient { return fake },
	}, nil)
	if err != nil {
		t.Fatalf("launch failure must land in the report, got error %v", err)
	}
	if report.Status != StatusErrored {
		t.Fatalf("status = %q, want errored", report.Status)
	}
	if report.StatusNote == "" {
		t.Fatal("status note should carry the launch failure")
	}
	if report.Static == nil {
		t.Fatal("static half should still complete")
	}
}

func TestEvaluateRejectsBadWeightsBeforeRunning(t *testing.T) {
	cfg := DefaultScoreConfig()
	cfg.RuntimeWeights[CategoryTools] = 0.9
	_, err := Evaluate(context.Background(), t.TempDir(), Options{RunStatic: true, Score: cfg}, nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
}

func TestEvaluateRejectsNothingToRun(t *testing.T) {
	if _, err := Evaluate(context.Background(), t.TempDir(), Options{}, nil); err == nil {
		t.Fatal("expected ConfigError when both halves are disabled")
	}
}

func TestEvaluateRuntimeWithoutCommand(t *testing.T) {
	if _, err := Evaluate(context.Background(), t.TempDir(), Options{RunRuntime: true}, nil); err == nil {
		t.Fatal("expected ConfigError without a server command")
	}
}
