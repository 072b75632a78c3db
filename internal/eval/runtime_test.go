package eval

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"mcp-cert/internal/mcp"
)

// fakeServer implements ServerClient in-process. Zero-value behavior is a
// healthy server with no capabilities; tests override the hooks they need.
type fakeServer struct {
	mu        sync.Mutex
	stopCalls int

	startErr     error
	initErr      error
	listToolsErr error

	tools     []mcp.Tool
	resources []mcp.Resource
	prompts   []mcp.Prompt

	initialize   func(ctx context.Context) (*mcp.InitializeResult, error)
	listTools    func(ctx context.Context) ([]mcp.Tool, error)
	callTool     func(name string, args any) (*mcp.ToolResult, error)
	readResource func(uri string) (*mcp.ResourceContents, error)
	getPrompt    func(name string, args map[string]string) (*mcp.PromptResult, error)
	call         func(method string) (json.RawMessage, error)
	sendRaw      func(frame []byte) error
}

func (f *fakeServer) Start(ctx context.Context) error { return f.startErr }

func (f *fakeServer) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	if f.initialize != nil {
		return f.initialize(ctx)
	}
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &mcp.InitializeResult{ProtocolVersion: "2024-11-05"}, nil
}

func (f *fakeServer) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if f.listTools != nil {
		return f.listTools(ctx)
	}
	if f.listToolsErr != nil {
		return nil, f.listToolsErr
	}
	return f.tools, nil
}

func (f *fakeServer) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return f.resources, nil
}

func (f *fakeServer) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return f.prompts, nil
}

func (f *fakeServer) CallTool(ctx context.Context, name string, arguments any) (*mcp.ToolResult, error) {
	if f.callTool != nil {
		return f.callTool(name, arguments)
	}
	for _, t := range f.tools {
		if t.Name == name {
			return &mcp.ToolResult{Content: []mcp.ContentItem{{Type: "text", Text: "ok"}}}, nil
		}
	}
	return nil, &mcp.RemoteError{Method: "tools/call", Code: -32602, Message: "unknown tool"}
}

func (f *fakeServer) ReadResource(ctx context.Context, uri string) (*mcp.ResourceContents, error) {
	if f.readResource != nil {
		return f.readResource(uri)
	}
	for _, r := range f.resources {
		if r.URI == uri {
			return &mcp.ResourceContents{Contents: []mcp.ResourceContent{{URI: uri, Text: "content"}}}, nil
		}
	}
	return nil, &mcp.RemoteError{Method: "resources/read", Code: -32002, Message: "unknown resource"}
}

func (f *fakeServer) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.PromptResult, error) {
	if f.getPrompt != nil {
		return f.getPrompt(name, arguments)
	}
	for _, p := range f.prompts {
		if p.Name == name {
			return &mcp.PromptResult{Messages: []mcp.PromptMessage{{Role: "user", Content: mcp.ContentItem{Type: "text", Text: "hi"}}}}, nil
		}
	}
	return nil, &mcp.RemoteError{Method: "prompts/get", Code: -32602, Message: "unknown prompt"}
}

func (f *fakeServer) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, time.Duration, error) {
	if f.call != nil {
		raw, err := f.call(method)
		return raw, time.Millisecond, err
	}
	if method == "tools/list" {
		return json.RawMessage(`{"tools":[]}`), time.Millisecond, nil
	}
	return nil, 0, &mcp.RemoteError{Method: method, Code: -32601, Message: "method not found"}
}

func (f *fakeServer) SendRaw(frame []byte) error {
	if f.sendRaw != nil {
		return f.sendRaw(frame)
	}
	return nil
}

func (f *fakeServer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeServer) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func fastRunConfig() RunConfig {
	return RunConfig{
		ReadyTimeout:      100 * time.Millisecond,
		ReadyPollInterval: 5 * time.Millisecond,
		ProbeTimeout:      time.Second,
		ScenarioTimeout:   100 * time.Millisecond,
		RunTimeout:        5 * time.Second,
		MaxWorkers:        2,
		ListSampleReps:    2,
		CallSampleReps:    1,
	}
}

func echoTool() mcp.Tool {
	return mcp.Tool{
		Name:        "echo",
		Description: "echoes a message back",
		InputSchema: &mcp.Schema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"message": {Type: "string", Description: "text to echo"},
			},
			Required: []string{"message"},
		},
	}
}

func TestHealthyServerFullRun(t *testing.T) {
	fake := &fakeServer{
		tools:     []mcp.Tool{echoTool()},
		resources: []mcp.Resource{{Name: "readme", URI: "doc://readme"}},
		prompts:   []mcp.Prompt{{Name: "summarize", Arguments: []mcp.PromptArgument{{Name: "topic", Required: true}}}},
	}
	fake.callTool = func(name string, args any) (*mcp.ToolResult, error) {
		if name != "echo" {
			return nil, &mcp.RemoteError{Method: "tools/call", Code: -32602, Message: "unknown tool"}
		}
		payload, ok := args.(map[string]any)
		if !ok || payload["message"] == nil {
			return &mcp.ToolResult{IsError: true, Content: []mcp.ContentItem{{Type: "text", Text: "message is required"}}}, nil
		}
		text, _ := payload["message"].(string)
		return &mcp.ToolResult{Content: []mcp.ContentItem{{Type: "text", Text: text}}}, nil
	}

	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	if result.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (error %q)", result.Status, result.Error)
	}
	if len(result.Capabilities) != 3 {
		t.Fatalf("capabilities = %d, want 3", len(result.Capabilities))
	}
	if got := result.Phases[len(result.Phases)-1].Phase; got != PhaseTeardown {
		t.Fatalf("last phase = %q, want teardown", got)
	}
	if fake.stops() != 1 {
		t.Fatalf("stop calls = %d, want 1", fake.stops())
	}
	for _, p := range result.Probes {
		if p.Outcome == OutcomeErrored {
			t.Fatalf("probe %s/%s errored: %s", p.Capability, p.Kind, p.Error)
		}
	}
	if len(result.Samples) == 0 || len(result.Stats) == 0 {
		t.Fatalf("expected performance samples and stats, got %d/%d", len(result.Samples), len(result.Stats))
	}
}

func TestServerNeverReadyErrorsOut(t *testing.T) {
	fake := &fakeServer{
		listToolsErr: &mcp.TimeoutError{Method: "tools/list", Timeout: time.Second},
	}
	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	if result.Status != StatusErrored {
		t.Fatalf("status = %q, want errored", result.Status)
	}
	if !strings.Contains(result.Error, "not ready") {
		t.Fatalf("error = %q, want readiness failure", result.Error)
	}
	if fake.stops() != 1 {
		t.Fatalf("stop calls = %d, want 1", fake.stops())
	}
	if len(result.Probes) != 0 {
		t.Fatalf("no probes should run before readiness, got %d", len(result.Probes))
	}
}

func TestTeardownRunsExactlyOnceAtEveryFailurePoint(t *testing.T) {
	launchErr := &mcp.LaunchError{Command: "bogus", Err: context.Canceled}
	cases := []struct {
		name string
		fake *fakeServer
	}{
		{"start fails", &fakeServer{startErr: launchErr}},
		{"initialize fails", &fakeServer{initErr: &mcp.ProtocolError{Reason: "bad handshake frame"}}},
		{"never ready", &fakeServer{listToolsErr: &mcp.ProtocolError{Reason: "garbage frame"}}},
		{"healthy empty server", &fakeServer{}},
	}
	for _, tc := range cases {
		result := NewOrchestrator(tc.fake, fastRunConfig(), nil).RunTests(context.Background())
		if tc.fake.stops() != 1 {
			t.Fatalf("%s: stop calls = %d, want 1", tc.name, tc.fake.stops())
		}
		if got := result.Phases[len(result.Phases)-1].Phase; got != PhaseTeardown {
			t.Fatalf("%s: last phase = %q, want teardown", tc.name, got)
		}
	}
}

func TestErrorScenariosExpectStructuredErrors(t *testing.T) {
	fake := &fakeServer{tools: []mcp.Tool{echoTool()}}
	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	scenarios := 0
	for _, p := range result.Probes {
		if p.Category != CategoryErrorScenarios {
			continue
		}
		scenarios++
		if p.Outcome == OutcomeErrored {
			t.Fatalf("scenario %s errored: %s", p.Capability, p.Error)
		}
	}
	if scenarios < 3 {
		t.Fatalf("expected at least 3 error scenarios, got %d", scenarios)
	}
}

func TestSchemaValidationFailsWhenBoundaryAccepted(t *testing.T) {
	// A server that happily executes a payload omitting every declared
	// field is not validating its schema.
	fake := &fakeServer{tools: []mcp.Tool{echoTool()}}
	fake.callTool = func(name string, args any) (*mcp.ToolResult, error) {
		return &mcp.ToolResult{Content: []mcp.ContentItem{{Type: "text", Text: "ok"}}}, nil
	}

	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	found := false
	for _, p := range result.Probes {
		if p.Kind != ProbeSchemaValidation {
			continue
		}
		found = true
		if p.Outcome != OutcomeFailed {
			t.Fatalf("schema validation probe = %q (%s), want failed", p.Outcome, p.Detail)
		}
	}
	if !found {
		t.Fatal("no schema validation probe recorded")
	}
}

func TestNullPayloadSilentAcceptanceFails(t *testing.T) {
	// Echo tool with a declared message property but no required list.
	// Swallowing a null payload without any error still fails the probe.
	fake := &fakeServer{tools: []mcp.Tool{{
		Name: "echo",
		InputSchema: &mcp.Schema{
			Type:       "object",
			Properties: map[string]mcp.Property{"message": {Type: "string"}},
		},
	}}}
	fake.callTool = func(name string, args any) (*mcp.ToolResult, error) {
		return &mcp.ToolResult{Content: []mcp.ContentItem{{Type: "text", Text: ""}}}, nil
	}

	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	for _, p := range result.Probes {
		if p.Kind != ProbeErrorHandling {
			continue
		}
		if p.Outcome != OutcomeFailed {
			t.Fatalf("error handling probe = %q (%s), want failed", p.Outcome, p.Detail)
		}
		return
	}
	t.Fatal("no error handling probe recorded")
}

func TestNeverRespondingServerErrorsWithinReadyWindow(t *testing.T) {
	// The server answers nothing; every call blocks until its context is
	// cancelled. The run must settle within the readiness window, not a
	// per-call timeout.
	hang := func(ctx context.Context) error {
		<-ctx.Done()
		return &mcp.TimeoutError{Method: "initialize", Timeout: time.Second}
	}
	fake := &fakeServer{}
	fake.initialize = func(ctx context.Context) (*mcp.InitializeResult, error) {
		return nil, hang(ctx)
	}
	fake.listTools = func(ctx context.Context) ([]mcp.Tool, error) {
		return nil, hang(ctx)
	}

	cfg := fastRunConfig()
	cfg.ReadyTimeout = 200 * time.Millisecond

	start := time.Now()
	result := NewOrchestrator(fake, cfg, nil).RunTests(context.Background())
	elapsed := time.Since(start)

	if result.Status != StatusErrored {
		t.Fatalf("status = %q, want errored", result.Status)
	}
	if !strings.Contains(result.Error, "not ready") {
		t.Fatalf("error = %q, want readiness failure", result.Error)
	}
	if elapsed > time.Second {
		t.Fatalf("run took %s, want roughly the 200ms readiness window", elapsed)
	}
}

func TestMalformedFrameHangFailsScenario(t *testing.T) {
	// The server dies quietly on the raw garbage frame and never answers
	// again; the scenario must record that as a failure.
	fake := &fakeServer{}
	var poisoned bool
	fake.sendRaw = func(frame []byte) error {
		poisoned = true
		return nil
	}
	fake.call = func(method string) (json.RawMessage, error) {
		if poisoned {
			return nil, &mcp.TimeoutError{Method: method, Timeout: time.Second}
		}
		return json.RawMessage(`{"tools":[]}`), nil
	}

	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	for _, p := range result.Probes {
		if p.Capability != "malformed-frame" {
			continue
		}
		if p.Outcome != OutcomeFailed {
			t.Fatalf("malformed frame scenario = %q (%s), want failed", p.Outcome, p.Detail)
		}
		return
	}
	t.Fatal("no malformed-frame scenario recorded")
}

func TestEveryPromptGetsProbed(t *testing.T) {
	fake := &fakeServer{prompts: []mcp.Prompt{{Name: "summarize"}, {Name: "translate"}}}
	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	perPrompt := map[string]int{}
	for _, p := range result.Probes {
		if p.Kind == ProbePrompt {
			perPrompt[p.Capability]++
		}
	}
	if perPrompt["summarize"] != 2 || perPrompt["translate"] != 2 {
		t.Fatalf("prompt probes = %v, want 2 per declared prompt", perPrompt)
	}
	if perPrompt["nonexistent-prompt"] != 1 {
		t.Fatalf("unknown-name probes = %d, want 1", perPrompt["nonexistent-prompt"])
	}
}

func TestPathTraversalLeakFailsSecurity(t *testing.T) {
	fake := &fakeServer{
		tools: []mcp.Tool{{
			Name: "read_file",
			InputSchema: &mcp.Schema{
				Type:       "object",
				Properties: map[string]mcp.Property{"path": {Type: "string"}},
				Required:   []string{"path"},
			},
		}},
	}
	fake.callTool = func(name string, args any) (*mcp.ToolResult, error) {
		payload, _ := args.(map[string]any)
		path, _ := payload["path"].(string)
		if strings.Contains(path, "etc/passwd") {
			return &mcp.ToolResult{Content: []mcp.ContentItem{{Type: "text", Text: "root:x:0:0:root:/root:/bin/bash"}}}, nil
		}
		return &mcp.ToolResult{Content: []mcp.ContentItem{{Type: "text", Text: "file contents"}}}, nil
	}

	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	leaked := 0
	for _, p := range result.Probes {
		if p.Category != CategorySecurity {
			continue
		}
		if p.Outcome == OutcomeFailed {
			leaked++
			if !strings.Contains(p.Detail, "leaked") {
				t.Fatalf("security failure should name the leak, got %q", p.Detail)
			}
		}
	}
	if leaked == 0 {
		t.Fatal("expected at least one failed security probe for the leaking server")
	}
}

func TestDiscoveryFailureIsIsolated(t *testing.T) {
	// Tools listing works, resource/prompt listings would too, but the
	// probe phases still run when only some capabilities exist.
	fake := &fakeServer{tools: []mcp.Tool{echoTool()}}
	result := NewOrchestrator(fake, fastRunConfig(), nil).RunTests(context.Background())

	if result.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", result.Status)
	}
	toolProbes := 0
	for _, p := range result.Probes {
		if p.Kind == ProbeBasicInvocation {
			toolProbes++
		}
	}
	if toolProbes != 1 {
		t.Fatalf("basic invocation probes = %d, want 1", toolProbes)
	}
}

func TestPhaseEventsEmittedInOrder(t *testing.T) {
	pub := NewPublisher()
	var mu sync.Mutex
	var started []string
	pub.Subscribe(func(ev Event) {
		if ev.Name != EventPhaseStarted {
			return
		}
		mu.Lock()
		started = append(started, ev.Data["phase"].(string))
		mu.Unlock()
	})

	NewOrchestrator(&fakeServer{}, fastRunConfig(), pub).RunTests(context.Background())

	want := []string{
		PhaseLaunching, PhaseAwaitingReady, PhaseDiscovery, PhaseToolTesting,
		PhaseResourceTesting, PhasePromptTesting, PhaseErrorScenarios,
		PhasePerformance, PhaseSecurity, PhaseTeardown,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(started) != len(want) {
		t.Fatalf("phase starts = %v, want %v", started, want)
	}
	for i := range want {
		if started[i] != want[i] {
			t.Fatalf("phase %d = %q, want %q", i, started[i], want[i])
		}
	}
}
