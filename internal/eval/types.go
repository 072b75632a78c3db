package eval

import (
	"time"

	"mcp-cert/internal/mcp"
)

// Status is the terminal state of an evaluation run or its runtime half.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
)

// Outcome classifies one probe: passed means the expectation held, failed
// means the server answered but missed the expectation, errored means the
// probe itself could not complete (timeout, dead transport).
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeErrored Outcome = "errored"
)

// CheckOutcome is the three-way verdict of one static check.
type CheckOutcome string

const (
	CheckPass    CheckOutcome = "pass"
	CheckPartial CheckOutcome = "partial"
	CheckFail    CheckOutcome = "fail"
)

type ProbeKind string

const (
	ProbeBasicInvocation  ProbeKind = "basic-invocation"
	ProbeSchemaValidation ProbeKind = "schema-validation"
	ProbeErrorHandling    ProbeKind = "error-handling"
	ProbeResourceRead     ProbeKind = "resource-read"
	ProbePrompt           ProbeKind = "prompt"
	ProbeErrorScenario    ProbeKind = "error-scenario"
	ProbeSecurity         ProbeKind = "security"
)

type CapabilityKind string

const (
	CapabilityTool     CapabilityKind = "tool"
	CapabilityResource CapabilityKind = "resource"
	CapabilityPrompt   CapabilityKind = "prompt"
)

// Capability is one discovered unit under test. Discovered once per run
// during capability discovery; immutable afterward.
type Capability struct {
	Kind        CapabilityKind `json:"kind"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	URI         string         `json:"uri,omitempty"`
	InputSchema *mcp.Schema    `json:"input_schema,omitempty"`
}

// ProbeResult is the outcome of exercising one capability with one
// synthetic input.
type ProbeResult struct {
	Capability string    `json:"capability"`
	Kind       ProbeKind `json:"kind"`
	Category   string    `json:"category"`
	Outcome    Outcome   `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  string    `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
}

type StaticCheckResult struct {
	CheckID    string       `json:"check_id"`
	Outcome    CheckOutcome `json:"outcome"`
	Evidence   []string     `json:"evidence,omitempty"`
	Issues     []string     `json:"issues,omitempty"`
	Timestamp  string       `json:"timestamp"`
	DurationMS int64        `json:"duration_ms"`
}

type PerformanceSample struct {
	Operation  string  `json:"operation"`
	DurationMS float64 `json:"duration_ms"`
	Timestamp  string  `json:"timestamp"`
}

type PerformanceStats struct {
	Operation string  `json:"operation"`
	Samples   int     `json:"samples"`
	MinMS     float64 `json:"min_ms"`
	MaxMS     float64 `json:"max_ms"`
	AvgMS     float64 `json:"avg_ms"`
}

type PhaseRecord struct {
	Phase       string `json:"phase"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
	Probes      int    `json:"probes"`
	Passed      int    `json:"passed"`
	Failed      int    `json:"failed"`
	Errored     int    `json:"errored"`
	Note        string `json:"note,omitempty"`
}

// StaticResult is the static half of a run.
type StaticResult struct {
	Checks []StaticCheckResult `json:"checks"`
}

// RuntimeResult is the runtime half of a run. All failures live here as
// data; RunTests never raises them.
type RuntimeResult struct {
	Status       Status              `json:"status"`
	Error        string              `json:"error,omitempty"`
	Phases       []PhaseRecord       `json:"phases"`
	Capabilities []Capability        `json:"capabilities"`
	Probes       []ProbeResult       `json:"probes"`
	Samples      []PerformanceSample `json:"samples,omitempty"`
	Stats        []PerformanceStats  `json:"stats,omitempty"`
}

// ScoreComponent is one weighted category inside the static or runtime
// group. Weight is the renormalized weight actually applied.
type ScoreComponent struct {
	Category   string  `json:"category"`
	Weight     float64 `json:"weight"`
	Fraction   float64 `json:"fraction"`
	Weighted   float64 `json:"weighted"`
	Applicable int     `json:"applicable"`
}

// Report is the final immutable artifact of one evaluation run.
type Report struct {
	Target      string  `json:"target"`
	GeneratedAt string  `json:"generated_at"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at"`
	Status      Status  `json:"status"`
	StatusNote  string  `json:"status_note,omitempty"`

	Static  *StaticResult  `json:"static,omitempty"`
	Runtime *RuntimeResult `json:"runtime,omitempty"`

	StaticScore       float64          `json:"static_score"`
	RuntimeScore      float64          `json:"runtime_score"`
	Composite         float64          `json:"composite_score"`
	Tier              string           `json:"certification_tier"`
	StaticComponents  []ScoreComponent `json:"static_components,omitempty"`
	RuntimeComponents []ScoreComponent `json:"runtime_components,omitempty"`
}

// RunConfig tunes the runtime test orchestrator.
type RunConfig struct {
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	ProbeTimeout      time.Duration
	ScenarioTimeout   time.Duration
	RunTimeout        time.Duration
	MaxWorkers        int
	ListSampleReps    int
	CallSampleReps    int
}

func (c RunConfig) withDefaults() RunConfig {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 5 * time.Second
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = 500 * time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.ScenarioTimeout <= 0 {
		c.ScenarioTimeout = 3 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.ListSampleReps <= 0 {
		c.ListSampleReps = 10
	}
	if c.CallSampleReps <= 0 {
		c.CallSampleReps = 5
	}
	return c
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
