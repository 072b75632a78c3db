package server

import (
	"time"

	"mcp-cert/internal/eval"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type RunRequest struct {
	Target        string   `json:"target"`
	ServerCommand []string `json:"server_command,omitempty"`
	ServerDir     string   `json:"server_dir,omitempty"`
	RunStatic     *bool    `json:"run_static,omitempty"`
	RunRuntime    *bool    `json:"run_runtime,omitempty"`
	StaticShare   float64  `json:"static_share,omitempty"`
	RuntimeShare  float64  `json:"runtime_share,omitempty"`
	PassThreshold float64  `json:"pass_threshold,omitempty"`
	TimeoutSec    int      `json:"timeout_sec,omitempty"`
}

type RunMeta struct {
	RunID        string       `json:"run_id"`
	Status       string       `json:"status"`
	CreatorType  string       `json:"creator_type"`
	CreatorSub   string       `json:"creator_sub,omitempty"`
	CreatorEmail string       `json:"creator_email,omitempty"`
	Source       string       `json:"source"`
	Request      RunRequest   `json:"request"`
	StartedAt    string       `json:"started_at,omitempty"`
	FinishedAt   string       `json:"finished_at,omitempty"`
	CreatedAt    string       `json:"created_at"`
	Error        string       `json:"error,omitempty"`
	Report       *eval.Report `json:"report,omitempty"`
	Cert         CertSnapshot `json:"certification"`
}

// CertSnapshot is the queryable summary of a finished run, denormalized
// out of the report so listings never need the full payload.
type CertSnapshot struct {
	Composite    float64 `json:"composite_score"`
	StaticScore  float64 `json:"static_score"`
	RuntimeScore float64 `json:"runtime_score"`
	Tier         string  `json:"certification_tier"`
	ProbesTotal  int     `json:"probes_total"`
	ProbesPassed int     `json:"probes_passed"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type RunEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt     string  `json:"generated_at"`
	TotalRuns       int     `json:"total_runs"`
	RunningRuns     int     `json:"running_runs"`
	GoldRuns        int     `json:"gold_runs"`
	SilverRuns      int     `json:"silver_runs"`
	BronzeRuns      int     `json:"bronze_runs"`
	UncertifiedRuns int     `json:"uncertified_runs"`
	ErroredRuns     int     `json:"errored_runs"`
	AverageDuration int64   `json:"average_duration_ms"`
	AverageScore    float64 `json:"average_composite_score"`
}

type StoreSnapshot struct {
	Runs   []RunMeta             `json:"runs"`
	Events map[string][]RunEvent `json:"events"`
	Audit  []AuditEvent          `json:"audit"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
