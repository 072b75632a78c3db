package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mcp-cert/internal/eval"
)

// RunnerService is the surface the HTTP layer needs from the run manager.
type RunnerService interface {
	CreateAdminRun(principal Principal, req RunRequest, ip, ua string) (RunMeta, error)
	CreateUserRun(principal Principal, req RunRequest, ip, ua string) (RunMeta, error)
	Close()
}

type queuedRun struct {
	runID string
}

// RunManager owns the evaluation queue. Every accepted request is persisted
// first, then handed to a bounded worker pool; a worker drives one
// eval.Evaluate call per run and streams its progress events into the store.
type RunManager struct {
	cfg   ServerConfig
	store Store
	obs   *Observability

	queue chan queuedRun
	wg    sync.WaitGroup

	userLimit *ipRateLimiter

	closeOnce sync.Once
}

func NewRunManager(cfg ServerConfig, store Store, obs *Observability) *RunManager {
	workers := cfg.Runs.MaxParallelRuns
	if workers <= 0 {
		workers = 2
	}
	m := &RunManager{
		cfg:       cfg,
		store:     store,
		obs:       obs,
		queue:     make(chan queuedRun, 64),
		userLimit: newIPRateLimiter(cfg.Limits.EvaluateRPM),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Close stops accepting work and waits for in-flight runs to finish.
func (m *RunManager) Close() {
	m.closeOnce.Do(func() {
		close(m.queue)
	})
	m.wg.Wait()
}

func (m *RunManager) CreateAdminRun(principal Principal, req RunRequest, ip, ua string) (RunMeta, error) {
	return m.createRun(principal, req, "admin_api", ip, ua)
}

// CreateUserRun is the self-service path. It shares the queue with admin
// runs but is rate limited per client IP.
func (m *RunManager) CreateUserRun(principal Principal, req RunRequest, ip, ua string) (RunMeta, error) {
	if !m.userLimit.allow(hashString(ip)) {
		m.appendAudit(AuditEvent{
			ActorType: "user",
			ActorSub:  principal.Subject,
			Action:    "run.create",
			Result:    "rate_limited",
			IPHash:    hashString(ip),
			UAHash:    hashString(ua),
		})
		return RunMeta{}, &RateLimitedError{RetryAfter: time.Minute}
	}
	return m.createRun(principal, req, "user_api", ip, ua)
}

func (m *RunManager) createRun(principal Principal, req RunRequest, source, ip, ua string) (RunMeta, error) {
	normalized, err := m.normalizeRequest(req)
	if err != nil {
		m.appendAudit(AuditEvent{
			ActorType: principal.Role,
			ActorSub:  principal.Subject,
			Action:    "run.create",
			Result:    "rejected",
			IPHash:    hashString(ip),
			UAHash:    hashString(ua),
			Detail:    err.Error(),
		})
		return RunMeta{}, err
	}

	meta := RunMeta{
		RunID:        randomID("run"),
		Status:       "queued",
		CreatorType:  principal.Role,
		CreatorSub:   principal.Subject,
		CreatorEmail: principal.Username,
		Source:       source,
		Request:      normalized,
		CreatedAt:    nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, fmt.Errorf("persist run: %w", err)
	}
	if _, err := m.store.AppendRunEvent(meta.RunID, "queued", "run accepted", map[string]any{
		"target": normalized.Target,
	}); err != nil {
		return RunMeta{}, fmt.Errorf("persist run event: %w", err)
	}
	m.appendAudit(AuditEvent{
		RunID:     meta.RunID,
		ActorType: principal.Role,
		ActorSub:  principal.Subject,
		Action:    "run.create",
		Result:    "accepted",
		IPHash:    hashString(ip),
		UAHash:    hashString(ua),
	})

	select {
	case m.queue <- queuedRun{runID: meta.RunID}:
	default:
		_, _ = m.store.UpdateRun(meta.RunID, func(r *RunMeta) {
			r.Status = "errored"
			r.Error = "run queue full"
			r.FinishedAt = nowRFC3339()
		})
		return RunMeta{}, errors.New("run queue full")
	}
	return meta, nil
}

// normalizeRequest validates the request and fills server-side defaults so
// the stored request is exactly what the worker will execute.
func (m *RunManager) normalizeRequest(req RunRequest) (RunRequest, error) {
	req.Target = strings.TrimSpace(req.Target)
	if req.Target == "" {
		return req, errors.New("target is required")
	}
	if root := strings.TrimSpace(m.cfg.Runs.AllowedTargetRoot); root != "" {
		abs, err := filepath.Abs(req.Target)
		if err != nil {
			return req, fmt.Errorf("resolve target: %w", err)
		}
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			return req, fmt.Errorf("resolve target root: %w", err)
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return req, fmt.Errorf("target must be under %s", root)
		}
		req.Target = abs
	}

	runStatic := req.RunStatic == nil || *req.RunStatic
	runRuntime := req.RunRuntime == nil || *req.RunRuntime
	if !runStatic && !runRuntime {
		return req, errors.New("at least one of run_static and run_runtime must be enabled")
	}
	if runRuntime && len(req.ServerCommand) == 0 {
		return req, errors.New("server_command is required when the runtime half is enabled")
	}

	if req.TimeoutSec <= 0 {
		req.TimeoutSec = m.cfg.Runs.DefaultTimeoutSec
	}
	if req.TimeoutSec <= 0 {
		req.TimeoutSec = 300
	}
	if req.PassThreshold <= 0 {
		req.PassThreshold = m.cfg.Runs.PassThreshold
	}

	// Shares are validated here rather than at execution time so a bad
	// request fails the API call instead of producing an errored run.
	if (req.StaticShare != 0 || req.RuntimeShare != 0) && !sharesValid(req.StaticShare, req.RuntimeShare) {
		return req, errors.New("static_share and runtime_share must be in [0,1] and sum to 1")
	}
	return req, nil
}

func sharesValid(staticShare, runtimeShare float64) bool {
	if staticShare < 0 || staticShare > 1 || runtimeShare < 0 || runtimeShare > 1 {
		return false
	}
	sum := staticShare + runtimeShare
	return sum > 0.999999 && sum < 1.000001
}

func (m *RunManager) worker() {
	defer m.wg.Done()
	for item := range m.queue {
		m.executeRun(item.runID)
	}
}

func (m *RunManager) executeRun(runID string) {
	meta, ok := m.store.GetRun(runID)
	if !ok {
		return
	}
	started := time.Now()
	if _, err := m.store.UpdateRun(runID, func(r *RunMeta) {
		r.Status = "running"
		r.StartedAt = nowRFC3339()
	}); err != nil {
		return
	}
	_, _ = m.store.AppendRunEvent(runID, "running", "evaluation started", nil)

	opts := m.optionsFor(meta.Request)
	pub := eval.NewPublisher()
	token := pub.Subscribe(func(ev eval.Event) {
		m.forwardEvent(runID, ev)
	})
	defer pub.Unsubscribe(token)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(meta.Request.TimeoutSec)*time.Second)
	defer cancel()

	report, err := eval.Evaluate(ctx, meta.Request.Target, opts, pub)
	finished := nowRFC3339()
	if err != nil {
		_, _ = m.store.UpdateRun(runID, func(r *RunMeta) {
			r.Status = "errored"
			r.Error = err.Error()
			r.FinishedAt = finished
		})
		_, _ = m.store.AppendRunEvent(runID, "errored", err.Error(), nil)
		m.obs.MarkRun(context.Background(), "errored")
		return
	}

	status := "completed"
	if report.Status == eval.StatusErrored {
		status = "errored"
	}
	_, _ = m.store.UpdateRun(runID, func(r *RunMeta) {
		r.Status = status
		r.Error = report.StatusNote
		r.FinishedAt = finished
		r.Report = report
		r.Cert = certSnapshot(report)
	})
	_, _ = m.store.AppendRunEvent(runID, status, "evaluation finished", map[string]any{
		"composite_score":    report.Composite,
		"certification_tier": report.Tier,
	})
	m.obs.MarkRun(context.Background(), status)
	m.obs.MarkTier(context.Background(), report.Tier)
	m.obs.MarkRunDuration(context.Background(), time.Since(started))
}

func (m *RunManager) optionsFor(req RunRequest) eval.Options {
	score := eval.DefaultScoreConfig()
	if req.StaticShare != 0 || req.RuntimeShare != 0 {
		score.StaticShare = req.StaticShare
		score.RuntimeShare = req.RuntimeShare
	}
	if req.PassThreshold > 0 {
		score.PassThreshold = req.PassThreshold
	}
	return eval.Options{
		RunStatic:     req.RunStatic == nil || *req.RunStatic,
		RunRuntime:    req.RunRuntime == nil || *req.RunRuntime,
		ServerCommand: req.ServerCommand,
		ServerDir:     req.ServerDir,
		Score:         score,
		Run: eval.RunConfig{
			RunTimeout: time.Duration(req.TimeoutSec) * time.Second,
		},
	}
}

// forwardEvent copies one evaluation progress event into the run's durable
// event stream, and feeds phase durations to the metrics pipeline.
func (m *RunManager) forwardEvent(runID string, ev eval.Event) {
	message := ev.Name
	if phase, ok := ev.Data["phase"].(string); ok {
		message = phase
	} else if check, ok := ev.Data["check"].(string); ok {
		message = check
	}
	_, _ = m.store.AppendRunEvent(runID, ev.Name, message, ev.Data)

	if ev.Name == eval.EventPhaseCompleted {
		phase, _ := ev.Data["phase"].(string)
		if ms, ok := ev.Data["duration_ms"].(int64); ok {
			m.obs.MarkPhase(context.Background(), phase, time.Duration(ms)*time.Millisecond)
		}
	}
}

func certSnapshot(report *eval.Report) CertSnapshot {
	snap := CertSnapshot{
		Composite:    report.Composite,
		StaticScore:  report.StaticScore,
		RuntimeScore: report.RuntimeScore,
		Tier:         report.Tier,
	}
	if report.Runtime != nil {
		for _, probe := range report.Runtime.Probes {
			snap.ProbesTotal++
			if probe.Outcome == eval.OutcomePassed {
				snap.ProbesPassed++
			}
		}
	}
	return snap
}

func (m *RunManager) appendAudit(event AuditEvent) {
	event.Timestamp = nowRFC3339()
	_ = m.store.AppendAudit(event)
}

// RateLimitedError maps to HTTP 429 in the router.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func randomID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(buf))
}

// ipRateLimiter is a fixed-window per-key limiter. Zero or negative limits
// disable it.
type ipRateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

func newIPRateLimiter(perMinute int) *ipRateLimiter {
	return &ipRateLimiter{
		limit:  perMinute,
		window: time.Minute,
		hits:   map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	recent := filterRecentTime(l.hits[key], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

func filterRecentTime(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func hashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
