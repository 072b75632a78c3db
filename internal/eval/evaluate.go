package eval

import (
	"context"
	"fmt"
	"sync"

	"mcp-cert/internal/mcp"
)

// Options selects what an evaluation runs and how it is scored.
type Options struct {
	RunStatic  bool
	RunRuntime bool

	// ServerCommand launches the server under test for the runtime half.
	ServerCommand []string
	ServerDir     string
	ServerEnv     []string

	// Score defaults to DefaultScoreConfig when its weight maps are nil.
	Score ScoreConfig
	Run   RunConfig

	// Checks defaults to DefaultChecks.
	Checks []StaticCheck

	// NewClient overrides subprocess construction. Tests use it to
	// substitute a fake server.
	NewClient func() ServerClient
}

// Evaluate runs the selected halves of a certification pass against the
// target directory and reduces them to one scored report. Invalid weight
// configuration fails fast before any work starts; everything after that
// lands in the report rather than in the returned error.
func Evaluate(ctx context.Context, target string, opts Options, pub *Publisher) (*Report, error) {
	scoreCfg := opts.Score
	if scoreCfg.StaticWeights == nil && scoreCfg.RuntimeWeights == nil {
		threshold := scoreCfg.PassThreshold
		scoreCfg = DefaultScoreConfig()
		if threshold > 0 {
			scoreCfg.PassThreshold = threshold
		}
	}
	if err := scoreCfg.Validate(); err != nil {
		return nil, err
	}
	if !opts.RunStatic && !opts.RunRuntime {
		return nil, &ConfigError{Reason: "nothing to run: both halves disabled"}
	}
	if opts.RunRuntime && len(opts.ServerCommand) == 0 && opts.NewClient == nil {
		return nil, &ConfigError{Reason: "runtime half enabled without a server command"}
	}

	report := &Report{
		Target:    target,
		StartedAt: nowRFC3339(),
		Status:    StatusRunning,
	}

	var wg sync.WaitGroup
	if opts.RunStatic {
		checks := opts.Checks
		if checks == nil {
			checks = DefaultChecks()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			static := RunStaticChecks(target, checks, pub)
			report.Static = &static
		}()
	}
	if opts.RunRuntime {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := newServerClient(opts)
			orch := NewOrchestrator(client, opts.Run, pub)
			report.Runtime = orch.RunTests(ctx)
		}()
	}
	wg.Wait()

	report.FinishedAt = nowRFC3339()
	report.GeneratedAt = report.FinishedAt
	if err := ComputeScores(report, scoreCfg); err != nil {
		return nil, err
	}

	report.Status = StatusCompleted
	if report.Runtime != nil && report.Runtime.Status == StatusErrored {
		report.Status = StatusErrored
		report.StatusNote = report.Runtime.Error
	} else if report.Composite < scoreCfg.PassThreshold {
		report.StatusNote = fmt.Sprintf("composite %.2f below pass threshold %.2f", report.Composite, scoreCfg.PassThreshold)
	}
	return report, nil
}

func newServerClient(opts Options) ServerClient {
	if opts.NewClient != nil {
		return opts.NewClient()
	}
	return mcp.NewClient(mcp.Config{
		Command:        opts.ServerCommand,
		Dir:            opts.ServerDir,
		Env:            opts.ServerEnv,
		DefaultTimeout: opts.Run.withDefaults().ProbeTimeout,
	})
}
