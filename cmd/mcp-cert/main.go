package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mcp-cert/internal/eval"
)

func main() {
	target := flag.String("target", envOr("MCP_CERT_TARGET", ""), "Path to the MCP server source directory under evaluation")
	serverCmd := flag.String("server-cmd", envOr("MCP_CERT_SERVER_CMD", ""), "Command line that launches the server on stdio, e.g. \"python server.py\"")
	serverDir := flag.String("server-dir", "", "Working directory for the server subprocess (defaults to target)")
	runStatic := flag.Bool("static", true, "Run the static source checks")
	runRuntime := flag.Bool("runtime", true, "Run the live runtime probes")
	staticShare := flag.Float64("static-share", 0.4, "Composite weight of the static half")
	runtimeShare := flag.Float64("runtime-share", 0.6, "Composite weight of the runtime half")
	passThreshold := flag.Float64("pass-threshold", 60, "Composite score below which the run is flagged")
	runTimeout := flag.Duration("timeout", 5*time.Minute, "Overall budget for the runtime half")
	probeTimeout := flag.Duration("probe-timeout", 10*time.Second, "Per-probe request timeout")
	readyTimeout := flag.Duration("ready-timeout", 5*time.Second, "How long to wait for the server to answer after launch")
	workers := flag.Int("workers", 4, "Parallel tool probe workers")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full report JSON to this file")
	showEvents := flag.Bool("events", false, "Print progress events while the evaluation runs")
	strict := flag.Bool("strict", false, "Exit non-zero when the run errors or scores below the pass threshold")
	flag.Parse()

	if strings.TrimSpace(*target) == "" && flag.NArg() > 0 {
		*target = flag.Arg(0)
	}
	if strings.TrimSpace(*target) == "" {
		exitWith("MCP_CERT_TARGET or -target is required")
	}

	command := strings.Fields(strings.TrimSpace(*serverCmd))
	if *runRuntime && len(command) == 0 {
		exitWith("-server-cmd is required unless -runtime=false")
	}
	dir := strings.TrimSpace(*serverDir)
	if dir == "" {
		dir = *target
	}

	score := eval.DefaultScoreConfig()
	score.StaticShare = *staticShare
	score.RuntimeShare = *runtimeShare
	score.PassThreshold = *passThreshold

	opts := eval.Options{
		RunStatic:     *runStatic,
		RunRuntime:    *runRuntime,
		ServerCommand: command,
		ServerDir:     dir,
		Score:         score,
		Run: eval.RunConfig{
			RunTimeout:   *runTimeout,
			ProbeTimeout: *probeTimeout,
			ReadyTimeout: *readyTimeout,
			MaxWorkers:   *workers,
		},
	}

	pub := eval.NewPublisher()
	if *showEvents {
		pub.Subscribe(func(ev eval.Event) {
			fmt.Fprintf(os.Stderr, "%s %s\n", ev.Timestamp, describeEvent(ev))
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), *runTimeout+time.Minute)
	defer cancel()

	report, err := eval.Evaluate(ctx, *target, opts, pub)
	if err != nil {
		exitWith(err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(report)
	default:
		printText(report)
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeReport(*outputPath, report); err != nil {
			exitWith("failed to write report: " + err.Error())
		}
	}

	if *strict && (report.Status == eval.StatusErrored || report.Composite < *passThreshold) {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func describeEvent(ev eval.Event) string {
	switch ev.Name {
	case eval.EventPhaseStarted, eval.EventPhaseCompleted:
		phase, _ := ev.Data["phase"].(string)
		return fmt.Sprintf("%s %s", ev.Name, phase)
	case eval.EventCheckRunning, eval.EventCheckCompleted:
		check, _ := ev.Data["check"].(string)
		return fmt.Sprintf("%s %s", ev.Name, check)
	case eval.EventProbeCompleted:
		capability, _ := ev.Data["capability"].(string)
		outcome := ev.Data["outcome"]
		return fmt.Sprintf("%s %s %v", ev.Name, capability, outcome)
	case eval.EventRuntimeError:
		message, _ := ev.Data["error"].(string)
		return fmt.Sprintf("%s %s", ev.Name, message)
	default:
		return ev.Name
	}
}

func printText(report *eval.Report) {
	fmt.Printf("Target: %s\n", report.Target)
	fmt.Printf("Status: %s", report.Status)
	if report.StatusNote != "" {
		fmt.Printf(" (%s)", report.StatusNote)
	}
	fmt.Printf("\nGenerated: %s\n\n", report.GeneratedAt)

	if report.Static != nil {
		fmt.Println("Static checks:")
		for _, check := range report.Static.Checks {
			fmt.Printf("  [%s] %s (%dms)\n", strings.ToUpper(string(check.Outcome)), check.CheckID, check.DurationMS)
			for _, issue := range check.Issues {
				fmt.Printf("    - %s\n", issue)
			}
		}
		fmt.Println()
	}

	if report.Runtime != nil {
		fmt.Println("Runtime phases:")
		for _, phase := range report.Runtime.Phases {
			fmt.Printf("  %-24s probes=%d passed=%d failed=%d errored=%d", phase.Phase, phase.Probes, phase.Passed, phase.Failed, phase.Errored)
			if phase.Note != "" {
				fmt.Printf("  (%s)", phase.Note)
			}
			fmt.Println()
		}
		if report.Runtime.Error != "" {
			fmt.Printf("  runtime error: %s\n", report.Runtime.Error)
		}
		for _, stats := range report.Runtime.Stats {
			fmt.Printf("  %s: n=%d min=%.1fms avg=%.1fms max=%.1fms\n", stats.Operation, stats.Samples, stats.MinMS, stats.AvgMS, stats.MaxMS)
		}
		fmt.Println()
	}

	fmt.Printf("Scores: static=%.1f runtime=%.1f composite=%.1f\n", report.StaticScore, report.RuntimeScore, report.Composite)
	fmt.Printf("Certification: %s\n", report.Tier)
}

func printJSON(report *eval.Report) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		exitWith("failed to encode report JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeReport(path string, report *eval.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
