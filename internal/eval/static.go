package eval

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StaticCheck is one independent, side-effect-free rule over the target's
// source artifacts. Checks never see each other's output.
type StaticCheck interface {
	ID() string
	Run(src *Source) StaticCheckResult
}

// Source is the immutable snapshot of the target directory handed to every
// check, loaded once per run.
type Source struct {
	Root     string
	Readme   string
	Manifest *Manifest
	// Files maps relative path to content for recognized source files.
	Files map[string]string
	// ExampleFiles and TestFiles are relative paths, not loaded.
	ExampleFiles []string
	TestFiles    []string
}

// Manifest is the server's declared tool configuration.
type Manifest struct {
	Tools []ManifestTool `json:"tools"`
}

type ManifestTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

const maxSourceFileBytes = 512 * 1024

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".mjs": true,
}

var manifestCandidates = []string{
	"mcp.json",
	"claude_mcp.json",
	filepath.Join(".mcp", "config.json"),
}

// LoadSource walks the target directory and builds the snapshot.
func LoadSource(root string) (*Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat target: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target is not a directory: %s", root)
	}
	src := &Source{Root: root, Files: map[string]string{}}

	if data, err := os.ReadFile(filepath.Join(root, "README.md")); err == nil {
		src.Readme = string(data)
	}
	for _, candidate := range manifestCandidates {
		data, err := os.ReadFile(filepath.Join(root, candidate))
		if err != nil {
			continue
		}
		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err == nil {
			src.Manifest = &manifest
			break
		}
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" || name == "vendor" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if strings.HasPrefix(rel, "examples"+string(filepath.Separator)) || rel == "examples" {
			src.ExampleFiles = append(src.ExampleFiles, rel)
		}
		if isTestFile(name) {
			src.TestFiles = append(src.TestFiles, rel)
		}
		ext := filepath.Ext(name)
		if !sourceExtensions[ext] {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSourceFileBytes {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		src.Files[rel] = string(data)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk target: %w", walkErr)
	}
	return src, nil
}

func isTestFile(name string) bool {
	switch {
	case strings.HasSuffix(name, "_test.go"),
		strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py"),
		strings.HasSuffix(name, ".test.js"),
		strings.HasSuffix(name, ".test.ts"),
		strings.HasSuffix(name, ".spec.ts"):
		return true
	}
	return false
}

// DefaultChecks returns the built-in certification rules, in execution
// order.
func DefaultChecks() []StaticCheck {
	return []StaticCheck{
		FunctionalityCheck{},
		InjectionCheck{},
		NamingCheck{},
		ExamplesCheck{},
		ErrorHandlingCheck{},
	}
}

// RunStaticChecks sequences the checks over one loaded snapshot. One
// check's panic becomes a fail result with the message as an issue and
// never aborts the batch.
func RunStaticChecks(target string, checks []StaticCheck, pub *Publisher) StaticResult {
	pub.Emit(EventStaticStarted, map[string]any{"target": target, "checks": len(checks)})
	out := StaticResult{Checks: make([]StaticCheckResult, 0, len(checks))}

	src, err := LoadSource(target)
	if err != nil {
		for _, check := range checks {
			out.Checks = append(out.Checks, StaticCheckResult{
				CheckID:   check.ID(),
				Outcome:   CheckFail,
				Issues:    []string{"target source unavailable: " + err.Error()},
				Timestamp: nowRFC3339(),
			})
		}
		pub.Emit(EventStaticCompleted, map[string]any{"target": target, "error": err.Error()})
		return out
	}

	for _, check := range checks {
		pub.Emit(EventCheckRunning, map[string]any{"check": check.ID()})
		start := time.Now()
		result := runCheckIsolated(check, src)
		result.CheckID = check.ID()
		result.DurationMS = time.Since(start).Milliseconds()
		if result.Timestamp == "" {
			result.Timestamp = nowRFC3339()
		}
		out.Checks = append(out.Checks, result)
		pub.Emit(EventCheckCompleted, map[string]any{
			"check":       check.ID(),
			"outcome":     result.Outcome,
			"duration_ms": result.DurationMS,
		})
	}
	pub.Emit(EventStaticCompleted, map[string]any{"target": target, "checks": len(out.Checks)})
	return out
}

func runCheckIsolated(check StaticCheck, src *Source) (result StaticCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			result = StaticCheckResult{
				Outcome:   CheckFail,
				Issues:    []string{fmt.Sprintf("check panicked: %v", r)},
				Timestamp: nowRFC3339(),
			}
		}
	}()
	return check.Run(src)
}
