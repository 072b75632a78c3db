package eval

import (
	"fmt"
	"regexp"
	"strings"
)

var codeBlockRe = regexp.MustCompile("(?s)```(?:json|javascript|typescript|python|go|sh|bash)?\n(.*?)\n```")

// ExamplesCheck requires at least three runnable demonstrations of the
// server: README code blocks, files under examples/, or test files.
type ExamplesCheck struct{}

func (ExamplesCheck) ID() string { return "working-examples" }

func (ExamplesCheck) Run(src *Source) StaticCheckResult {
	result := StaticCheckResult{Outcome: CheckFail, Timestamp: nowRFC3339()}

	found := 0
	if src.Readme != "" {
		blocks := codeBlockRe.FindAllString(src.Readme, -1)
		found += len(blocks)
		if strings.Contains(src.Readme, "## Example") || strings.Contains(src.Readme, "### Example") {
			result.Evidence = append(result.Evidence, "found example section in README")
		}
	}
	if len(src.ExampleFiles) > 0 {
		result.Evidence = append(result.Evidence, fmt.Sprintf("found %d files in examples directory", len(src.ExampleFiles)))
		found += len(src.ExampleFiles)
	}
	if len(src.TestFiles) > 0 {
		result.Evidence = append(result.Evidence, fmt.Sprintf("found %d test files with potential examples", len(src.TestFiles)))
		found += len(src.TestFiles)
	}

	switch {
	case found >= 3:
		result.Outcome = CheckPass
		result.Evidence = append(result.Evidence, fmt.Sprintf("found %d working examples", found))
	case found > 0:
		result.Outcome = CheckPartial
		result.Issues = append(result.Issues, fmt.Sprintf("found %d examples, need at least 3", found))
	default:
		result.Issues = append(result.Issues, "no examples found in documentation or code")
	}
	return result
}
