package eval

import (
	"fmt"
	"strings"
)

// FunctionalityCheck verifies the server's declared tools line up with
// what the source tree actually implements and documents.
type FunctionalityCheck struct{}

func (FunctionalityCheck) ID() string { return "functionality-match" }

func (FunctionalityCheck) Run(src *Source) StaticCheckResult {
	result := StaticCheckResult{Outcome: CheckPartial, Timestamp: nowRFC3339()}

	if src.Readme != "" && (strings.Contains(src.Readme, "## Features") || strings.Contains(src.Readme, "## Tools")) {
		result.Evidence = append(result.Evidence, "documentation found with feature descriptions")
	}

	if src.Manifest != nil {
		result.Evidence = append(result.Evidence, fmt.Sprintf("found %d defined tools in configuration", len(src.Manifest.Tools)))
		missing := 0
		for _, tool := range src.Manifest.Tools {
			if tool.Name == "" {
				continue
			}
			if hasImplementationFor(src, tool.Name) {
				result.Evidence = append(result.Evidence, fmt.Sprintf("implementation found for tool %q", tool.Name))
			} else {
				result.Issues = append(result.Issues, fmt.Sprintf("no implementation found for tool %q", tool.Name))
				missing++
			}
		}
		if missing > 0 {
			result.Outcome = CheckFail
			return result
		}
	}

	if len(result.Evidence) >= 2 {
		result.Outcome = CheckPass
	} else if len(result.Evidence) == 0 {
		result.Issues = append(result.Issues, "no documentation or tool configuration found")
	}
	return result
}

// hasImplementationFor looks for the tool's name in any source file path or
// body. A name match is weak evidence but mirrors how maintainers lay out
// one file or handler per tool.
func hasImplementationFor(src *Source, name string) bool {
	lowered := strings.ToLower(name)
	for path, content := range src.Files {
		if strings.Contains(strings.ToLower(path), lowered) {
			return true
		}
		if strings.Contains(strings.ToLower(content), lowered) {
			return true
		}
	}
	return false
}
