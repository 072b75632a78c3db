package eval

import (
	"fmt"
	"strings"
)

// genericNames are too vague to tell callers what a tool does.
var genericNames = map[string]bool{
	"do": true, "run": true, "execute": true, "call": true, "fn": true, "func": true,
}

// NamingCheck verifies declared tool names are unique, descriptive, and
// use plausible identifier characters.
type NamingCheck struct{}

func (NamingCheck) ID() string { return "clear-naming" }

func (NamingCheck) Run(src *Source) StaticCheckResult {
	result := StaticCheckResult{Outcome: CheckPass, Timestamp: nowRFC3339()}

	if src.Manifest == nil {
		result.Outcome = CheckPartial
		result.Issues = append(result.Issues, "no tool configuration file found")
		return result
	}

	seen := map[string]int{}
	for _, tool := range src.Manifest.Tools {
		seen[tool.Name]++
	}
	for name, count := range seen {
		if count > 1 {
			result.Outcome = CheckFail
			result.Issues = append(result.Issues, fmt.Sprintf("duplicate tool name %q declared %d times", name, count))
		}
	}

	var unclear []string
	for _, tool := range src.Manifest.Tools {
		if len(tool.Name) < 3 || genericNames[tool.Name] || !isIdentifierish(tool.Name) {
			unclear = append(unclear, tool.Name)
		}
	}
	if len(unclear) > 0 {
		result.Outcome = CheckFail
		result.Issues = append(result.Issues, "unclear tool names: "+strings.Join(unclear, ", "))
	}

	if result.Outcome == CheckPass {
		result.Evidence = append(result.Evidence,
			fmt.Sprintf("all %d tool names are clear and unique", len(src.Manifest.Tools)),
			"tool names follow naming conventions")
	}
	return result
}

func isIdentifierish(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return name != ""
}
