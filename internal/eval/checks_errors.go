package eval

import (
	"fmt"
	"regexp"
)

var errorHandlingPatterns = map[string]*regexp.Regexp{
	"recovery":   regexp.MustCompile(`try\s*{|try:\s*\n|if\s+err\s*!=\s*nil`),
	"raising":    regexp.MustCompile(`throw\s+new\s+Error|raise\s+\w+Error|errors\.New\(|fmt\.Errorf\(`),
	"validation": regexp.MustCompile(`(?i)validate|check|verify|assert`),
	"logging":    regexp.MustCompile(`console\.(error|warn)|logger\.(error|warning)|logging\.(error|warning)|slog\.Error|log\.Error`),
}

// ErrorHandlingCheck looks for evidence that the server handles and
// reports failures rather than crashing silently.
type ErrorHandlingCheck struct{}

func (ErrorHandlingCheck) ID() string { return "error-handling" }

func (ErrorHandlingCheck) Run(src *Source) StaticCheckResult {
	result := StaticCheckResult{Outcome: CheckPartial, Timestamp: nowRFC3339()}

	if len(src.Files) == 0 {
		result.Issues = append(result.Issues, "no source files found to evaluate")
		return result
	}

	counts := map[string]int{}
	for _, content := range src.Files {
		for name, pattern := range errorHandlingPatterns {
			if pattern.MatchString(content) {
				counts[name]++
			}
		}
	}

	hasRecovery := counts["recovery"] > 0
	hasRaising := counts["raising"] > 0

	if hasRecovery && hasRaising {
		result.Outcome = CheckPass
		result.Evidence = append(result.Evidence, fmt.Sprintf("found error recovery in %d files", counts["recovery"]))
	}
	if counts["validation"] > 0 {
		result.Evidence = append(result.Evidence, fmt.Sprintf("found validation patterns in %d files", counts["validation"]))
	}
	if counts["logging"] > 0 {
		result.Evidence = append(result.Evidence, fmt.Sprintf("found error logging in %d files", counts["logging"]))
	}

	switch {
	case result.Outcome == CheckPass:
		result.Evidence = append(result.Evidence, "error handling appears comprehensive")
	case hasRecovery || hasRaising:
		result.Issues = append(result.Issues, "some error handling present but incomplete")
	default:
		result.Outcome = CheckFail
		result.Issues = append(result.Issues, "minimal error handling detected")
	}
	return result
}
