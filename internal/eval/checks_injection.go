package eval

import (
	"fmt"
	"regexp"
)

// injectionPatterns flag text that tries to smuggle instructions to the
// model or hijack it into publishing content.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)publish.*social\s*media`),
	regexp.MustCompile(`(?i)tweet\s*this`),
	regexp.MustCompile(`(?i)post\s*to\s*(facebook|twitter|instagram|linkedin)`),
	regexp.MustCompile(`(?i)share\s*on\s*social`),
	regexp.MustCompile(`(?i)ignore\s*(previous|above)\s*instructions`),
	regexp.MustCompile(`(?i)system\s*prompt`),
	regexp.MustCompile(`(?i)role:\s*system`),
	regexp.MustCompile(`<\|im_start\|>`),
	regexp.MustCompile(`<\|im_end\|>`),
	regexp.MustCompile(`\[INST\]`),
	regexp.MustCompile(`\[/INST\]`),
	regexp.MustCompile(`###\s*Human:`),
	regexp.MustCompile(`###\s*Assistant:`),
}

// InjectionCheck scans every source file for embedded prompt injection
// attempts. Any hit fails the check.
type InjectionCheck struct{}

func (InjectionCheck) ID() string { return "no-prompt-injection" }

func (InjectionCheck) Run(src *Source) StaticCheckResult {
	result := StaticCheckResult{Outcome: CheckPass, Timestamp: nowRFC3339()}

	hits := 0
	for _, path := range sortedKeys(src.Files) {
		content := src.Files[path]
		for _, pattern := range injectionPatterns {
			if pattern.MatchString(content) {
				hits++
				if len(result.Issues) < 3 {
					result.Issues = append(result.Issues, fmt.Sprintf("pattern %q in %s", pattern.String(), path))
				}
			}
		}
	}

	if hits > 0 {
		result.Outcome = CheckFail
		result.Evidence = append(result.Evidence, fmt.Sprintf("found %d suspicious patterns", hits))
		return result
	}
	result.Evidence = append(result.Evidence,
		"no prompt injection patterns detected",
		"code appears safe from instruction hijacking")
	return result
}
