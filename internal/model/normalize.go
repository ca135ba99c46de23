package model

import "strings"

// NormalizeExitCode canonicalizes a free-form exit code for comparison
// across sources: uppercase, trim surrounding whitespace, and strip a
// literal "EXIT" prefix. "Exit A", "  a " and "EXIT A" all normalize to "A".
func NormalizeExitCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	c = strings.TrimPrefix(c, "EXIT")
	return strings.TrimSpace(c)
}
