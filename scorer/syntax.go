package scorer

import (
	"fmt"
	"strings"
)

// Statement keywords that require a terminating semicolon in Jac.
var stmtKeywords = []string{"glob ", "has ", "= ", "print(", "report "}

// Declaration prefixes that open blocks and take no semicolon.
var declPrefixes = []string{"def ", "obj ", "node ", "edge ", "walker ", "enum ", "can ", "with ", "if ", "for ", "while ", "try", "except", "else"}

// CheckSyntax applies the soft textual rules: balanced braces and
// brackets, no stray commas, and semicolons on statement lines. Each
// returned string is one violation.
func CheckSyntax(code string) []string {
	var violations []string

	if open, close := strings.Count(code, "{"), strings.Count(code, "}"); open != close {
		violations = append(violations, fmt.Sprintf("[WARN] Mismatched braces: %d opening, %d closing", open, close))
	}
	if open, close := strings.Count(code, "["), strings.Count(code, "]"); open != close {
		violations = append(violations, fmt.Sprintf("[WARN] Mismatched brackets: %d opening, %d closing", open, close))
	}
	if strings.Contains(code, ",,") || strings.Contains(code, ",;") {
		violations = append(violations, "[WARN] Stray comma")
	}

	for i, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "*#") {
			continue
		}
		if !needsSemicolon(line) {
			continue
		}
		if !strings.HasSuffix(line, ";") && !strings.HasSuffix(line, "{") && !strings.HasSuffix(line, "}") && !strings.HasSuffix(line, ",") {
			snippet := line
			if len(snippet) > 50 {
				snippet = snippet[:50]
			}
			violations = append(violations, fmt.Sprintf("[WARN] Line %d may be missing semicolon: %s", i+1, snippet))
		}
	}
	return violations
}

func needsSemicolon(line string) bool {
	for _, p := range declPrefixes {
		if strings.HasPrefix(line, p) {
			return false
		}
	}
	for _, k := range stmtKeywords {
		if strings.Contains(line, k) {
			return true
		}
	}
	return false
}
