package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizePage canonicalizes extracted plaintext so that formatting noise
// can never masquerade as a content change: NFC Unicode form, LF line
// endings, no trailing whitespace, blank runs collapsed to one empty line,
// no leading or trailing blank lines.
func NormalizePage(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\u00a0")
		if line == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, line)
	}

	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// collapseSpaces squeezes runs of spaces and tabs inside a line.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
