package bounce

import (
	"regexp"
	"strings"
)

var lineBreak = regexp.MustCompile(`\r?\n|\r`)

// Unfold splits text into logical header lines. A physical line that starts
// with a space or tab continues the previous logical line and is joined onto
// it with a single space; every line is trimmed. A continuation with nothing
// before it starts a new line.
func Unfold(text string) []string {
	var lines []string
	for _, line := range lineBreak.Split(text, -1) {
		folded := strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
		if folded && len(lines) > 0 {
			lines[len(lines)-1] += " " + strings.TrimSpace(line)
			continue
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	return lines
}
