package judge

import (
	"strings"
	"unicode"
)

const (
	sameOutput = iota
	presentationDiff
	wrongOutput
)

// compareOutput reports sameOutput when the trimmed outputs are identical,
// presentationDiff when they differ only in whitespace, wrongOutput otherwise.
func compareOutput(expected, actual string) int {
	if strings.TrimSpace(expected) == strings.TrimSpace(actual) {
		return sameOutput
	}
	if visibleChars(expected) == visibleChars(actual) {
		return presentationDiff
	}
	return wrongOutput
}

func visibleChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
