package adapter

import (
	"strings"
)

// FenceDelimiter is the markdown code-block fence.
const FenceDelimiter = "```"

// DefaultDeadFragments are URL fragments that only appear in answers from
// providers that have gone away and now return an advert or a mock page.
var DefaultDeadFragments = []string{"https://gptgo.ai"}

// IsEmptyResponse reports whether text is blank, the literal "None", an HTML
// page, or contains one of the dead-provider fragments.
func IsEmptyResponse(text string, deadFragments []string) bool {
	stripped := strings.Join(strings.Fields(text), "")
	if stripped == "" || text == "None" || stripped == "None" {
		return true
	}
	if strings.Contains(text, "!DOCTYPE") {
		return true
	}
	for _, fragment := range deadFragments {
		if fragment != "" && strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}

// RepairCodeFences drops the dangling last fence when the delimiter splits text
// into exactly four segments, which happens when an upstream length limit cut
// the final block short. The result holds a balanced number of fences.
// Any other split is returned unchanged.
func RepairCodeFences(text, delimiter string) string {
	parts := strings.Split(text, delimiter)
	if len(parts) != 4 {
		return text
	}
	return strings.Join(parts[:3], delimiter) + parts[3]
}
