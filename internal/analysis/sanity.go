package analysis

import (
	"strings"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
)

// rejectMarkers are phrases that show the model echoed its instructions or
// refused instead of analyzing. Matched case-insensitively.
var rejectMarkers = []string{
	"template",
	"unable to analyze",
	"i cannot analyze",
	"i can't analyze",
}

// Check returns an *domain.InvalidResponseError when text is blank or
// contains a reject marker.
func Check(text string) error {
	if strings.TrimSpace(text) == "" {
		return &domain.InvalidResponseError{}
	}
	lower := strings.ToLower(text)
	for _, m := range rejectMarkers {
		if strings.Contains(lower, m) {
			return &domain.InvalidResponseError{Marker: m}
		}
	}
	return nil
}

// Attribute prefixes analysis text with the requester's handle.
func Attribute(displayName, text string) string {
	if displayName == "" {
		displayName = "anonymous"
	}
	return "Analysis for @" + displayName + ":\n\n" + text
}
