package tabular

import (
	"fmt"
	"strings"

	"github.com/pbaille/codebook/internal/domain"
)

// ResponseKeywords are matched against lowercased headers, in header order.
var ResponseKeywords = []string{"response", "comment", "feedback", "suggestion", "text"}

// DetectResponseColumn returns the first header that looks like free-text
// survey responses. It is a guess; callers let the user override it.
func DetectResponseColumn(headers []string) (string, bool) {
	for _, h := range headers {
		lower := strings.ToLower(h)
		for _, kw := range ResponseKeywords {
			if strings.Contains(lower, kw) {
				return h, true
			}
		}
	}
	return "", false
}

// ResolveColumn picks the response column: an explicit override when given
// (exact match first, then case-insensitive ignoring padding), otherwise the detected one.
func ResolveColumn(headers []string, override string) (string, error) {
	override = strings.TrimSpace(override)
	if override == "" {
		if col, ok := DetectResponseColumn(headers); ok {
			return col, nil
		}
		return "", fmt.Errorf("no response column detected in %v: %w", headers, domain.ErrColumnNotFound)
	}
	for _, h := range headers {
		if h == override {
			return h, nil
		}
	}
	for _, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), override) {
			return h, nil
		}
	}
	return "", fmt.Errorf("column %q: %w", override, domain.ErrColumnNotFound)
}
