package domain

import "strings"

// =============================================================================
// Domain Name Validation
// =============================================================================

// ValidDomain reports whether name is an acceptable fully-qualified
// hostname: dot-separated labels of alphanumerics, hyphens, and
// underscores, ending in a TLD of at least two characters.
//
// This is a pure function with no side effects.
func ValidDomain(name string) bool {
	if name == "" {
		return false
	}

	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}

	for _, label := range labels {
		if label == "" {
			return false
		}
		for _, r := range label {
			if !isLabelRune(r) {
				return false
			}
		}
	}

	// TLD must be at least two characters.
	return len(labels[len(labels)-1]) >= 2
}

func isLabelRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}
