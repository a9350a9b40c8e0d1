package collection

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Display name generation is cosmetic only: the generated name never
// participates in identity or dedup decisions.

const maxDisplayNameLen = 120

var (
	invalidChars = regexp.MustCompile(`[^a-zA-Z0-9 ._-]+`)
	whitespace   = regexp.MustCompile(`\s+`)
	authorSplit  = regexp.MustCompile(`(?i)\band\b|;|,`)
)

// DisplayNameFunc maps a source path and optional metadata to a sanitized
// filename. Injected into the engines so tests can substitute a stub.
type DisplayNameFunc func(path string, metadata map[string]string) string

// GenerateDisplayName builds a human-readable filename, metadata first
// ("Lastname Year Title"), falling back to the source file's own name.
// The result is sanitized, ends in .pdf, and is at most 120 characters.
func GenerateDisplayName(path string, metadata map[string]string) string {
	if len(metadata) > 0 {
		var parts []string
		if last := extractLastName(metadata["author"]); last != "" {
			parts = append(parts, last)
		}
		if year := strings.TrimSpace(metadata["year"]); year != "" {
			parts = append(parts, year)
		}
		if title := strings.TrimSpace(metadata["title"]); title != "" {
			parts = append(parts, title)
		}
		if len(parts) > 0 {
			return SanitizeFilename(strings.Join(parts, " "))
		}
	}

	return SanitizeFilename(filepath.Base(path))
}

// SanitizeFilename maps a raw name onto the charset [A-Za-z0-9 ._-],
// collapses whitespace runs, forces a .pdf suffix, and caps the total
// length at 120 characters including the suffix.
func SanitizeFilename(name string) string {
	cleaned := invalidChars.ReplaceAllString(name, " ")
	cleaned = strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))
	if cleaned == "" {
		cleaned = "document"
	}

	if !strings.HasSuffix(strings.ToLower(cleaned), ".pdf") {
		cleaned += ".pdf"
	}

	if len(cleaned) <= maxDisplayNameLen {
		return cleaned
	}

	stem := cleaned[:len(cleaned)-4]
	truncated := strings.TrimRight(stem[:maxDisplayNameLen-4], " ._-")
	if truncated == "" {
		truncated = "document"
	}
	return truncated + ".pdf"
}

// extractLastName returns the last name of the first listed author.
func extractLastName(author string) string {
	normalized := strings.TrimSpace(whitespace.ReplaceAllString(author, " "))
	if normalized == "" {
		return ""
	}

	primary := authorSplit.Split(normalized, 2)[0]
	parts := strings.Fields(primary)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
