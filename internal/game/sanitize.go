package game

import (
	"regexp"
	"strings"
)

const (
	minNameLen = 2
	maxNameLen = 100
)

var (
	urlPattern     = regexp.MustCompile(`(?i)https?://|www\.`)
	codePattern    = regexp.MustCompile("[{}\\[\\]<>|\\\\;`]")
	queryPattern   = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|WHERE|FILTER|UNION)\b`)
	allowedRunes   = regexp.MustCompile(`[^a-zA-Z\x{00C0}-\x{024F}\x{1E00}-\x{1EFF}\s\-'.,]+`)
	hasLetterRune  = regexp.MustCompile(`[a-zA-Z\x{00C0}-\x{024F}\x{1E00}-\x{1EFF}]`)
)

// SanitizeAthleteName validates and cleans free-text name input before it
// reaches the resolver. Returns the cleaned name, or ErrValidation when the
// input is unsalvageable (URLs, injection patterns, wiki-title underscores,
// too short/long, no letters left after filtering).
func SanitizeAthleteName(name string) (string, error) {
	name = strings.TrimSpace(name)

	if len(name) < minNameLen {
		return "", validationf("Name too short")
	}
	if len(name) > maxNameLen {
		return "", validationf("Name too long")
	}
	if strings.Contains(name, "_") && !strings.Contains(name, " ") {
		return "", validationf("Invalid name format")
	}
	if urlPattern.MatchString(name) {
		return "", validationf("URLs not allowed")
	}
	if codePattern.MatchString(name) {
		return "", validationf("Invalid characters in name")
	}
	if queryPattern.MatchString(name) {
		return "", validationf("Invalid input")
	}

	sanitized := allowedRunes.ReplaceAllString(name, "")
	sanitized = strings.Join(strings.Fields(sanitized), " ")

	if len(sanitized) < minNameLen {
		return "", validationf("Name contains too many invalid characters")
	}
	if !hasLetterRune.MatchString(sanitized) {
		return "", validationf("Name must contain letters")
	}
	return sanitized, nil
}
