package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	controlChars    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	ownerScopeRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)
)

// Categories accepted on upload
var validCategories = map[string]bool{"sales": true, "purchase": true, "other": true}

// Document types accepted on upload; "" means unknown
var validDocumentTypes = map[string]bool{
	"": true, "invoice": true, "receipt": true, "credit_note": true, "refund": true, "statement": true,
}

// ValidateOwnerScope checks the tenant identifier that scopes duplicate detection
func ValidateOwnerScope(scope string) error {
	if !ownerScopeRegex.MatchString(scope) {
		return fmt.Errorf("invalid owner scope: %q", scope)
	}
	return nil
}

// NormalizeCategory lowercases the category, mapping unknown values to "other"
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if validCategories[c] {
		return c
	}
	return "other"
}

// ValidateDocumentType checks the declared document type
func ValidateDocumentType(docType string) error {
	if !validDocumentTypes[strings.ToLower(strings.TrimSpace(docType))] {
		return fmt.Errorf("invalid document type: %q", docType)
	}
	return nil
}

// ValidateUploadSize rejects empty or oversized payloads
func ValidateUploadSize(size, limit int64) error {
	if size <= 0 {
		return fmt.Errorf("document is empty")
	}
	if limit > 0 && size > limit {
		return fmt.Errorf("document exceeds maximum size: %d > %d bytes", size, limit)
	}
	return nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}

// SanitizeFileName keeps the base name of an uploaded file without control characters
func SanitizeFileName(name string) string {
	name = SanitizeString(strings.ReplaceAll(name, "\\", "/"))
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
