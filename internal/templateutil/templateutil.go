// Package templateutil provides the helper functions shared by the page
// templates and the error page templates.
package templateutil

import (
	"fmt"
	"html/template"
	"strings"
	"time"
)

// DateLayout is how dates are shown on listings.
const DateLayout = "2006-01-02 15:04"

// FormatBytes formats a byte count into human-readable units (B, KB, MB, etc.).
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDate renders t in UTC using DateLayout. The zero time renders empty.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// StatusClass maps a trade status to the CSS class of its badge.
func StatusClass(status any) string {
	switch strings.ToLower(fmt.Sprint(status)) {
	case "pending":
		return "badge-pending"
	case "accepted":
		return "badge-accepted"
	case "rejected":
		return "badge-rejected"
	case "canceled":
		return "badge-canceled"
	}
	return "badge"
}

// SanitizeID turns s into an HTML element ID: bytes outside [A-Za-z0-9_-]
// become underscores and the result always starts with a letter.
func SanitizeID(s string) string {
	var result []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			result = append(result, c)
		} else {
			result = append(result, '_')
		}
	}
	return "id-" + string(result)
}

// FuncMap holds the helpers every template can call.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"formatBytes": FormatBytes,
		"formatDate":  FormatDate,
		"statusClass": StatusClass,
		"sanitizeID":  SanitizeID,
	}
}
