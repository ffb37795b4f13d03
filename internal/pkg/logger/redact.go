package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactContact masks free-text contact data, keeping only its length so
// operators can tell an empty field from a filled one.
func RedactContact(val string) string {
	if strings.TrimSpace(val) == "" {
		return ""
	}
	return "[redacted]"
}
