package logger

import (
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	// Magic-link paths carry a bearer credential in the last segment.
	loginLinkRegex = regexp.MustCompile(`(/login/)[A-Za-z0-9-]{8,}`)
)

// RedactEmail masks the local part of an address, keeping the domain so
// delivery problems can still be grouped by provider.
// "volunteer@example.org" → "vo***@example.org"; local parts of two
// characters or fewer are fully masked.
func RedactEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return "***@***"
	}
	local, host := email[:at], email[at+1:]
	if len(local) <= 2 {
		return "***@" + host
	}
	return local[:2] + "***@" + host
}

// RedactLoginLinks replaces the token in any magic-link path.
func RedactLoginLinks(s string) string {
	return loginLinkRegex.ReplaceAllString(s, "${1}"+redacted)
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(RedactLoginLinks(val), RedactEmail)
}
