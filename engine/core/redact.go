package core

import (
	"regexp"
	"strings"
)

const maxRedactedLen = 256

var (
	bearerTokenRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-\._~\+\/]+=*`)
	kvSecretRe    = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|password|pass|pwd|credential|access_token)\s*[:=]\s*["']?[^"'\s]+["']?`,
	)
	providerKeyRe = regexp.MustCompile(`\b(sk-[A-Za-z0-9_\-]{16,}|sk-ant-[A-Za-z0-9_\-]{16,}|key-[A-Za-z0-9_\-]{16,})\b`)
	// URIs with userinfo for the stores this service talks to (postgres, mongo, neo4j, redis).
	connectionRe = regexp.MustCompile(
		`(?i)((postgres|postgresql|mongodb(\+srv)?|neo4j(\+s|\+ssc)?|bolt(\+s|\+ssc)?|redis|rediss|https?)://)[^@\s]+@`,
	)
	dsnRe = regexp.MustCompile(`(?i)\b((?:dsn|database_url|conn_string)\s*[:=]\s*)([^"'\s]+)`)
)

// RedactString trims, truncates, and scrubs credentials from log and error strings.
func RedactString(s string) string {
	s = strings.TrimSpace(s)
	s = connectionRe.ReplaceAllString(s, "$1[REDACTED]@")
	s = dsnRe.ReplaceAllString(s, "$1[REDACTED]")
	s = bearerTokenRe.ReplaceAllString(s, "$1[REDACTED]")
	s = kvSecretRe.ReplaceAllString(s, "$1=[REDACTED]")
	s = providerKeyRe.ReplaceAllString(s, "[REDACTED]")
	if len(s) > maxRedactedLen {
		s = s[:maxRedactedLen] + "…"
	}
	return s
}

// RedactError applies RedactString to an error, returning an empty string when nil.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return RedactString(err.Error())
}
