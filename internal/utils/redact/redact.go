// Package redact masks personal data in text that ends up in logs, errors and spans.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Level controls how much of a value survives redaction.
type Level string

const (
	// LevelNone drops values entirely.
	LevelNone Level = "none"
	// LevelHashed replaces personal data with a short salted hash.
	LevelHashed Level = "hashed"
	// LevelFull keeps values untouched. Development only.
	LevelFull Level = "full"
)

// ParseLevel maps a config value to a Level, defaulting to LevelHashed.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelNone:
		return LevelNone
	case LevelFull:
		return LevelFull
	default:
		return LevelHashed
	}
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	tokenPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)
)

// Redactor masks emails, phone numbers and bearer tokens. A nil Redactor
// behaves like LevelHashed with an empty salt.
type Redactor struct {
	level Level
	salt  string
}

// New returns a Redactor. salt keeps hashes stable per user without being reversible across users.
func New(level Level, salt string) *Redactor {
	return &Redactor{level: level, salt: salt}
}

// Text masks personal data inside free-form text such as message bodies
// or response snippets.
func (r *Redactor) Text(s string) string {
	if s == "" {
		return ""
	}
	switch r.levelOrDefault() {
	case LevelFull:
		return s
	case LevelNone:
		return "[REDACTED]"
	}

	out := tokenPattern.ReplaceAllString(s, "Bearer [TOKEN]")
	out = emailPattern.ReplaceAllStringFunc(out, func(m string) string {
		return "[EMAIL:" + r.hash(m) + "]"
	})
	return phonePattern.ReplaceAllStringFunc(out, func(m string) string {
		return "[PHONE:" + r.hash(m) + "]"
	})
}

// Snippet redacts s and cuts it to at most n bytes.
func (r *Redactor) Snippet(s string, n int) string {
	s = r.Text(strings.TrimSpace(s))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ID masks an identifier. Hashed ids still correlate across log lines.
func (r *Redactor) ID(id string) string {
	if id == "" {
		return ""
	}
	switch r.levelOrDefault() {
	case LevelFull:
		return id
	case LevelNone:
		return "[REDACTED]"
	}
	return r.hash(id)
}

func (r *Redactor) levelOrDefault() Level {
	if r == nil || r.level == "" {
		return LevelHashed
	}
	return r.level
}

func (r *Redactor) hash(s string) string {
	salt := ""
	if r != nil {
		salt = r.salt
	}
	sum := sha256.Sum256([]byte(s + salt))
	return hex.EncodeToString(sum[:])[:8]
}
