package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Severity classifies how urgent an issue is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Rank returns a numeric rank for ordering; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Kind classifies what class of defect an issue is.
type Kind string

const (
	KindRuntime        Kind = "runtime"
	KindFunctional     Kind = "functional"
	KindRegression     Kind = "regression"
	KindInitialization Kind = "initialization"
	KindNetwork        Kind = "network"
	KindUI             Kind = "ui"
)

// Context carries optional structural location info for an issue.
type Context struct {
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
	Stack string `json:"stack,omitempty"`
}

// Issue is one detected defect. Issues are created by a detection pass and
// never mutated; a later pass supersedes them with fresh instances.
type Issue struct {
	Key       string   `json:"key"`
	Kind      Kind     `json:"kind"`
	Severity  Severity `json:"severity"`
	Component string   `json:"component"`
	Message   string   `json:"message"`
	Frequency int      `json:"frequency"`
	Context   *Context `json:"context,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	digitRun      = regexp.MustCompile(`\d+`)
)

// IdentityKey derives a stable key for an issue from its kind, component,
// and normalized message. Numbers are masked so varying counts, addresses,
// or timestamps in the message do not split one defect into many keys.
func IdentityKey(kind Kind, component, message string) string {
	msg := strings.ToLower(strings.TrimSpace(message))
	msg = whitespaceRun.ReplaceAllString(msg, " ")
	msg = digitRun.ReplaceAllString(msg, "#")

	sum := sha256.Sum256([]byte(string(kind) + "|" + component + "|" + msg))
	return hex.EncodeToString(sum[:8])
}

// New builds an Issue with its identity key filled in and frequency 1.
func New(kind Kind, severity Severity, component, message string) Issue {
	return Issue{
		Key:        IdentityKey(kind, component, message),
		Kind:       kind,
		Severity:   severity,
		Component:  component,
		Message:    message,
		Frequency:  1,
		DetectedAt: time.Now().UTC(),
	}
}
