// Package detect reaches the external defect-detection collaborator. The
// loop does not care how issues are found; it only consumes the report.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

// Detector is the boundary to the external detection collaborator.
type Detector interface {
	Detect(ctx context.Context) ([]issue.Issue, error)
}

// wireIssue is one entry in a detector report.
type wireIssue struct {
	Kind      string `json:"kind"`
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Stack     string `json:"stack,omitempty"`
}

// parseReport decodes a JSON issue report and deduplicates entries by
// identity key, counting repeats as frequency.
func parseReport(data []byte) ([]issue.Issue, error) {
	var wire []wireIssue
	if err := json.Unmarshal(data, &wire); err != nil {
		// Some detectors wrap the list in an envelope.
		var envelope struct {
			Issues []wireIssue `json:"issues"`
		}
		if err2 := json.Unmarshal(data, &envelope); err2 != nil {
			return nil, fmt.Errorf("parse detector report: %w", err)
		}
		wire = envelope.Issues
	}

	byKey := make(map[string]*issue.Issue)
	var order []string
	now := time.Now().UTC()
	for _, w := range wire {
		is := issue.Issue{
			Key:        issue.IdentityKey(issue.Kind(w.Kind), w.Component, w.Message),
			Kind:       issue.Kind(w.Kind),
			Severity:   issue.Severity(w.Severity),
			Component:  w.Component,
			Message:    w.Message,
			Frequency:  1,
			DetectedAt: now,
		}
		if w.File != "" || w.Stack != "" {
			is.Context = &issue.Context{File: w.File, Line: w.Line, Stack: w.Stack}
		}

		if existing, ok := byKey[is.Key]; ok {
			existing.Frequency++
			continue
		}
		byKey[is.Key] = &is
		order = append(order, is.Key)
	}

	sort.Strings(order)
	out := make([]issue.Issue, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out, nil
}
