package issue

import (
	"encoding/json"
	"fmt"
)

// FixKind identifies the payload shape of a candidate fix.
type FixKind string

const (
	FixContentReplace FixKind = "content-replace"
	FixLineInsert     FixKind = "line-insert"
	FixFullReplace    FixKind = "full-replace"
)

// Payload is the kind-specific body of a candidate fix.
type Payload interface {
	fixKind() FixKind
}

// ContentReplace replaces one occurrence of Search with Replace in the target file.
type ContentReplace struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

func (ContentReplace) fixKind() FixKind { return FixContentReplace }

// LineInsert inserts Text as a new line before the given 1-based line number.
type LineInsert struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (LineInsert) fixKind() FixKind { return FixLineInsert }

// FullReplace replaces the entire target file with Content.
type FullReplace struct {
	Content string `json:"content"`
}

func (FullReplace) fixKind() FixKind { return FixFullReplace }

// CandidateFix is a proposed remediation for one issue, produced by the
// external generation service. Immutable once produced.
type CandidateFix struct {
	IssueKey    string  `json:"issue_key"`
	Kind        FixKind `json:"kind"`
	TargetFile  string  `json:"target_file"`
	Confidence  int     `json:"confidence"` // 0-100, from the generation service
	Explanation string  `json:"explanation,omitempty"`
	Payload     Payload `json:"-"`
}

// fixEnvelope is the wire form of a CandidateFix with an inline payload.
type fixEnvelope struct {
	IssueKey    string          `json:"issue_key"`
	Kind        FixKind         `json:"kind"`
	TargetFile  string          `json:"target_file"`
	Confidence  int             `json:"confidence"`
	Explanation string          `json:"explanation,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the fix with its payload inlined under "payload".
func (f CandidateFix) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal fix payload: %w", err)
	}
	return json.Marshal(fixEnvelope{
		IssueKey:    f.IssueKey,
		Kind:        f.Kind,
		TargetFile:  f.TargetFile,
		Confidence:  f.Confidence,
		Explanation: f.Explanation,
		Payload:     payload,
	})
}

// UnmarshalJSON decodes the payload into the variant named by "kind".
func (f *CandidateFix) UnmarshalJSON(data []byte) error {
	var env fixEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.IssueKey = env.IssueKey
	f.Kind = env.Kind
	f.TargetFile = env.TargetFile
	f.Confidence = env.Confidence
	f.Explanation = env.Explanation

	payload, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return err
	}
	f.Payload = payload
	return nil
}

func decodePayload(kind FixKind, raw json.RawMessage) (Payload, error) {
	// json.Unmarshal treats "null" as a no-op, which would yield a
	// zero-value payload that looks like a legitimate empty fix.
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("missing payload for fix kind %q", kind)
	}
	switch kind {
	case FixContentReplace:
		var p ContentReplace
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode content-replace payload: %w", err)
		}
		return p, nil
	case FixLineInsert:
		var p LineInsert
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode line-insert payload: %w", err)
		}
		return p, nil
	case FixFullReplace:
		var p FullReplace
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode full-replace payload: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown fix kind %q", kind)
}
