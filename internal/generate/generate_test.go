package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

func TestClient_GenerateDecodesFix(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"kind":        "content-replace",
			"target_file": "js/save.js",
			"confidence":  82,
			"payload":     map[string]string{"search": "old", "replace": "new"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 0, nil)
	is := issue.New(issue.KindRuntime, issue.SeverityHigh, "save-system", "save failed")
	fix, err := c.Generate(context.Background(), is, FixContext{Iteration: 3})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotReq.Issue.Key != is.Key || gotReq.Context.Iteration != 3 {
		t.Errorf("request = %+v", gotReq)
	}
	if fix.IssueKey != is.Key {
		t.Errorf("issue key not backfilled: %q", fix.IssueKey)
	}
	payload, ok := fix.Payload.(issue.ContentReplace)
	if !ok || payload.Search != "old" {
		t.Errorf("payload = %#v", fix.Payload)
	}
}

func TestClient_ServerErrorIsNoFix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 0, nil)
	is := issue.New(issue.KindRuntime, issue.SeverityHigh, "save-system", "save failed")
	if _, err := c.Generate(context.Background(), is, FixContext{}); err == nil {
		t.Error("expected error from 500 response")
	}
}

func TestClient_MissingPayloadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"kind":"content-replace","target_file":"a.js","confidence":50,"payload":null}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 0, nil)
	is := issue.New(issue.KindRuntime, issue.SeverityHigh, "save-system", "save failed")
	if _, err := c.Generate(context.Background(), is, FixContext{}); err == nil {
		t.Error("expected error for missing payload")
	}
}
