// Package generate reaches the external fix-generation service: an opaque,
// possibly slow, possibly failing network call. A failed call means "no
// fix produced", never a loop fault.
package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

// FixContext carries what the generation service may want to know beyond
// the issue itself.
type FixContext struct {
	Iteration        int      `json:"iteration"`
	PreviousFailures []string `json:"previous_failures,omitempty"`
	TargetDir        string   `json:"target_dir,omitempty"`
}

// Generator is the boundary to the external fix-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, is issue.Issue, fixCtx FixContext) (*issue.CandidateFix, error)
}

// Client is an HTTP Generator.
type Client struct {
	client *resty.Client
	url    string
	logger hclog.Logger
}

// NewClient creates a generation client for the given endpoint.
func NewClient(url string, timeout time.Duration, retries int, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("generate")

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(15 * time.Second)
	client.SetLogger(restyLogger{logger})

	return &Client{client: client, url: url, logger: logger}
}

// generateRequest is the wire request body.
type generateRequest struct {
	Issue   issue.Issue `json:"issue"`
	Context FixContext  `json:"context"`
}

// Generate asks the service for one candidate fix.
func (c *Client) Generate(ctx context.Context, is issue.Issue, fixCtx FixContext) (*issue.CandidateFix, error) {
	var fix issue.CandidateFix
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(generateRequest{Issue: is, Context: fixCtx}).
		SetResult(&fix).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("generate fix for %s: %w", is.Key, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("generation service returned %s for %s", resp.Status(), is.Key)
	}
	if fix.Payload == nil {
		return nil, fmt.Errorf("generation service returned no payload for %s", is.Key)
	}
	if fix.IssueKey == "" {
		fix.IssueKey = is.Key
	}
	c.logger.Debug("fix generated", "issue", is.Key, "kind", fix.Kind, "confidence", fix.Confidence)
	return &fix, nil
}

// restyLogger forwards resty's log calls to hclog.
type restyLogger struct {
	logger hclog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.logger.Debug(fmt.Sprintf(format, v...)) }
