package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

// HTTPDetector polls a detector service for the current issue set.
type HTTPDetector struct {
	client *resty.Client
	url    string
}

// NewHTTPDetector creates a detector client for the given endpoint.
func NewHTTPDetector(url string, timeout time.Duration, logger hclog.Logger) *HTTPDetector {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if logger != nil {
		client.SetLogger(newHclogAdapter(logger.Named("detector-http")))
	}
	return &HTTPDetector{client: client, url: url}
}

// Detect fetches the current issue report.
func (d *HTTPDetector) Detect(ctx context.Context) ([]issue.Issue, error) {
	resp, err := d.client.R().SetContext(ctx).Get(d.url)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detector returned %s", resp.Status())
	}
	return parseReport(resp.Body())
}

// hclogAdapter forwards resty's log calls to hclog.
type hclogAdapter struct {
	logger hclog.Logger
}

func newHclogAdapter(logger hclog.Logger) resty.Logger {
	return &hclogAdapter{logger: logger}
}

func (a *hclogAdapter) Errorf(format string, v ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, v...))
}

func (a *hclogAdapter) Warnf(format string, v ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, v...))
}

func (a *hclogAdapter) Debugf(format string, v ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, v...))
}
