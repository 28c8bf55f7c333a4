package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Outcome is what a stage checker reports back.
type Outcome struct {
	Passed bool
	Detail string

	// Test counts are only meaningful for the regression stage, which
	// gets proportional credit.
	TestsPassed int
	TestsTotal  int
}

// Checker runs one validation stage against the target tree. A returned
// error means the checker itself could not run; a failed check is an
// Outcome with Passed=false.
type Checker interface {
	Check(ctx context.Context) (Outcome, error)
}

// CommandChecker backs a stage with an external command run via the
// shell in the target directory. Exit 0 passes, non-zero fails. A
// timeout counts as a stage failure, not a pipeline fault.
type CommandChecker struct {
	Stage   string
	Command string
	Dir     string
	Timeout time.Duration
	Logger  hclog.Logger
}

// checkReport is the optional structured output a stage command may
// print instead of relying on its exit code alone.
type checkReport struct {
	Passed      *bool  `json:"passed"`
	Detail      string `json:"detail"`
	TestsPassed int    `json:"tests_passed"`
	TestsTotal  int    `json:"tests_total"`
}

func (c *CommandChecker) Check(ctx context.Context) (Outcome, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	cmd.Dir = c.Dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if c.Logger != nil {
		c.Logger.Debug("stage command finished", "stage", c.Stage, "duration", time.Since(start).Round(time.Millisecond), "ok", err == nil)
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Outcome{Detail: fmt.Sprintf("timed out after %s", timeout)}, nil
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return Outcome{}, fmt.Errorf("run %s checker: %w", c.Stage, err)
		}
	}

	out := Outcome{Passed: err == nil}
	if report, ok := parseCheckReport(stdout.String()); ok {
		if report.Passed != nil {
			out.Passed = *report.Passed
		}
		out.Detail = report.Detail
		out.TestsPassed = report.TestsPassed
		out.TestsTotal = report.TestsTotal
	} else if !out.Passed {
		out.Detail = tail(stderr.String(), stdout.String())
	}
	return out, nil
}

// parseCheckReport accepts a JSON object on stdout as the check result.
func parseCheckReport(out string) (checkReport, bool) {
	out = strings.TrimSpace(out)
	if !strings.HasPrefix(out, "{") {
		return checkReport{}, false
	}
	var report checkReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		return checkReport{}, false
	}
	return report, true
}

// tail returns the last non-empty line of the first non-empty source,
// which is usually the actionable part of a failing tool's output.
func tail(sources ...string) string {
	for _, s := range sources {
		lines := strings.Split(strings.TrimSpace(s), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if line := strings.TrimSpace(lines[i]); line != "" {
				return line
			}
		}
	}
	return ""
}
