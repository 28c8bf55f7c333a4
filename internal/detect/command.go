package detect

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

// CommandDetector execs a configured command and parses its stdout as a
// JSON issue report. Exit code 0 with an empty report means no defects.
type CommandDetector struct {
	Command string
	Dir     string
	Timeout time.Duration
	Logger  hclog.Logger
}

// Detect runs the detection command once.
func (d *CommandDetector) Detect(ctx context.Context) ([]issue.Issue, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", d.Command)
	cmd.Dir = d.Dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if d.Logger != nil {
		d.Logger.Debug("detector command finished", "duration", time.Since(start).Round(time.Millisecond))
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("detector timed out after %s", timeout)
		}
		// Detectors often exit non-zero when defects exist; only a
		// missing/unrunnable command with no output is a real failure.
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("run detector: %w", err)
		}
		if strings.TrimSpace(stdout.String()) == "" {
			return nil, fmt.Errorf("detector exited with error and no report: %s", strings.TrimSpace(stderr.String()))
		}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, nil
	}
	return parseReport([]byte(out))
}
