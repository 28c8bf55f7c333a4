package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/collrest-a11y/idle-cultivation-game-sub007/internal/issue"
)

// applyFix writes a candidate fix's payload into the target tree.
// The caller has already checkpointed; this mutates for real. Target
// paths must stay inside the tree: anything outside it is beyond the
// checkpoint's ability to roll back.
func applyFix(targetDir string, fix *issue.CandidateFix) error {
	if !filepath.IsLocal(fix.TargetFile) {
		return fmt.Errorf("target file %q escapes the managed tree", fix.TargetFile)
	}
	path := filepath.Join(targetDir, fix.TargetFile)

	switch p := fix.Payload.(type) {
	case issue.ContentReplace:
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read target %s: %w", fix.TargetFile, err)
		}
		content := string(data)
		if !strings.Contains(content, p.Search) {
			return fmt.Errorf("search text not found in %s", fix.TargetFile)
		}
		content = strings.Replace(content, p.Search, p.Replace, 1)
		return writeFile(path, []byte(content))

	case issue.LineInsert:
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read target %s: %w", fix.TargetFile, err)
		}
		lines := strings.Split(string(data), "\n")
		if p.Line < 1 || p.Line > len(lines)+1 {
			return fmt.Errorf("insert line %d out of range for %s (%d lines)", p.Line, fix.TargetFile, len(lines))
		}
		idx := p.Line - 1
		lines = append(lines[:idx], append([]string{p.Text}, lines[idx:]...)...)
		return writeFile(path, []byte(strings.Join(lines, "\n")))

	case issue.FullReplace:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("mkdir for %s: %w", fix.TargetFile, err)
		}
		return writeFile(path, []byte(p.Content))
	}

	return fmt.Errorf("unknown fix kind %q", fix.Kind)
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
