package checkpoint

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// RestoreOpts controls how a rollback executes.
type RestoreOpts struct {
	// DryRun computes and returns the plan without touching any file.
	DryRun bool
	// Force restores even when the checkpoint fails its integrity check.
	Force bool
	// SkipSafetyCheckpoint suppresses the pre-rollback snapshot. Used only
	// when restoring the safety checkpoint itself would recurse.
	SkipSafetyCheckpoint bool
}

// Plan lists what a restore will do.
type Plan struct {
	Overwrite []string `json:"overwrite"`
	Create    []string `json:"create"`
	Delete    []string `json:"delete"`
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Overwrite) == 0 && len(p.Create) == 0 && len(p.Delete) == 0
}

// RestoreResult summarizes an executed (or planned) rollback.
type RestoreResult struct {
	CheckpointID     string `json:"checkpoint_id"`
	SafetyCheckpoint string `json:"safety_checkpoint,omitempty"`
	Plan             Plan   `json:"plan"`
	Executed         bool   `json:"executed"`
	VerifiedFiles    int    `json:"verified_files"`
}

// Restore rolls the target tree back to the given checkpoint. It verifies
// the checkpoint's integrity, plans the restore, takes a safety checkpoint
// of the pre-rollback state, executes the plan including deletion of files
// absent from the checkpoint, and re-verifies restored content hashes.
func (m *Manager) Restore(id string, opts RestoreOpts) (*RestoreResult, error) {
	meta, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	want, err := metadataIntegrity(meta)
	if err != nil {
		return nil, err
	}
	if meta.Integrity != want && !opts.Force {
		return nil, fmt.Errorf("%w: checkpoint %s", ErrIntegrity, id)
	}

	plan, err := m.plan(meta)
	if err != nil {
		return nil, fmt.Errorf("plan restore: %w", err)
	}

	result := &RestoreResult{CheckpointID: id, Plan: *plan}
	if opts.DryRun {
		return result, nil
	}

	// Keep the checkpoint alive while it is being restored.
	m.Pin(id)
	defer m.Unpin(id)

	if !opts.SkipSafetyCheckpoint {
		safetyID, err := m.Create(CreateOpts{Description: fmt.Sprintf("pre-rollback safety checkpoint (target %s)", id)})
		if err != nil {
			return nil, fmt.Errorf("create safety checkpoint: %w", err)
		}
		result.SafetyCheckpoint = safetyID
	}

	filesDir := filepath.Join(m.storeDir, id, "files")
	for _, rel := range append(append([]string{}, plan.Overwrite...), plan.Create...) {
		if _, err := copyAndHash(filepath.Join(filesDir, rel), filepath.Join(m.targetDir, rel)); err != nil {
			return result, fmt.Errorf("restore %s: %w", rel, err)
		}
	}
	// A restore is not faithful if files unknown to the checkpoint stay
	// behind, so extraneous files are removed, deepest paths first.
	sort.Sort(sort.Reverse(sort.StringSlice(plan.Delete)))
	for _, rel := range plan.Delete {
		if err := os.Remove(filepath.Join(m.targetDir, rel)); err != nil && !os.IsNotExist(err) {
			return result, fmt.Errorf("delete extraneous %s: %w", rel, err)
		}
	}
	result.Executed = true

	// Re-verify restored content against the recorded hashes.
	for rel, info := range meta.Files {
		sum, err := hashFile(filepath.Join(m.targetDir, rel))
		if err != nil {
			return result, fmt.Errorf("verify restored %s: %w", rel, err)
		}
		if sum != info.Checksum {
			return result, fmt.Errorf("restored %s hash mismatch", rel)
		}
		result.VerifiedFiles++
	}

	m.logger.Info("rollback complete", "id", id,
		"overwritten", len(plan.Overwrite), "created", len(plan.Create), "deleted", len(plan.Delete))
	return result, nil
}

// plan diffs the current tree against the checkpoint's file map.
func (m *Manager) plan(meta *Metadata) (*Plan, error) {
	plan := &Plan{}

	current := make(map[string]bool)
	err := filepath.WalkDir(m.targetDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(m.targetDir, path)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}
		if m.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			current[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for rel, info := range meta.Files {
		if !current[rel] {
			plan.Create = append(plan.Create, rel)
			continue
		}
		sum, err := hashFile(filepath.Join(m.targetDir, rel))
		if err != nil {
			return nil, err
		}
		if sum != info.Checksum {
			plan.Overwrite = append(plan.Overwrite, rel)
		}
	}
	for rel := range current {
		if _, ok := meta.Files[rel]; !ok {
			plan.Delete = append(plan.Delete, rel)
		}
	}

	sort.Strings(plan.Overwrite)
	sort.Strings(plan.Create)
	sort.Strings(plan.Delete)
	return plan, nil
}
