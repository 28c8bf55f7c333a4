// Package checkpoint snapshots the managed file tree and restores it.
// Restoring a checkpoint is the only way file state moves backward.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// ErrNotFound means the checkpoint id does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// ErrIntegrity means a checkpoint's metadata failed its integrity check.
var ErrIntegrity = errors.New("checkpoint integrity check failed")

const metadataFileName = "metadata.json"

// FileInfo records one snapshotted file.
type FileInfo struct {
	Size     int64  `json:"size"`
	MTime    string `json:"mtime"`
	Checksum string `json:"checksum"`
}

// Metadata describes one checkpoint.
type Metadata struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Timestamp   time.Time           `json:"timestamp"`
	FileCount   int                 `json:"fileCount"`
	TotalSize   int64               `json:"totalSize"`
	Integrity   string              `json:"integrity"`
	IssueKey    string              `json:"issueKey,omitempty"`
	Files       map[string]FileInfo `json:"files"`
}

// Manager creates, restores, and prunes checkpoints of a target tree.
type Manager struct {
	targetDir string
	storeDir  string
	ignore    []string
	maxCount  int
	logger    hclog.Logger

	mu     sync.Mutex
	pinned map[string]bool
}

// New creates a Manager snapshotting targetDir into storeDir.
func New(targetDir, storeDir string, ignore []string, maxCount int, logger hclog.Logger) (*Manager, error) {
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", storeDir, err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if maxCount <= 0 {
		maxCount = 10
	}
	return &Manager{
		targetDir: targetDir,
		storeDir:  storeDir,
		ignore:    ignore,
		maxCount:  maxCount,
		logger:    logger.Named("checkpoint"),
		pinned:    make(map[string]bool),
	}, nil
}

// CreateOpts carries descriptive metadata for a new checkpoint.
type CreateOpts struct {
	Description string
	IssueKey    string
}

// Create snapshots the target tree and returns the new checkpoint id.
// Metadata is fully written before Create returns.
func (m *Manager) Create(opts CreateOpts) (string, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.storeDir, id)
	filesDir := filepath.Join(dir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir checkpoint dir: %w", err)
	}

	meta := Metadata{
		ID:          id,
		Description: opts.Description,
		Timestamp:   time.Now().UTC(),
		IssueKey:    opts.IssueKey,
		Files:       make(map[string]FileInfo),
	}

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
		if d.IsDir() {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		sum, cerr := copyAndHash(path, filepath.Join(filesDir, rel))
		if cerr != nil {
			return fmt.Errorf("snapshot %s: %w", rel, cerr)
		}

		meta.Files[rel] = FileInfo{
			Size:     info.Size(),
			MTime:    info.ModTime().UTC().Format(time.RFC3339Nano),
			Checksum: sum,
		}
		meta.FileCount++
		meta.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("walk target tree: %w", err)
	}

	integrity, err := metadataIntegrity(&meta)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	meta.Integrity = integrity

	if err := writeJSON(filepath.Join(dir, metadataFileName), &meta); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("write checkpoint metadata: %w", err)
	}

	m.logger.Info("checkpoint created", "id", id, "files", meta.FileCount, "bytes", meta.TotalSize, "reason", opts.Description)

	if err := m.Prune(); err != nil {
		m.logger.Warn("prune after create failed", "error", err)
	}
	return id, nil
}

// Get loads a checkpoint's metadata.
func (m *Manager) Get(id string) (*Metadata, error) {
	var meta Metadata
	path := filepath.Join(m.storeDir, id, metadataFileName)
	if err := readJSON(path, &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &meta, nil
}

// List returns all checkpoints sorted oldest-first.
func (m *Manager) List() ([]Metadata, error) {
	entries, err := os.ReadDir(m.storeDir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	var all []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := m.Get(e.Name())
		if err != nil {
			continue // skip broken entries
		}
		all = append(all, *meta)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

// Pin protects a checkpoint from retention pruning while it is a potential
// rollback target for an in-flight validation.
func (m *Manager) Pin(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[id] = true
}

// Unpin releases a pinned checkpoint.
func (m *Manager) Unpin(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pinned, id)
}

// Prune deletes checkpoints beyond the retention limit, oldest first,
// skipping pinned ones.
func (m *Manager) Prune() error {
	all, err := m.List()
	if err != nil {
		return err
	}
	excess := len(all) - m.maxCount
	if excess <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the oldest excess entries are candidates; a pinned one among
	// them survives as temporary overflow rather than costing a newer
	// checkpoint its slot.
	for _, meta := range all[:excess] {
		if m.pinned[meta.ID] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.storeDir, meta.ID)); err != nil {
			return fmt.Errorf("prune checkpoint %s: %w", meta.ID, err)
		}
		m.logger.Debug("checkpoint pruned", "id", meta.ID)
	}
	return nil
}

// ignored reports whether a relative path matches an ignore pattern.
// Patterns match whole path segments, or base names via glob.
func (m *Manager) ignored(rel string, isDir bool) bool {
	base := filepath.Base(rel)
	for _, pattern := range m.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
			if seg == pattern {
				return true
			}
		}
	}
	return false
}

// metadataIntegrity hashes the checkpoint's own metadata: the sorted file
// map plus the identity fields. The Integrity field itself is excluded.
func metadataIntegrity(meta *Metadata) (string, error) {
	shadow := *meta
	shadow.Integrity = ""
	data, err := json.Marshal(&shadow)
	if err != nil {
		return "", fmt.Errorf("marshal metadata for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// copyAndHash copies src to dst, creating parent dirs, and returns the
// sha256 of the content.
func copyAndHash(src, dst string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		return "", err
	}
	if err := out.Sync(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashFile returns the sha256 of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}
