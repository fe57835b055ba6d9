package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
)

// CheckpointFile stores the crawl resume cursor as JSON. It implements
// crawler.CheckpointStore.
type CheckpointFile struct {
	path string
}

// NewCheckpointFile returns a store backed by path.
func NewCheckpointFile(path string) *CheckpointFile {
	return &CheckpointFile{path: path}
}

// CheckpointPath derives the default checkpoint location from the raw file path.
func CheckpointPath(rawPath string) string {
	return strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + ".checkpoint.json"
}

// Load reads the checkpoint. ok is false when none has been written yet.
func (c *CheckpointFile) Load() (crawler.Checkpoint, bool, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return crawler.Checkpoint{}, false, nil
		}
		return crawler.Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return crawler.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", c.path, err)
	}
	return cp, true, nil
}

// Save writes the checkpoint atomically.
func (c *CheckpointFile) Save(cp crawler.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
