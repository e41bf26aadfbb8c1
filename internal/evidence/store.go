// File: internal/evidence/store.go

// Package evidence persists the screenshot taken after each check and
// keeps the directory bounded so a long-running monitor never fills the
// disk.
package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/config"
)

const filePattern = "check_*.png"

// Store is a bounded on-disk screenshot store. Oldest files are evicted
// once the cap is exceeded.
type Store struct {
	dir      string
	maxFiles int
	logger   *zap.Logger
	now      func() time.Time
}

func NewStore(cfg config.EvidenceConfig, logger *zap.Logger) *Store {
	return &Store{
		dir:      cfg.Dir,
		maxFiles: cfg.MaxFiles,
		logger:   logger.Named("evidence"),
		now:      time.Now,
	}
}

// Save writes one screenshot and rotates the directory. The UUID suffix
// keeps names unique within a second.
func (s *Store) Save(data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create evidence dir: %w", err)
	}

	name := fmt.Sprintf("check_%d_%s.png", s.now().Unix(), uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	s.logger.Info("Screenshot saved", zap.String("path", path))

	if err := s.rotate(); err != nil {
		s.logger.Warn("Screenshot rotation failed", zap.Error(err))
	}
	return path, nil
}

// rotate deletes the oldest screenshots beyond the cap.
func (s *Store) rotate() error {
	paths, err := filepath.Glob(filepath.Join(s.dir, filePattern))
	if err != nil {
		return err
	}
	if len(paths) <= s.maxFiles {
		return nil
	}

	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: p, mod: info.ModTime()})
	}
	// Stat failures (files deleted underneath us, dangling symlinks) can
	// leave fewer entries than the glob found.
	if len(entries) <= s.maxFiles {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mod.Before(entries[j].mod) })

	for _, e := range entries[:len(entries)-s.maxFiles] {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove old screenshot", zap.String("path", e.path), zap.Error(err))
		}
	}
	return nil
}
