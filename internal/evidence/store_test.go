// File: internal/evidence/store_test.go
package evidence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/config"
)

func newTestStore(t *testing.T, maxFiles int) *Store {
	t.Helper()
	return NewStore(config.EvidenceConfig{Dir: t.TempDir(), MaxFiles: maxFiles}, zap.NewNop())
}

func TestSaveWritesScreenshot(t *testing.T) {
	s := newTestStore(t, 10)

	path, err := s.Save([]byte("png-bytes"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Regexp(t, `check_\d+_[0-9a-f]{8}\.png$`, filepath.Base(path))
}

func TestRotationEvictsOldestBeyondCap(t *testing.T) {
	s := newTestStore(t, 3)

	var paths []string
	for i := 0; i < 5; i++ {
		p, err := s.Save([]byte{byte(i)})
		require.NoError(t, err)
		paths = append(paths, p)
		// Distinct mod times so eviction order is deterministic.
		mod := time.Now().Add(time.Duration(i-5) * time.Minute)
		require.NoError(t, os.Chtimes(p, mod, mod))
	}

	// Trigger one more rotation pass.
	last, err := s.Save([]byte("last"))
	require.NoError(t, err)

	remaining, err := filepath.Glob(filepath.Join(s.dir, filePattern))
	require.NoError(t, err)
	assert.Len(t, remaining, 3)

	assert.NoFileExists(t, paths[0])
	assert.NoFileExists(t, paths[1])
	assert.FileExists(t, last)
}

func TestRotationToleratesUnstatableFiles(t *testing.T) {
	s := newTestStore(t, 2)

	// Dangling symlinks match the glob but fail to stat.
	for _, name := range []string{"check_1_deadbeef.png", "check_2_deadbeef.png"} {
		require.NoError(t, os.Symlink(filepath.Join(s.dir, "gone"), filepath.Join(s.dir, name)))
	}

	path, err := s.Save([]byte("png-bytes"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}
