package tempfile

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join(t.TempDir(), "spill"))
	require.NoError(t, err)
	return r
}

func TestNewRegistry(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "tmp")

		r, err := NewRegistry(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, r.Dir())

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		r, err := NewRegistry("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.TempDir(), "streamupload"), r.Dir())
	})
}

func TestRegistry_Create(t *testing.T) {
	r := newTestRegistry(t)

	f, err := r.Create("backup")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.True(t, strings.HasPrefix(filepath.Base(f.Name()), "backup-"))
	assert.Equal(t, []string{f.Name()}, r.Paths())

	_, err = f.WriteString("data")
	require.NoError(t, err)
}

func TestRegistry_Create_UniqueNames(t *testing.T) {
	r := newTestRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		f, err := r.Create("")
		require.NoError(t, err)
		require.False(t, seen[f.Name()], "duplicate temp name %s", f.Name())
		seen[f.Name()] = true
		_ = f.Close()
	}
	assert.Equal(t, 50, r.Len())
}

func TestRegistry_Create_FailureUnregisters(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.RemoveAll(r.Dir()))

	_, err := r.Create("spill")
	require.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry(t)

	f, err := r.Create("spill")
	require.NoError(t, err)
	_ = f.Close()

	require.NoError(t, r.Remove(f.Name()))
	assert.Equal(t, 0, r.Len())
	_, err = os.Stat(f.Name())
	assert.True(t, os.IsNotExist(err))

	// Removing again is not an error.
	assert.NoError(t, r.Remove(f.Name()))
}

func TestRegistry_DrainAll(t *testing.T) {
	r := newTestRegistry(t)

	var open []*os.File
	for i := 0; i < 3; i++ {
		f, err := r.Create("spill")
		require.NoError(t, err)
		open = append(open, f)
	}
	// Leave one handle open: drain must not depend on owners closing files.
	_ = open[0].Close()
	_ = open[1].Close()
	defer func() { _ = open[2].Close() }()

	require.NoError(t, r.DrainAll())
	assert.Equal(t, 0, r.Len())

	for _, f := range open {
		_, err := os.Stat(f.Name())
		assert.True(t, os.IsNotExist(err), "file %s still exists", f.Name())
	}
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := r.Create("spill")
			if err != nil {
				t.Errorf("Create() error = %v", err)
				return
			}
			_ = f.Close()
			if err := r.Remove(f.Name()); err != nil {
				t.Errorf("Remove() error = %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
