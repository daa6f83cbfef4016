package upload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseanu/mssql-converter/pkg/adapters/base"
)

func newTestStore(t *testing.T, maxSize int64) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), maxSize)
	require.NoError(t, err)
	return s
}

func TestSave(t *testing.T) {
	s := newTestStore(t, 1024)

	f, err := s.Save(context.Background(), "Company.BAK", strings.NewReader("backup-bytes"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(s.Dir(), f.Token+".bak"), f.Path)
	assert.Equal(t, "DB_"+f.Token, f.DatabaseName)
	assert.NoError(t, base.ValidateDatabaseName(f.DatabaseName))
	assert.Equal(t, int64(len("backup-bytes")), f.Size)

	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, "backup-bytes", string(data))

	require.NoError(t, s.Remove(f.Path))
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))

	// повторное удаление не ошибка
	assert.NoError(t, s.Remove(f.Path))
}

func TestSave_RejectsExtension(t *testing.T) {
	s := newTestStore(t, 1024)

	for _, name := range []string{"db.zip", "db.bak.txt", "bak", ""} {
		_, err := s.Save(context.Background(), name, strings.NewReader("x"))
		assert.True(t, errors.Is(err, ErrNotBackup), name)
	}

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSave_SizeLimit(t *testing.T) {
	s := newTestStore(t, 16)

	f, err := s.Save(context.Background(), "exact.bak", bytes.NewReader(make([]byte, 16)))
	require.NoError(t, err)
	assert.Equal(t, int64(16), f.Size)

	_, err = s.Save(context.Background(), "big.bak", bytes.NewReader(make([]byte, 17)))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = s.Save(context.Background(), "empty.bak", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)

	// отклоненные файлы удалены, остался только принятый
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, f.Token+".bak", entries[0].Name())
}

func TestSave_DistinctTokensUnderConcurrency(t *testing.T) {
	s := newTestStore(t, 1024)
	fixed := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return fixed }

	const n = 50
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := s.Save(context.Background(), "x.bak", strings.NewReader("data"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			tokens[f.DatabaseName] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, tokens, n)
}

func TestSave_SkipsExistingFile(t *testing.T) {
	s := newTestStore(t, 1024)
	fixed := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return fixed }

	// файл, созданный другим процессом с тем же токеном
	taken := filepath.Join(s.Dir(), "1700000000000.bak")
	require.NoError(t, os.WriteFile(taken, []byte("other"), 0o644))

	f, err := s.Save(context.Background(), "x.bak", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000001", f.Token)

	data, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "other", string(data))
}

func TestNewStore_Defaults(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "uploads"), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSize, s.MaxSize())
	assert.True(t, filepath.IsAbs(s.Dir()))

	_, err = NewStore("", 0)
	assert.Error(t, err)
}
