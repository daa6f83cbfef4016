// Package upload принимает загруженные файлы резервных копий и раскладывает
// их в каталог, видимый SQL Server.
//
// Каждый файл получает токен: метку времени в миллисекундах, увеличиваемую
// до тех пор, пока эксклюзивное создание <dir>/<token>.bak не удастся.
// Токен же дает имя временной БД (DB_<token>), поэтому имена не пересекаются
// даже при параллельных загрузках.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/adapters/base"
)

const (
	// Extension - единственное допустимое расширение
	Extension = ".bak"

	// DefaultMaxSize - 40 MiB
	DefaultMaxSize int64 = 40 * 1024 * 1024
)

var (
	ErrNotBackup = errors.New("file is not a .bak backup")
	ErrTooLarge  = errors.New("file exceeds maximum allowed size")
	ErrEmpty     = errors.New("uploaded file is empty")
)

// File - принятый файл резервной копии
type File struct {
	Token        string
	Path         string
	DatabaseName string
	OriginalName string
	Size         int64
}

// Store - каталог загрузок
type Store struct {
	dir     string
	maxSize int64
	now     func() time.Time

	mu   sync.Mutex
	last int64
}

// NewStore создает хранилище и каталог dir, если его нет
func NewStore(dir string, maxSize int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload dir is required")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &Store{dir: abs, maxSize: maxSize, now: time.Now}, nil
}

// Dir - абсолютный путь каталога загрузок
func (s *Store) Dir() string {
	return s.dir
}

// MaxSize - предельный размер файла
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

// CheckName проверяет расширение (без учета регистра)
func CheckName(name string) error {
	if !strings.EqualFold(filepath.Ext(name), Extension) {
		return fmt.Errorf("%w: %q", ErrNotBackup, name)
	}
	return nil
}

// Save копирует r в новый файл каталога загрузок.
// Файл длиннее MaxSize или пустой удаляется, возвращается ErrTooLarge/ErrEmpty.
func (s *Store) Save(ctx context.Context, originalName string, r io.Reader) (*File, error) {
	if err := CheckName(originalName); err != nil {
		return nil, err
	}

	token, f, err := s.create()
	if err != nil {
		return nil, err
	}
	path := f.Name()

	// +1 байт, чтобы отличить ровно MaxSize от превышения
	n, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	closeErr := f.Close()

	switch {
	case err != nil:
		err = fmt.Errorf("failed to write upload: %w", err)
	case closeErr != nil:
		err = fmt.Errorf("failed to close upload: %w", closeErr)
	case n > s.maxSize:
		err = ErrTooLarge
	case n == 0:
		err = ErrEmpty
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			zerolog.Ctx(ctx).Warn().Err(rmErr).Str("path", path).Msg("failed to remove rejected upload")
		}
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("token", token).
		Str("path", path).
		Int64("size", n).
		Msg("backup uploaded")

	return &File{
		Token:        token,
		Path:         path,
		DatabaseName: base.DatabaseName(token),
		OriginalName: originalName,
		Size:         n,
	}, nil
}

// Remove удаляет файл загрузки; отсутствующий файл не ошибка
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// create резервирует токен эксклюзивным созданием файла
func (s *Store) create() (string, *os.File, error) {
	const maxAttempts = 1000

	for i := 0; i < maxAttempts; i++ {
		token := strconv.FormatInt(s.nextStamp(), 10)
		path := filepath.Join(s.dir, token+Extension)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return token, f, nil
		}
		if !os.IsExist(err) {
			return "", nil, fmt.Errorf("failed to create upload file: %w", err)
		}
		// файл с таким токеном уже есть (другой процесс) - следующий
	}
	return "", nil, fmt.Errorf("failed to allocate upload token after %d attempts", maxAttempts)
}

// nextStamp - монотонная метка в миллисекундах, не повторяется внутри процесса
func (s *Store) nextStamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}
