package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/audit"
	"github.com/joseanu/mssql-converter/pkg/core/errs"
)

// Cleanup освобождает все, что принадлежит запросу.
//
// Шаги независимы и выполняются по порядку:
//  1. drop - удалить временную БД (если восстановление начиналось)
//  2. close - закрыть сессию и ее пул
//  3. remove_file - удалить загруженный файл
//
// Ошибка шага не останавливает следующие шаги.
type Cleanup struct {
	Session         Session
	Database        string
	DatabaseCreated bool
	BackupPath      string
	RequestID       string

	// Timeout - ограничение на всю очистку, 0 = без ограничения
	Timeout time.Duration

	recorder audit.Recorder
	remove   func(path string) error

	once sync.Once
	err  error
}

// Run выполняет очистку один раз; повторные вызовы возвращают тот же результат.
// Отмена ctx не прерывает очистку.
func (c *Cleanup) Run(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
	})
	return c.err
}

func (c *Cleanup) run(parent context.Context) error {
	ctx := context.WithoutCancel(parent)
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	recorder := c.recorder
	if recorder == nil {
		recorder = audit.Nop{}
	}
	remove := c.remove
	if remove == nil {
		remove = removeFile
	}

	var errList []error
	step := func(s audit.Step, resource string, skip bool, fn func() error) {
		if skip {
			recorder.Record(ctx, audit.NewEntry(s, audit.StatusSkipped).
				WithDatabase(c.Database).
				WithRequestID(c.RequestID).
				WithResource(resource))
			return
		}

		done := audit.Track(ctx, recorder, s, c.Database)
		err := safeCall(fn)
		done(err, func(e *audit.Entry) {
			e.WithRequestID(c.RequestID).WithResource(resource)
		})
		if err != nil {
			errList = append(errList, errs.E(errs.CleanupStepFailed, string(s), err))
		}
	}

	step(audit.StepDrop, c.Database, c.Session == nil || !c.DatabaseCreated, func() error {
		return c.Session.DropDatabase(ctx, c.Database)
	})
	step(audit.StepClose, c.Database, c.Session == nil, func() error {
		return c.Session.Close()
	})
	step(audit.StepRemoveFile, c.BackupPath, c.BackupPath == "", func() error {
		return remove(c.BackupPath)
	})

	err := errors.Join(errList...)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("kind", errs.CleanupStepFailed.String()).Msg("cleanup incomplete")
	}
	return err
}

// safeCall превращает panic шага в ошибку, чтобы остальные шаги выполнились
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// removeFile удаляет файл; отсутствующий файл не ошибка
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
