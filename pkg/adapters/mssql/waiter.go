package mssql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	mssqldb "github.com/denisenkom/go-mssqldb"
	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/core/errs"
	"github.com/joseanu/mssql-converter/pkg/retry"
)

// WaitConfig - параметры ожидания готовности SQL Server
type WaitConfig struct {
	// Deadline - общий бюджет ожидания. <= 0 означает немедленный ConnectionTimeout.
	Deadline time.Duration

	// Interval - пауза между попытками
	Interval time.Duration

	// RetryableErrorNumbers - номера ошибок SQL Server, при которых сервер
	// считается еще не готовым (идет recovery, upgrade script и т.п.)
	RetryableErrorNumbers []int32
}

// DefaultWaitConfig: 60 секунд, попытка каждые 2 секунды
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Deadline: 60 * time.Second,
		Interval: 2 * time.Second,
		RetryableErrorNumbers: []int32{
			18456, // Login failed (sa недоступен пока идет инициализация контейнера)
			18401, // Server is in script upgrade mode
			4060,  // Cannot open database
			40613, // Database is not currently available
		},
	}
}

// OpenFunc открывает пул и проверяет его ping'ом. Пул при ошибке закрывается.
type OpenFunc func(ctx context.Context, cfg adapters.Config) (*sql.DB, error)

// Waiter ждет, пока SQL Server начнет принимать подключения
type Waiter struct {
	cfg     adapters.Config
	wait    WaitConfig
	open    OpenFunc
	onRetry func(attempt int, err error, delay time.Duration)
}

// WaiterOption настраивает Waiter
type WaiterOption func(*Waiter)

// WithOpenFunc подменяет функцию открытия пула (тесты)
func WithOpenFunc(open OpenFunc) WaiterOption {
	return func(w *Waiter) {
		w.open = open
	}
}

// WithOnRetry задает callback перед каждой повторной попыткой (метрики)
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) WaiterOption {
	return func(w *Waiter) {
		w.onRetry = fn
	}
}

// NewWaiter создает Waiter
func NewWaiter(cfg adapters.Config, wait WaitConfig, opts ...WaiterOption) *Waiter {
	w := &Waiter{
		cfg:  cfg,
		wait: wait,
		open: OpenPool,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait повторяет подключение до успеха или дедлайна.
//
// Временная ошибка ("сервер недоступен") -> пауза Interval и новая попытка.
// Любая другая ошибка возвращается без изменений и без повтора.
// Исчерпание дедлайна -> errs.ConnectionTimeout с последней ошибкой внутри.
// Возвращенный пул принадлежит вызывающему, его нужно закрыть.
func (w *Waiter) Wait(ctx context.Context) (*sql.DB, error) {
	if w.wait.Deadline <= 0 {
		return nil, errs.Errorf(errs.ConnectionTimeout, "wait", "deadline %v leaves no time for an attempt", w.wait.Deadline)
	}

	logger := zerolog.Ctx(ctx)

	rc := retry.UntilDeadline(w.wait.Deadline, w.wait.Interval, w.IsRetryable)
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Str("dsn", RedactedDSN(w.cfg)).
			Msg("SQL Server not reachable yet")
		if w.onRetry != nil {
			w.onRetry(attempt, err, delay)
		}
	}

	retryer, err := retry.NewRetryer(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to create retryer: %w", err)
	}

	var db *sql.DB
	err = retryer.Do(ctx, func(ctx context.Context) error {
		var openErr error
		db, openErr = w.open(ctx, w.cfg)
		return openErr
	})
	if err != nil {
		if errors.Is(err, retry.ErrDeadlineExceeded) {
			return nil, errs.E(errs.ConnectionTimeout, "wait", err)
		}
		return nil, err
	}

	logger.Debug().Str("host", w.cfg.Host).Msg("SQL Server is reachable")
	return db, nil
}

// IsRetryable сообщает, означает ли ошибка "сервер еще не готов"
func (w *Waiter) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		for _, n := range w.wait.RetryableErrorNumbers {
			if sqlErr.Number == n {
				return true
			}
		}
	}

	return false
}

// OpenPool открывает пул к master с настройками из cfg и проверяет его
func OpenPool(ctx context.Context, cfg adapters.Config) (*sql.DB, error) {
	db, err := sql.Open(DriverName, BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// OpenHealthPool - пул из одного подключения для GET /readyz.
// Подключение не проверяется при открытии: sql.DB дозвонится при первом PingContext.
func OpenHealthPool(cfg adapters.Config) (*sql.DB, error) {
	db, err := sql.Open(DriverName, BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}
	return db, nil
}
