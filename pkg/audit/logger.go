package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Recorder - то, чем конвейер отмечает шаги
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
}

// LoggerConfig - конфигурация логгера аудита
type LoggerConfig struct {
	// AsyncMode - запись в appenders в отдельной горутине
	AsyncMode bool

	// BufferSize - размер буфера для асинхронного режима (по умолчанию 1000)
	BufferSize int

	// OnError - callback при ошибке appender
	OnError func(error)
}

// Logger раздает записи аудита appenders
type Logger struct {
	appenders []Appender
	config    LoggerConfig

	entries chan *Entry
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewLogger - создать audit logger
func NewLogger(config LoggerConfig, appenders ...Appender) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	l := &Logger{appenders: appenders, config: config}

	if config.AsyncMode {
		l.entries = make(chan *Entry, config.BufferSize)
		l.wg.Add(1)
		go l.process()
	}
	return l
}

// Record - записать entry
func (l *Logger) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return errors.New("audit logger is closed")
	}

	if l.config.AsyncMode {
		// appender может получить запись после того, как запрос завершен
		async := entry.Clone()
		select {
		case l.entries <- async:
			return nil
		default:
			// буфер переполнен - пишем синхронно
		}
	}

	return l.write(ctx, entry)
}

func (l *Logger) write(ctx context.Context, entry *Entry) error {
	var errList []error
	for _, a := range l.appenders {
		if err := a.Append(ctx, entry); err != nil {
			err = fmt.Errorf("appender failed: %w", err)
			l.handleError(err)
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (l *Logger) process() {
	defer l.wg.Done()
	for entry := range l.entries {
		l.write(context.Background(), entry)
	}
}

// Flush - сбросить буферы appenders, которые это умеют
func (l *Logger) Flush() error {
	var errList []error
	for _, a := range l.appenders {
		if f, ok := a.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				errList = append(errList, fmt.Errorf("flush failed: %w", err))
			}
		}
	}
	return errors.Join(errList...)
}

// Close дописывает очередь и закрывает appenders
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.entries != nil {
		close(l.entries)
	}
	l.mu.Unlock()

	l.wg.Wait()

	errList := []error{l.Flush()}
	for _, a := range l.appenders {
		if err := a.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close failed: %w", err))
		}
	}
	return errors.Join(errList...)
}

func (l *Logger) handleError(err error) {
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}

// Track засекает шаг; вызов возвращенной функции пишет запись с длительностью
// и ошибкой шага. Ошибка записи аудита не возвращается (Logger отдает ее в OnError).
func Track(ctx context.Context, rec Recorder, step Step, database string) func(err error, opts ...func(*Entry)) *Entry {
	start := time.Now()
	return func(err error, opts ...func(*Entry)) *Entry {
		entry := NewEntry(step, StatusSuccess).
			WithDatabase(database).
			WithDuration(time.Since(start)).
			WithError(err)
		for _, opt := range opts {
			opt(entry)
		}
		if rec != nil {
			rec.Record(ctx, entry)
		}
		return entry
	}
}

// Nop - Recorder, который ничего не пишет
type Nop struct{}

func (Nop) Record(ctx context.Context, entry *Entry) error {
	return nil
}
