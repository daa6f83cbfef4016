package audit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Appender - получатель записей аудита
type Appender interface {
	Append(ctx context.Context, entry *Entry) error
	Close() error
}

// MultiAppender - запись в несколько appenders
type MultiAppender struct {
	appenders []Appender
}

// NewMultiAppender - создать multi appender
func NewMultiAppender(appenders ...Appender) *MultiAppender {
	return &MultiAppender{appenders: appenders}
}

// Append пишет во все appenders, даже если один из них упал
func (ma *MultiAppender) Append(ctx context.Context, entry *Entry) error {
	var errList []error
	for _, a := range ma.appenders {
		if err := a.Append(ctx, entry); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Close - закрыть все appenders
func (ma *MultiAppender) Close() error {
	var errList []error
	for _, a := range ma.appenders {
		if err := a.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Add - добавить appender
func (ma *MultiAppender) Add(appender Appender) {
	ma.appenders = append(ma.appenders, appender)
}

// LogAppender пишет записи в zerolog логгер из контекста
// (или в заданный, если в контексте логгера нет).
// Успешные шаги - debug, неудачные шаги очистки - warn, остальные неудачи - error.
type LogAppender struct {
	fallback zerolog.Logger
}

// NewLogAppender - создать log appender
func NewLogAppender(fallback zerolog.Logger) *LogAppender {
	return &LogAppender{fallback: fallback}
}

func (la *LogAppender) Append(ctx context.Context, entry *Entry) error {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &la.fallback
	}

	var ev *zerolog.Event
	switch {
	case !entry.Failed():
		ev = logger.Debug()
	case entry.Step.Cleanup():
		ev = logger.Warn()
	default:
		ev = logger.Error()
	}

	ev = ev.Str("step", string(entry.Step)).
		Str("status", string(entry.Status)).
		Dur("duration", entry.Duration)
	if entry.RequestID != "" {
		ev = ev.Str("request_id", entry.RequestID)
	}
	if entry.Database != "" {
		ev = ev.Str("db", entry.Database)
	}
	if entry.Resource != "" {
		ev = ev.Str("resource", entry.Resource)
	}
	if entry.Rows > 0 {
		ev = ev.Int64("rows", entry.Rows)
	}
	if entry.Failed() {
		ev = ev.Str("error_kind", entry.ErrorKind).Str("error", entry.ErrorMessage)
	}
	ev.Msg("pipeline step")
	return nil
}

func (la *LogAppender) Close() error {
	return nil
}
