// Package outcome описывает итог одного запроса конвертации и рассылает его
// получателям (Redis, брокеры сообщений) после того, как ответ уже сформирован.
package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/core/errs"
)

// EventConversionFinished - тип события
const EventConversionFinished = "conversion.finished"

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record - итог запроса
type Record struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Database  string `json:"database"`
	Format    string `json:"format"`
	Status    string `json:"status"`

	ErrorKind string  `json:"error_kind,omitempty"`
	Error     *string `json:"error,omitempty"`

	Tables int   `json:"tables"`
	Rows   int64 `json:"rows"`
	Bytes  int   `json:"bytes"`

	// Checksum - xxh3 артефакта (hex)
	Checksum string `json:"checksum,omitempty"`

	// ArchiveKey - ключ объекта в S3, если архив включен
	ArchiveKey string `json:"archive_key,omitempty"`

	CleanupFailed bool `json:"cleanup_failed,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// New создает запись; err == nil означает успех
func New(requestID, database, format string, started time.Time, err error) Record {
	finished := time.Now()
	r := Record{
		ID:         uuid.NewString(),
		Event:      EventConversionFinished,
		RequestID:  requestID,
		Database:   database,
		Format:     format,
		Status:     StatusSuccess,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
	}
	if err != nil {
		r.Status = StatusFailed
		r.ErrorKind = errs.KindOf(err).String()
		msg := err.Error()
		r.Error = &msg
	}
	return r
}

// Marshal - JSON записи
func (r Record) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	return data, nil
}

// Sink - получатель итогов
type Sink interface {
	Publish(ctx context.Context, r Record) error
	Close() error
}

// Fanout рассылает итог всем получателям. Ошибки получателей логируются
// и возвращаются вместе, но не останавливают рассылку.
type Fanout struct {
	sinks []Sink
}

// NewFanout - fanout по списку получателей (nil пропускаются)
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len - количество получателей
func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Publish(ctx context.Context, r Record) error {
	var errList []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, r); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("db", r.Database).Msg("failed to publish conversion outcome")
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (f *Fanout) Close() error {
	var errList []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
