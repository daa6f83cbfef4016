package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseanu/mssql-converter/pkg/core/errs"
)

// Step - шаг конвейера конвертации
type Step string

const (
	StepUpload     Step = "upload"
	StepConnect    Step = "connect"
	StepRestore    Step = "restore"
	StepIntrospect Step = "introspect"
	StepExport     Step = "export"
	StepDrop       Step = "drop"
	StepClose      Step = "close"
	StepRemoveFile Step = "remove_file"
)

// Cleanup - шаг относится к финальной очистке
func (s Step) Cleanup() bool {
	switch s {
	case StepDrop, StepClose, StepRemoveFile:
		return true
	}
	return false
}

// Status - статус выполнения шага
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Entry - запись аудита одного шага
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Step      Step      `json:"step"`
	Status    Status    `json:"status"`

	// RequestID - идентификатор HTTP запроса
	RequestID string `json:"request_id,omitempty"`

	// Database - имя временной БД (DB_<token>)
	Database string `json:"database,omitempty"`

	// Resource - файл, таблица или формат
	Resource string `json:"resource,omitempty"`

	Rows     int64         `json:"rows,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEntry создает запись шага
func NewEntry(step Step, status Status) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Step:      step,
		Status:    status,
	}
}

func (e *Entry) WithRequestID(id string) *Entry {
	e.RequestID = id
	return e
}

func (e *Entry) WithDatabase(name string) *Entry {
	e.Database = name
	return e
}

func (e *Entry) WithResource(resource string) *Entry {
	e.Resource = resource
	return e
}

func (e *Entry) WithRows(rows int64) *Entry {
	e.Rows = rows
	return e
}

func (e *Entry) WithDuration(d time.Duration) *Entry {
	e.Duration = d
	return e
}

// WithError отмечает шаг как неудачный. Ошибки очистки получают
// вид CleanupStepFailed независимо от причины.
func (e *Entry) WithError(err error) *Entry {
	if err == nil {
		return e
	}
	e.Status = StatusFailure
	e.ErrorMessage = err.Error()

	kind := errs.KindOf(err)
	if e.Step.Cleanup() {
		kind = errs.CleanupStepFailed
	}
	e.ErrorKind = kind.String()
	return e
}

func (e *Entry) WithMetadata(key string, value any) *Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// Failed - шаг завершился ошибкой
func (e *Entry) Failed() bool {
	return e.Status == StatusFailure
}

// ToJSON - JSON строка записи
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// String - строковое представление
func (e *Entry) String() string {
	s := fmt.Sprintf("[%s] %s %s (db=%s, resource=%s, rows=%d, duration=%v)",
		e.Timestamp.Format(time.RFC3339),
		e.Step,
		e.Status,
		e.Database,
		e.Resource,
		e.Rows,
		e.Duration,
	)
	if e.ErrorMessage != "" {
		s += fmt.Sprintf(" %s: %s", e.ErrorKind, e.ErrorMessage)
	}
	return s
}

// Clone - копия записи
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
