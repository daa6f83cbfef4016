// Package errs содержит закрытую таксономию ошибок конвейера конвертации.
//
// Каждая ошибка получает Kind в том месте, где она возникла. Верхние уровни
// (HTTP, аудит, метрики) принимают решения только по Kind и никогда не
// анализируют текст или форму исходной ошибки.
package errs

import (
	"errors"
	"fmt"
)

// Kind - тип ошибки конвейера
type Kind uint8

const (
	// KindUnknown - ошибка без классификации (не из конвейера)
	KindUnknown Kind = iota
	// ConnectionTimeout - SQL Server не стал доступен до истечения дедлайна
	ConnectionTimeout
	// RestoreFailed - RESTORE или переключение сессии завершились ошибкой
	RestoreFailed
	// MalformedBackupFile - в списке файлов бэкапа нет data или log файла
	MalformedBackupFile
	// SchemaQueryFailed - ошибка запроса к INFORMATION_SCHEMA
	SchemaQueryFailed
	// ExportFailed - ошибка при построении SQLite/JSON/XLSX артефакта
	ExportFailed
	// CleanupStepFailed - не удался один из шагов очистки (не фатально)
	CleanupStepFailed
)

var kindNames = map[Kind]string{
	KindUnknown:         "Unknown",
	ConnectionTimeout:   "ConnectionTimeout",
	RestoreFailed:       "RestoreFailed",
	MalformedBackupFile: "MalformedBackupFile",
	SchemaQueryFailed:   "SchemaQueryFailed",
	ExportFailed:        "ExportFailed",
	CleanupStepFailed:   "CleanupStepFailed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Fatal сообщает, прерывает ли ошибка данного типа обработку запроса
func (k Kind) Fatal() bool {
	return k != CleanupStepFailed
}

// Error - классифицированная ошибка
type Error struct {
	Kind Kind
	Op   string // операция, в которой возникла ошибка ("restore", "drop_database", ...)
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is позволяет сравнивать через errors.Is(err, &errs.Error{Kind: k})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// E создает классифицированную ошибку.
// Если err уже классифицирован тем же Kind, он возвращается без повторной обертки.
func E(kind Kind, op string, err error) error {
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf создает классифицированную ошибку из форматной строки
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf возвращает Kind первой классифицированной ошибки в цепочке
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is проверяет, содержит ли цепочка ошибку заданного Kind
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, &Error{Kind: kind})
}
