package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

// TableWriter вставляет строки одной таблицы одним подготовленным запросом
// внутри одной транзакции
type TableWriter struct {
	table schema.TableSchema
	tx    *sql.Tx
	stmt  *sql.Stmt
	rows  int64
}

// BeginTable открывает транзакцию и готовит INSERT для таблицы.
// Таблица уже должна существовать (CreateTable).
func (m *MemoryDB) BeginTable(ctx context.Context, table schema.TableSchema) (*TableWriter, error) {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, BuildInsert(table))
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to prepare insert for %s: %w", table.OutputName(), err)
	}

	return &TableWriter{table: table, tx: tx, stmt: stmt}, nil
}

// Insert вставляет строку. Значения должны быть уже приведены (schema.CoerceValue).
func (w *TableWriter) Insert(ctx context.Context, row []any) error {
	if _, err := w.stmt.ExecContext(ctx, row...); err != nil {
		return fmt.Errorf("failed to insert row %d into %s: %w", w.rows+1, w.table.OutputName(), err)
	}
	w.rows++
	return nil
}

// Rows - количество вставленных строк
func (w *TableWriter) Rows() int64 {
	return w.rows
}

// Commit фиксирует вставленные строки
func (w *TableWriter) Commit() error {
	w.stmt.Close()
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", w.table.OutputName(), err)
	}
	return nil
}

// Rollback откатывает транзакцию. Безопасен после Commit.
func (w *TableWriter) Rollback() {
	w.stmt.Close()
	w.tx.Rollback()
}

// vacuumInto выгружает БД во временный файл и читает его
func (m *MemoryDB) vacuumInto(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "mssql-converter-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "export.sqlite")
	literal := "'" + strings.ReplaceAll(target, "'", "''") + "'"

	if _, err := m.conn.ExecContext(ctx, "VACUUM INTO "+literal); err != nil {
		return nil, fmt.Errorf("failed to vacuum into %s: %w", target, err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}
	return data, nil
}
