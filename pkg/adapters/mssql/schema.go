package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joseanu/mssql-converter/pkg/core/errs"
	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

// ========== Schema Operations ==========

// Tables возвращает базовые таблицы текущей БД (views не включаются)
// с колонками в порядке ORDINAL_POSITION.
// Любая ошибка запроса -> errs.SchemaQueryFailed.
func (s *Session) Tables(ctx context.Context) ([]schema.TableSchema, error) {
	tables, err := s.tableNames(ctx)
	if err != nil {
		return nil, errs.E(errs.SchemaQueryFailed, "tables", err)
	}

	for i := range tables {
		columns, err := s.Columns(ctx, tables[i].Schema, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].Columns = columns
	}

	return tables, nil
}

func (s *Session) tableNames(ctx context.Context) ([]schema.TableSchema, error) {
	query := `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY CASE WHEN TABLE_SCHEMA = 'dbo' THEN 0 ELSE 1 END, TABLE_SCHEMA, TABLE_NAME
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []schema.TableSchema
	for rows.Next() {
		var t schema.TableSchema
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// Columns возвращает колонки таблицы schemaName.tableName в порядке ORDINAL_POSITION
func (s *Session) Columns(ctx context.Context, schemaName, tableName string) ([]schema.ColumnSchema, error) {
	if schemaName == "" {
		schemaName = schema.DefaultSchema
	}

	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			CHARACTER_MAXIMUM_LENGTH,
			NUMERIC_PRECISION,
			NUMERIC_SCALE,
			IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	rows, err := s.conn.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, errs.E(errs.SchemaQueryFailed, "columns",
			fmt.Errorf("failed to query columns of %s.%s: %w", schemaName, tableName, err))
	}
	defer rows.Close()

	var columns []schema.ColumnSchema
	for rows.Next() {
		var (
			columnName string
			dataType   string
			length     sql.NullInt64
			precision  sql.NullInt64
			scale      sql.NullInt64
			isNullable string
		)

		if err := rows.Scan(&columnName, &dataType, &length, &precision, &scale, &isNullable); err != nil {
			return nil, errs.E(errs.SchemaQueryFailed, "columns", fmt.Errorf("failed to scan column info: %w", err))
		}

		columns = append(columns, schema.ColumnSchema{
			Name:       columnName,
			SourceType: dataType,
			MaxLength:  nullableInt(length),
			Precision:  nullableInt(precision),
			Scale:      nullableInt(scale),
			Nullable:   isNullable != "NO",
		})
	}

	if err := rows.Err(); err != nil {
		return nil, errs.E(errs.SchemaQueryFailed, "columns", fmt.Errorf("error iterating columns: %w", err))
	}

	if len(columns) == 0 {
		return nil, errs.Errorf(errs.SchemaQueryFailed, "columns", "table %s.%s has no columns", schemaName, tableName)
	}

	return columns, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
