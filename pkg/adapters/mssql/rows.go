package mssql

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	mssqldb "github.com/denisenkom/go-mssqldb"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/adapters/base"
	"github.com/joseanu/mssql-converter/pkg/core/errs"
	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

// ScanRows читает все строки таблицы и передает их в fn.
// Значения нормализуются normalizeValue по DATA_TYPE колонки.
// Ошибка запроса или чтения -> errs.ExportFailed; ошибка fn возвращается как есть.
func (s *Session) ScanRows(ctx context.Context, table schema.TableSchema, fn adapters.RowFunc) error {
	if len(table.Columns) == 0 {
		return errs.Errorf(errs.ExportFailed, "select", "table %s has no columns", table.OutputName())
	}

	schemaName := table.Schema
	if schemaName == "" {
		schemaName = schema.DefaultSchema
	}

	query := fmt.Sprintf("SELECT %s FROM %s",
		base.MSSQL.QuoteList(table.ColumnNames()),
		base.MSSQL.QuoteQualified(schemaName, table.Name))

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return errs.E(errs.ExportFailed, "select", fmt.Errorf("failed to query %s: %w", table.OutputName(), err))
	}
	defer rows.Close()

	values := make([]any, len(table.Columns))
	valuePtrs := make([]any, len(table.Columns))
	row := make([]any, len(table.Columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return errs.E(errs.ExportFailed, "scan", fmt.Errorf("failed to scan row of %s: %w", table.OutputName(), err))
		}

		for i, col := range table.Columns {
			row[i] = normalizeValue(col.SourceType, values[i])
		}

		if err := fn(row); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return errs.E(errs.ExportFailed, "scan", fmt.Errorf("error iterating rows of %s: %w", table.OutputName(), err))
	}
	return nil
}

// normalizeValue приводит значения драйвера go-mssqldb к переносимому виду:
//
//	decimal/numeric/money/smallmoney ([]byte "12.34") -> float64
//	uniqueidentifier ([]byte, 16 байт в порядке SQL Server) -> "6F9619FF-8B86-D011-B42D-00C04FC964FF"
//	timestamp/rowversion ([]byte, 8 байт) -> hex без ведущих нулей
//	date -> "2006-01-02", time -> "15:04:05.9999999"
//	datetime/datetime2/smalldatetime -> RFC3339Nano, datetimeoffset -> RFC3339Nano со смещением
//
// Остальное возвращается как есть.
func normalizeValue(sourceType string, v any) any {
	if v == nil {
		return nil
	}

	switch strings.ToLower(sourceType) {
	case "decimal", "numeric", "money", "smallmoney":
		var text string
		switch val := v.(type) {
		case []byte:
			text = string(val)
		case string:
			text = val
		default:
			return v
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return text
		}
		return f

	case "uniqueidentifier":
		var u mssqldb.UniqueIdentifier
		if err := u.Scan(v); err != nil {
			return v
		}
		return u.String()

	case "timestamp", "rowversion":
		if b, ok := v.([]byte); ok {
			return rowversionHex(b)
		}
		return v

	case "date":
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02")
		}
		return v

	case "time":
		if t, ok := v.(time.Time); ok {
			return t.Format("15:04:05.9999999")
		}
		return v
	}

	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return v
}
