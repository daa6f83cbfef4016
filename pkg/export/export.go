// Package export строит артефакты из восстановленной БД:
// образ SQLite, JSON документ или книгу Excel.
//
// Все экспортеры читают источник через adapters.Source: сначала схему
// (SchemaIntrospector), затем строки каждой таблицы, приводя значения
// через schema.CoerceValue. Ошибки схемы остаются errs.SchemaQueryFailed,
// все остальные ошибки экспорта классифицируются как errs.ExportFailed.
package export

import (
	"context"
	"fmt"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/core/errs"
	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

// Stats - статистика экспорта
type Stats struct {
	Tables int
	Rows   int64
}

// exportErr классифицирует ошибку как ExportFailed, если она еще не классифицирована
func exportErr(op string, err error) error {
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.E(errs.ExportFailed, op, err)
}

// introspect читает схему источника
func introspect(ctx context.Context, src adapters.SchemaReader) ([]schema.TableSchema, error) {
	tables, err := src.Tables(ctx)
	if err != nil {
		if errs.KindOf(err) == errs.KindUnknown {
			return nil, errs.E(errs.SchemaQueryFailed, "tables", err)
		}
		return nil, err
	}
	return tables, nil
}

// scanTable читает таблицу и отдает строки, уже приведенные для target
func scanTable(ctx context.Context, src adapters.RowReader, table schema.TableSchema, target schema.Target, fn adapters.RowFunc) error {
	err := src.ScanRows(ctx, table, func(row []any) error {
		if len(row) != len(table.Columns) {
			return fmt.Errorf("table %s: row has %d values, expected %d", table.OutputName(), len(row), len(table.Columns))
		}
		schema.CoerceRow(row, target)
		return fn(row)
	})
	if err != nil {
		return exportErr("rows", err)
	}
	return nil
}
