package export

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/adapters/sqlite"
	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

// ToSQLite копирует все базовые таблицы источника в новую БД SQLite в памяти
// и возвращает ее образ.
//
// Для каждой таблицы: CREATE TABLE с типами MapColumnType и NOT NULL из источника,
// затем все строки через один подготовленный INSERT в одной транзакции.
// Образ снимается до закрытия БД; БД в памяти освобождается на любом пути.
func ToSQLite(ctx context.Context, src adapters.Source) (data []byte, stats Stats, err error) {
	tables, err := introspect(ctx, src)
	if err != nil {
		return nil, stats, err
	}

	mem, err := sqlite.OpenMemory(ctx)
	if err != nil {
		return nil, stats, exportErr("open", err)
	}
	defer func() {
		if closeErr := mem.Close(); closeErr != nil && err == nil {
			err = exportErr("close", closeErr)
			data = nil
		}
	}()

	logger := zerolog.Ctx(ctx)

	for _, table := range tables {
		rows, err := copyTable(ctx, src, mem, table)
		if err != nil {
			return nil, stats, err
		}
		stats.Tables++
		stats.Rows += rows
		logger.Debug().Str("table", table.OutputName()).Int64("rows", rows).Msg("table copied to sqlite")
	}

	data, err = mem.Serialize(ctx)
	if err != nil {
		return nil, stats, exportErr("serialize", err)
	}
	return data, stats, nil
}

func copyTable(ctx context.Context, src adapters.RowReader, mem *sqlite.MemoryDB, table schema.TableSchema) (int64, error) {
	if err := mem.CreateTable(ctx, table); err != nil {
		return 0, exportErr("create_table", err)
	}

	w, err := mem.BeginTable(ctx, table)
	if err != nil {
		return 0, exportErr("prepare", err)
	}

	err = scanTable(ctx, src, table, schema.TargetEmbedded, func(row []any) error {
		return w.Insert(ctx, row)
	})
	if err != nil {
		w.Rollback()
		return 0, err
	}

	if err := w.Commit(); err != nil {
		return 0, exportErr("commit", fmt.Errorf("table %s: %w", table.OutputName(), err))
	}
	return w.Rows(), nil
}
