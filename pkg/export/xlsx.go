package export

import (
	"context"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/core/schema"
	"github.com/joseanu/mssql-converter/pkg/xlsx"
)

// ToXLSX строит книгу Excel: один лист на таблицу, первая строка - заголовок "column (TYPE)"
func ToXLSX(ctx context.Context, src adapters.Source) ([]byte, Stats, error) {
	var stats Stats

	tables, err := introspect(ctx, src)
	if err != nil {
		return nil, stats, err
	}

	wb := xlsx.NewWorkbook()
	defer wb.Close()

	for _, table := range tables {
		sheet, err := wb.AddSheet(table)
		if err != nil {
			return nil, stats, exportErr("sheet", err)
		}

		err = scanTable(ctx, src, table, schema.TargetEmbedded, sheet.AppendRow)
		if err != nil {
			return nil, stats, err
		}

		if err := sheet.Flush(); err != nil {
			return nil, stats, exportErr("sheet", err)
		}

		stats.Tables++
		stats.Rows += int64(sheet.Rows())
	}

	data, err := wb.Bytes()
	if err != nil {
		return nil, stats, exportErr("write", err)
	}
	return data, stats, nil
}
