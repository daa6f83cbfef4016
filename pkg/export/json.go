package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

// Document - JSON артефакт: таблица -> массив строк, строка -> колонка -> значение.
// Порядок таблиц и колонок сохраняется при сериализации.
type Document struct {
	Tables []TableData
}

// TableData - строки одной таблицы
type TableData struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// RowCount - общее количество строк во всех таблицах
func (d *Document) RowCount() int64 {
	var n int64
	for _, t := range d.Tables {
		n += int64(len(t.Rows))
	}
	return n
}

// ToJSON читает все базовые таблицы источника в Document.
// Значения приводятся по правилам JSON: бинарные данные и строки длиннее
// schema.MaxJSONStringLength символов заменяются на "".
func ToJSON(ctx context.Context, src adapters.Source) (*Document, error) {
	tables, err := introspect(ctx, src)
	if err != nil {
		return nil, err
	}

	doc := &Document{Tables: make([]TableData, 0, len(tables))}
	for _, table := range tables {
		td := TableData{
			Name:    table.OutputName(),
			Columns: table.ColumnNames(),
			Rows:    [][]any{},
		}

		err := scanTable(ctx, src, table, schema.TargetJSON, func(row []any) error {
			td.Rows = append(td.Rows, append([]any(nil), row...))
			return nil
		})
		if err != nil {
			return nil, err
		}

		doc.Tables = append(doc.Tables, td)
	}

	return doc, nil
}

// MarshalJSON кодирует документ как {"table": [{"col": value, ...}, ...], ...}
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode пишет документ в w потоково, без промежуточного map
func (d *Document) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)

	bw.WriteByte('{')
	for ti, t := range d.Tables {
		if ti > 0 {
			bw.WriteByte(',')
		}
		if err := writeJSON(bw, t.Name); err != nil {
			return err
		}
		bw.WriteString(":[")

		for ri, row := range t.Rows {
			if ri > 0 {
				bw.WriteByte(',')
			}
			bw.WriteByte('{')
			for ci, col := range t.Columns {
				if ci > 0 {
					bw.WriteByte(',')
				}
				if err := writeJSON(bw, col); err != nil {
					return err
				}
				bw.WriteByte(':')

				var v any
				if ci < len(row) {
					v = row[ci]
				}
				if err := writeJSON(bw, v); err != nil {
					return err
				}
			}
			bw.WriteByte('}')
		}
		bw.WriteByte(']')
	}
	bw.WriteByte('}')

	return bw.Flush()
}

func writeJSON(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return exportErr("json", err)
	}
	_, err = w.Write(data)
	return err
}
