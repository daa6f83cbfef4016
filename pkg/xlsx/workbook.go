package xlsx

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

const (
	// MaxRows - лимит строк листа Excel (включая заголовок)
	MaxRows = 1048576
	// MaxCellLength - лимит символов в ячейке Excel
	MaxCellLength = 32767
	// maxSheetName - лимит длины имени листа
	maxSheetName = 31
)

// Workbook - книга Excel, один лист на таблицу.
// Листы пишутся потоково через excelize.StreamWriter.
//
// Example:
//
//	wb := xlsx.NewWorkbook()
//	defer wb.Close()
//	sheet, _ := wb.AddSheet(table)
//	sheet.AppendRow([]any{int64(1), "a", nil})
//	sheet.Flush()
//	data, _ := wb.Bytes()
type Workbook struct {
	f           *excelize.File
	names       map[string]bool
	headerStyle int
	sheets      int
}

// Sheet - лист в процессе записи
type Sheet struct {
	Name    string
	columns []schema.ColumnSchema
	sw      *excelize.StreamWriter
	row     int
}

// NewWorkbook создает пустую книгу
func NewWorkbook() *Workbook {
	f := excelize.NewFile()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	return &Workbook{
		f:           f,
		names:       map[string]bool{},
		headerStyle: headerStyle,
	}
}

// AddSheet создает лист для таблицы и пишет заголовок "column (TYPE)"
func (w *Workbook) AddSheet(table schema.TableSchema) (*Sheet, error) {
	name := w.uniqueSheetName(table.OutputName())

	if w.sheets == 0 {
		// Первый лист: переименовываем Sheet1, созданный excelize.NewFile
		if err := w.f.SetSheetName("Sheet1", name); err != nil {
			return nil, fmt.Errorf("failed to rename sheet: %w", err)
		}
	} else if _, err := w.f.NewSheet(name); err != nil {
		return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	w.sheets++

	sw, err := w.f.NewStreamWriter(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream writer for %s: %w", name, err)
	}

	for col := range table.Columns {
		sw.SetColWidth(col+1, col+1, 15)
	}

	header := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = excelize.Cell{
			StyleID: w.headerStyle,
			Value:   fmt.Sprintf("%s (%s)", c.Name, c.TargetType()),
		}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("failed to write header of %s: %w", name, err)
	}

	return &Sheet{Name: name, columns: table.Columns, sw: sw, row: 1}, nil
}

// AppendRow добавляет строку значений в порядке колонок
func (s *Sheet) AppendRow(row []any) error {
	if s.row >= MaxRows {
		return fmt.Errorf("sheet %s exceeds %d rows", s.Name, MaxRows)
	}
	s.row++

	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = cellValue(v)
	}

	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	if err := s.sw.SetRow(cell, cells); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", s.row-1, s.Name, err)
	}
	return nil
}

// Rows - количество строк данных (без заголовка)
func (s *Sheet) Rows() int {
	return s.row - 1
}

// Flush завершает запись листа
func (s *Sheet) Flush() error {
	if err := s.sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet %s: %w", s.Name, err)
	}
	return nil
}

// Bytes сериализует книгу в .xlsx
func (w *Workbook) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Close освобождает временные файлы excelize
func (w *Workbook) Close() error {
	return w.f.Close()
}

// uniqueSheetName приводит имя к правилам Excel и делает его уникальным
func (w *Workbook) uniqueSheetName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, name)
	clean = strings.Trim(clean, "'")
	if clean == "" {
		clean = "Sheet"
	}
	clean = truncateRunes(clean, maxSheetName)

	candidate := clean
	for n := 2; w.names[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf("~%d", n)
		candidate = truncateRunes(clean, maxSheetName-len(suffix)) + suffix
	}
	w.names[strings.ToLower(candidate)] = true
	return candidate
}

// cellValue: NULL -> пустая ячейка, бинарные данные не переносятся,
// строки обрезаются до лимита ячейки Excel
func cellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return ""
	case string:
		if utf8.RuneCountInString(val) > MaxCellLength {
			return truncateRunes(val, MaxCellLength)
		}
		return val
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	default:
		return schema.CoerceValue(v, schema.TargetEmbedded)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
