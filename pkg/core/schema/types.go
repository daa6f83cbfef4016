package schema

import "strings"

// DataType - тип колонки в целевой встраиваемой БД (SQLite storage class)
type DataType string

// Целевые типы. MapColumnType всегда возвращает один из них.
const (
	TypeText    DataType = "TEXT"
	TypeInteger DataType = "INTEGER"
	TypeReal    DataType = "REAL"
)

// DefaultSchema - схема SQL Server, таблицы которой экспортируются без префикса
const DefaultSchema = "dbo"

// ColumnSchema описывает колонку исходной таблицы (строка INFORMATION_SCHEMA.COLUMNS)
type ColumnSchema struct {
	Name       string
	SourceType string // DATA_TYPE как его вернул SQL Server ("nvarchar", "int", ...)
	MaxLength  *int   // CHARACTER_MAXIMUM_LENGTH, -1 для (max)
	Precision  *int   // NUMERIC_PRECISION
	Scale      *int   // NUMERIC_SCALE
	Nullable   bool
}

// TargetType возвращает тип колонки в целевой БД
func (c ColumnSchema) TargetType() DataType {
	return MapColumnType(c.SourceType)
}

// TableSchema описывает базовую таблицу и ее колонки в порядке ORDINAL_POSITION
type TableSchema struct {
	Schema  string // TABLE_SCHEMA, пусто трактуется как dbo
	Name    string
	Columns []ColumnSchema
}

// OutputName - имя таблицы в артефакте.
// Для dbo это просто имя таблицы, для остальных схем "schema.table".
func (t TableSchema) OutputName() string {
	if t.Schema == "" || strings.EqualFold(t.Schema, DefaultSchema) {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnNames возвращает имена колонок в исходном порядке
func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}
