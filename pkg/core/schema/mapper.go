package schema

import "strings"

// MapColumnType отображает DATA_TYPE SQL Server в тип целевой БД.
//
// Функция тотальная: любой вход, включая пустую строку и неизвестные типы,
// дает ровно один из TEXT/INTEGER/REAL. Неизвестные типы (binary, geography,
// sql_variant, ...) становятся TEXT, это заведомо неточное отображение.
func MapColumnType(sourceType string) DataType {
	switch normalizeSourceType(sourceType) {
	case "char", "varchar", "nchar", "nvarchar", "text", "ntext",
		"xml", "uniqueidentifier", "sysname":
		return TypeText

	case "bit", "tinyint", "smallint", "int", "bigint":
		return TypeInteger

	case "float", "real", "decimal", "numeric", "money", "smallmoney":
		return TypeReal

	case "date", "time", "datetime", "datetime2", "smalldatetime",
		"datetimeoffset", "timestamp", "rowversion":
		return TypeText

	default:
		return TypeText
	}
}

// normalizeSourceType приводит "NVARCHAR(50)" / " Decimal (18,2)" к "nvarchar" / "decimal"
func normalizeSourceType(sourceType string) string {
	t := strings.ToLower(strings.TrimSpace(sourceType))
	if idx := strings.IndexByte(t, '('); idx >= 0 {
		t = strings.TrimSpace(t[:idx])
	}
	return t
}
