// Package base содержит общие для SQL Server и SQLite хелперы:
// экранирование идентификаторов и проверку генерируемых имен БД.
package base

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect - правила экранирования идентификаторов конкретной СУБД
type Dialect struct {
	Name  string
	open  string
	close string
}

var (
	// MSSQL: [name], ] внутри удваивается
	MSSQL = Dialect{Name: "mssql", open: "[", close: "]"}
	// SQLite: "name", " внутри удваивается
	SQLite = Dialect{Name: "sqlite", open: `"`, close: `"`}
)

// QuoteIdentifier квотирует одиночный идентификатор (имя таблицы, колонки, схемы).
// Закрывающий символ внутри имени удваивается, поэтому результат безопасен
// для подстановки в текст запроса при любом содержимом имени.
func (d Dialect) QuoteIdentifier(identifier string) string {
	return d.open + strings.ReplaceAll(identifier, d.close, d.close+d.close) + d.close
}

// QuoteQualified квотирует имя вида schema.table.
// Пустая схема дает только имя таблицы.
func (d Dialect) QuoteQualified(schemaName, table string) string {
	if schemaName == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schemaName) + "." + d.QuoteIdentifier(table)
}

// QuoteList квотирует список идентификаторов и соединяет через ", "
func (d Dialect) QuoteList(identifiers []string) string {
	quoted := make([]string, len(identifiers))
	for i, id := range identifiers {
		quoted[i] = d.QuoteIdentifier(id)
	}
	return strings.Join(quoted, ", ")
}

// Placeholders возвращает "?, ?, ?" для n параметров
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ========== Имена временных БД ==========

// DatabaseNamePrefix - префикс всех генерируемых имен временных БД
const DatabaseNamePrefix = "DB_"

var databaseNamePattern = regexp.MustCompile(`^DB_[A-Za-z0-9_]{1,100}$`)

// ValidateDatabaseName проверяет имя временной БД по allow-list.
// Имя попадает в DDL (RESTORE/ALTER/DROP DATABASE), где параметры недоступны,
// поэтому допускаются только сгенерированные имена DB_<token>.
func ValidateDatabaseName(name string) error {
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("invalid database name %q: must match %s", name, databaseNamePattern.String())
	}
	return nil
}

// DatabaseName строит имя временной БД из токена загрузки
func DatabaseName(token string) string {
	return DatabaseNamePrefix + token
}
