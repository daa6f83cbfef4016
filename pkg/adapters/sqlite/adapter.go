package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/joseanu/mssql-converter/pkg/adapters/base"
	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

const driverSqlite = "sqlite"

// MemoryDB - встраиваемая БД SQLite в памяти, в которую строится артефакт.
//
// Пул ограничен одним подключением и это подключение закреплено:
// каждое новое подключение к ":memory:" открывает свою отдельную пустую БД.
type MemoryDB struct {
	db   *sql.DB
	conn *sql.Conn
}

// OpenMemory создает пустую БД в памяти
func OpenMemory(ctx context.Context) (*MemoryDB, error) {
	db, err := sql.Open(driverSqlite, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	m := &MemoryDB{db: db, conn: conn}
	m.applyPragmas(ctx)
	return m, nil
}

// applyPragmas: БД живет только в памяти процесса, fsync не нужен
func (m *MemoryDB) applyPragmas(ctx context.Context) {
	pragmas := []string{
		// page_size действует только до создания первой таблицы
		"PRAGMA page_size = 4096",
		"PRAGMA journal_mode = MEMORY",
		"PRAGMA synchronous = OFF",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -64000",
	}

	for _, pragma := range pragmas {
		if _, err := m.conn.ExecContext(ctx, pragma); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("pragma", pragma).Msg("sqlite pragma failed")
		}
	}
}

// CreateTable создает таблицу по схеме исходной таблицы.
// Типы колонок берутся из schema.MapColumnType, NOT NULL переносится из источника.
func (m *MemoryDB) CreateTable(ctx context.Context, table schema.TableSchema) error {
	query := BuildCreateTable(table)
	if _, err := m.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.OutputName(), err)
	}
	return nil
}

// BuildCreateTable строит CREATE TABLE для SQLite
func BuildCreateTable(table schema.TableSchema) string {
	columns := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		def := base.SQLite.QuoteIdentifier(col.Name) + " " + string(col.TargetType())
		if !col.Nullable {
			def += " NOT NULL"
		}
		columns[i] = def
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)",
		base.SQLite.QuoteIdentifier(table.OutputName()),
		strings.Join(columns, ",\n  "))
}

// BuildInsert строит INSERT для всех колонок таблицы
func BuildInsert(table schema.TableSchema) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		base.SQLite.QuoteIdentifier(table.OutputName()),
		base.SQLite.QuoteList(table.ColumnNames()),
		base.Placeholders(len(table.Columns)))
}

// Serialize возвращает содержимое БД как образ файла SQLite.
//
// Используется sqlite3_serialize драйвера modernc. Если драйвер его не
// поддерживает, БД выгружается через VACUUM INTO во временный файл.
func (m *MemoryDB) Serialize(ctx context.Context) ([]byte, error) {
	var data []byte
	supported := false

	err := m.conn.Raw(func(driverConn any) error {
		s, ok := driverConn.(interface{ Serialize() ([]byte, error) })
		if !ok {
			return nil
		}
		supported = true

		var err error
		data, err = s.Serialize()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize database: %w", err)
	}

	if !supported {
		return m.vacuumInto(ctx)
	}
	return data, nil
}

// Close освобождает подключение и БД. Повторный вызов безопасен.
func (m *MemoryDB) Close() error {
	var connErr, dbErr error
	if m.conn != nil {
		connErr = m.conn.Close()
		m.conn = nil
	}
	if m.db != nil {
		dbErr = m.db.Close()
		m.db = nil
	}
	return errors.Join(connErr, dbErr)
}

// Conn возвращает закрепленное подключение (для запросов в тестах и отладки)
func (m *MemoryDB) Conn() *sql.Conn {
	return m.conn
}
