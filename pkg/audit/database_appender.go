package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joseanu/mssql-converter/pkg/adapters/base"
)

// DatabaseAppender - запись аудита в SQL таблицу (SQLite файл сервиса)
type DatabaseAppender struct {
	db        *sql.DB
	table     string
	ownsDB    bool
	mu        sync.Mutex
	insertSQL string
}

// DatabaseAppenderConfig - конфигурация database appender
type DatabaseAppenderConfig struct {
	// DB - открытое подключение; если nil, открывается SQLite файл Path
	DB   *sql.DB
	Path string

	// TableName - имя таблицы (по умолчанию conversion_audit)
	TableName string
}

// NewDatabaseAppender создает таблицу аудита, если ее нет
func NewDatabaseAppender(ctx context.Context, cfg DatabaseAppenderConfig) (*DatabaseAppender, error) {
	if cfg.TableName == "" {
		cfg.TableName = "conversion_audit"
	}

	da := &DatabaseAppender{db: cfg.DB, table: base.SQLite.QuoteIdentifier(cfg.TableName)}

	if da.db == nil {
		if cfg.Path == "" {
			return nil, fmt.Errorf("audit database: either DB or Path is required")
		}
		db, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		db.SetMaxOpenConns(1)
		da.db = db
		da.ownsDB = true
	}

	if err := da.createTable(ctx); err != nil {
		da.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	da.insertSQL = fmt.Sprintf(`INSERT INTO %s (
		id, ts, step, status, request_id, database_name, resource,
		rows_count, duration_ms, error_kind, error_message, metadata
	) VALUES (%s)`, da.table, base.Placeholders(12))

	return da, nil
}

func (da *DatabaseAppender) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		request_id TEXT,
		database_name TEXT,
		resource TEXT,
		rows_count INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		error_kind TEXT,
		error_message TEXT,
		metadata TEXT
	)`, da.table)

	if _, err := da.db.ExecContext(ctx, query); err != nil {
		return err
	}

	index := base.SQLite.QuoteIdentifier("idx_" + strings.Trim(da.table, `"`) + "_db")
	_, err := da.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(database_name)", index, da.table))
	return err
}

// Append - вставить entry
func (da *DatabaseAppender) Append(ctx context.Context, entry *Entry) error {
	var metadata any
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	da.mu.Lock()
	defer da.mu.Unlock()

	_, err := da.db.ExecContext(ctx, da.insertSQL,
		entry.ID,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		string(entry.Step),
		string(entry.Status),
		entry.RequestID,
		entry.Database,
		entry.Resource,
		entry.Rows,
		entry.Duration.Milliseconds(),
		entry.ErrorKind,
		entry.ErrorMessage,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// QueryFilter - фильтр для Query
type QueryFilter struct {
	Step     Step
	Status   Status
	Database string
	Since    time.Time
	Limit    int
}

// Query возвращает записи, новые первыми
func (da *DatabaseAppender) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	query := fmt.Sprintf(`SELECT id, ts, step, status, request_id, database_name, resource,
		rows_count, duration_ms, error_kind, error_message, metadata FROM %s WHERE 1=1`, da.table)
	args := make([]any, 0, 5)

	if filter.Step != "" {
		query += " AND step = ?"
		args = append(args, string(filter.Step))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Database != "" {
		query += " AND database_name = ?"
		args = append(args, filter.Database)
	}
	if !filter.Since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}

	query += " ORDER BY ts DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := da.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e                                 Entry
			ts, step, status                  string
			requestID, dbName, resource       sql.NullString
			errorKind, errorMessage, metadata sql.NullString
			durationMs                        int64
		)
		err := rows.Scan(&e.ID, &ts, &step, &status, &requestID, &dbName, &resource,
			&e.Rows, &durationMs, &errorKind, &errorMessage, &metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}

		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Step = Step(step)
		e.Status = Status(status)
		e.RequestID = requestID.String
		e.Database = dbName.String
		e.Resource = resource.String
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.ErrorKind = errorKind.String
		e.ErrorMessage = errorMessage.String
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}

		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan удаляет старые записи
func (da *DatabaseAppender) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	da.mu.Lock()
	defer da.mu.Unlock()

	result, err := da.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE ts < ?", da.table),
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old entries: %w", err)
	}
	return result.RowsAffected()
}

// Close закрывает БД, если appender ее открыл
func (da *DatabaseAppender) Close() error {
	if da.ownsDB && da.db != nil {
		err := da.db.Close()
		da.db = nil
		return err
	}
	return nil
}
