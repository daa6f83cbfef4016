package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/adapters/base"
)

// DatabaseExists проверяет наличие БД через DB_ID
func (s *Session) DatabaseExists(ctx context.Context, dbName string) (bool, error) {
	var id sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, "SELECT DB_ID(?)", dbName).Scan(&id); err != nil {
		return false, fmt.Errorf("failed to check database %s: %w", dbName, err)
	}
	return id.Valid, nil
}

// DropDatabase удаляет временную БД.
//
// Сессия сначала переключается на master (она сама может держать БД после USE).
// Отсутствующая БД не ошибка: восстановление могло упасть до ее создания.
// При ForceOfflineBeforeDrop чужие сессии разрываются через
// SET OFFLINE WITH ROLLBACK IMMEDIATE, затем SET ONLINE, затем DROP.
func (s *Session) DropDatabase(ctx context.Context, dbName string) error {
	if err := base.ValidateDatabaseName(dbName); err != nil {
		return err
	}

	logger := zerolog.Ctx(ctx).With().Str("db", dbName).Logger()

	if _, err := s.conn.ExecContext(ctx, "USE master"); err != nil {
		return fmt.Errorf("failed to switch to master: %w", err)
	}

	exists, err := s.DatabaseExists(ctx, dbName)
	if err != nil {
		return err
	}
	if !exists {
		logger.Debug().Msg("database does not exist, nothing to drop")
		return nil
	}

	quoted := base.MSSQL.QuoteIdentifier(dbName)

	var statements []string
	if s.cfg.ForceOfflineBeforeDrop {
		statements = append(statements,
			"ALTER DATABASE "+quoted+" SET OFFLINE WITH ROLLBACK IMMEDIATE",
			"ALTER DATABASE "+quoted+" SET ONLINE",
		)
	}
	statements = append(statements, "DROP DATABASE "+quoted)

	for _, stmt := range statements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}

	logger.Info().Msg("database dropped")
	return nil
}
