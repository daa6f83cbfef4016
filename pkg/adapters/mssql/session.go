package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// RestoreConfig - параметры восстановления и удаления временных БД
type RestoreConfig struct {
	// DataDir - каталог на стороне SQL Server, куда переносятся файлы БД (MOVE ... TO)
	DataDir string

	// ServerBackupDir - каталог загрузок, как его видит SQL Server (общий volume).
	// Пусто = локальный путь к .bak используется как есть.
	ServerBackupDir string

	// ForceOfflineBeforeDrop - перед DROP выполнить SET OFFLINE WITH ROLLBACK IMMEDIATE / SET ONLINE,
	// чтобы разорвать оставшиеся сессии
	ForceOfflineBeforeDrop bool
}

// DefaultRestoreConfig - каталог данных стандартного образа mssql/server
func DefaultRestoreConfig() RestoreConfig {
	return RestoreConfig{
		DataDir:                "/var/opt/mssql/data",
		ForceOfflineBeforeDrop: true,
	}
}

// ServerPath переводит локальный путь загруженного файла в путь на стороне SQL Server
func (c RestoreConfig) ServerPath(localPath string) string {
	if c.ServerBackupDir == "" {
		return localPath
	}
	return joinServerPath(c.ServerBackupDir, filepath.Base(localPath))
}

// joinServerPath соединяет путь в нотации сервера: "\" для Windows, "/" для Linux
func joinServerPath(dir, name string) string {
	if strings.Contains(dir, `\`) {
		return strings.TrimRight(dir, `\`) + `\` + name
	}
	return path.Join(dir, name)
}

// Session - выделенное подключение к SQL Server на время одного запроса.
//
// Пул и закрепленное подключение принадлежат Session. USE после восстановления
// действует только на закрепленное подключение, поэтому все запросы идут через него.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
	cfg  RestoreConfig
}

// NewSession закрепляет одно подключение из пула.
// При успехе Session владеет пулом db и закроет его в Close.
func NewSession(ctx context.Context, db *sql.DB, cfg RestoreConfig) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Session{db: db, conn: conn, cfg: cfg}, nil
}

// Close освобождает подключение и закрывает пул. Обе ошибки возвращаются вместе.
func (s *Session) Close() error {
	var connErr, dbErr error
	if s.conn != nil {
		connErr = s.conn.Close()
		if errors.Is(connErr, sql.ErrConnDone) {
			connErr = nil
		}
		s.conn = nil
	}
	if s.db != nil {
		dbErr = s.db.Close()
		s.db = nil
	}
	return errors.Join(connErr, dbErr)
}

// ServerPath - путь к загруженному файлу, как его видит SQL Server
func (s *Session) ServerPath(localPath string) string {
	return s.cfg.ServerPath(localPath)
}
