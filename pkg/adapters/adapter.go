package adapters

import (
	"context"
	"time"

	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

// Config - конфигурация подключения к экземпляру SQL Server.
// База данных не указывается: сессия подключается к master,
// а восстановленная БД выбирается через USE.
type Config struct {
	// Host - хост SQL Server (по умолчанию "mssql", имя сервиса в compose)
	Host string

	// Port - порт SQL Server
	Port int

	// User / Password - SQL аутентификация (обычно sa)
	User     string
	Password string

	// Timeout - таймаут установки TCP соединения и логина
	Timeout time.Duration

	// MaxConns - максимальное количество подключений в пуле
	MaxConns int

	// IdleTimeout - сколько idle подключение живет в пуле
	IdleTimeout time.Duration

	// AppName - имя приложения в sys.dm_exec_sessions
	AppName string

	// SSL - настройки TLS
	SSL SSLConfig
}

// SSLConfig - настройки TLS подключения к SQL Server
type SSLConfig struct {
	// Encrypt - шифровать соединение
	Encrypt bool

	// TrustServerCertificate - не проверять сертификат сервера
	// (самоподписанный сертификат контейнера mssql)
	TrustServerCertificate bool
}

// DefaultConfig возвращает конфигурацию пула по умолчанию:
// до 10 подключений, idle подключения закрываются через 30 секунд.
func DefaultConfig() Config {
	return Config{
		Host:        "mssql",
		Port:        1433,
		User:        "sa",
		Timeout:     30 * time.Second,
		MaxConns:    10,
		IdleTimeout: 30 * time.Second,
		AppName:     "mssql-converter",
		SSL: SSLConfig{
			Encrypt:                true,
			TrustServerCertificate: true,
		},
	}
}

// ========== Чтение восстановленной БД ==========

// SchemaReader перечисляет базовые таблицы и их колонки
type SchemaReader interface {
	// Tables возвращает базовые таблицы текущей БД с колонками в порядке ORDINAL_POSITION
	Tables(ctx context.Context) ([]schema.TableSchema, error)
}

// RowFunc получает очередную строку таблицы.
// Срез переиспользуется между вызовами, значения нужно скопировать если они сохраняются.
type RowFunc func(row []any) error

// RowReader построчно читает таблицу
type RowReader interface {
	// ScanRows вызывает fn для каждой строки таблицы в порядке колонок table.Columns.
	// Ошибка fn прерывает чтение и возвращается как есть.
	ScanRows(ctx context.Context, table schema.TableSchema, fn RowFunc) error
}

// Source - восстановленная БД, из которой строится артефакт
type Source interface {
	SchemaReader
	RowReader
}
