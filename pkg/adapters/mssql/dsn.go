package mssql

import (
	"net"
	"net/url"
	"strconv"

	"github.com/joseanu/mssql-converter/pkg/adapters"
)

// DriverName - имя драйвера go-mssqldb с плейсхолдерами "?"
const DriverName = "mssql"

// BuildDSN собирает строку подключения sqlserver:// к базе master.
// Пароль экранируется url.UserPassword, поэтому допускает любые символы.
func BuildDSN(cfg adapters.Config) string {
	port := cfg.Port
	if port == 0 {
		port = 1433
	}

	q := url.Values{}
	q.Set("database", "master")

	switch {
	case cfg.SSL.Encrypt:
		q.Set("encrypt", "true")
	default:
		q.Set("encrypt", "disable")
	}
	q.Set("TrustServerCertificate", strconv.FormatBool(cfg.SSL.TrustServerCertificate))

	if cfg.AppName != "" {
		q.Set("app name", cfg.AppName)
	}
	if cfg.Timeout > 0 {
		secs := strconv.Itoa(int(cfg.Timeout.Seconds()))
		q.Set("dial timeout", secs)
		q.Set("connection timeout", secs)
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// RedactedDSN - DSN без пароля для логов
func RedactedDSN(cfg adapters.Config) string {
	cfg.Password = "xxxxx"
	return BuildDSN(cfg)
}
