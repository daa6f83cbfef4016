// Package infra handles configuration loading and infrastructure wiring.
package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/adapters/mssql"
	"github.com/joseanu/mssql-converter/pkg/archive"
	"github.com/joseanu/mssql-converter/pkg/brokers"
	"github.com/joseanu/mssql-converter/pkg/resilience"
	"github.com/joseanu/mssql-converter/pkg/resultlog"
	"github.com/joseanu/mssql-converter/pkg/upload"
)

// Config is the top-level configuration structure for mssql-converter.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	MSSQL     MSSQLConfig     `yaml:"mssql"`
	Restore   RestoreConfig   `yaml:"restore"`
	Upload    UploadConfig    `yaml:"upload"`
	Export    ExportConfig    `yaml:"export"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audit     AuditConfig     `yaml:"audit"`
	ResultLog ResultLogConfig `yaml:"resultlog"`
	Events    EventsConfig    `yaml:"events"`
	Archive   archive.Config  `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Connect   ConnectConfig   `yaml:"connect"`

	// Breaker configures one circuit breaker per delivery target (redis, broker, s3).
	Breaker resilience.Config `yaml:"breaker"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // default ":8080"; override via CONVERTER_ADDR
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default 2m (upload of 40 MB over slow links)
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default 10m, restore + export
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default 15s
	Banner          string        `yaml:"banner"`           // GET /
}

// MSSQLConfig holds the SQL Server connection and readiness wait.
type MSSQLConfig struct {
	Host                   string        `yaml:"host"`     // MSSQL_HOST
	Port                   int           `yaml:"port"`     // MSSQL_PORT
	User                   string        `yaml:"user"`     // MSSQL_USER
	Password               string        `yaml:"password"` // MSSQL_SA_PASSWORD
	Encrypt                bool          `yaml:"encrypt"`
	TrustServerCertificate bool          `yaml:"trust_server_certificate"`
	MaxConns               int           `yaml:"max_conns"`
	IdleTimeout            time.Duration `yaml:"idle_timeout"`
	DialTimeout            time.Duration `yaml:"dial_timeout"`

	// WaitDeadline is the total wait budget, WaitInterval the pause between attempts.
	WaitDeadline time.Duration `yaml:"wait_deadline"`
	WaitInterval time.Duration `yaml:"wait_interval"`
}

// RestoreConfig controls where SQL Server places restored database files.
type RestoreConfig struct {
	DataDir                string `yaml:"data_dir"`
	ServerUploadDir        string `yaml:"server_upload_dir"`
	ForceOfflineBeforeDrop bool   `yaml:"force_offline_before_drop"`

	// CleanupTimeout bounds DROP, close and file removal (0 = unbounded).
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`
}

// UploadConfig controls .bak acceptance.
type UploadConfig struct {
	Dir       string `yaml:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// ExportConfig lists enabled formats and compression.
type ExportConfig struct {
	// Formats are the enabled endpoints (sqlite, json, xlsx).
	Formats []string `yaml:"formats"`

	// ZstdLevel is the ?compress=zstd level (1-4, 0 = default).
	ZstdLevel int `yaml:"zstd_level"`
}

// CORSConfig allows an origin whose host ends with one of the suffixes.
// Requests without Origin (curl) pass.
type CORSConfig struct {
	AllowedOriginSuffixes []string `yaml:"allowed_origin_suffixes"`
}

// LoggingConfig sets the zerolog level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console | json
}

// AuditConfig controls the pipeline step audit trail.
type AuditConfig struct {
	File       string `yaml:"file"`     // JSON lines; empty = disabled
	Database   string `yaml:"database"` // SQLite file; empty = disabled
	MaxSizeMB  int64  `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Async      bool   `yaml:"async"`
	BufferSize int    `yaml:"buffer_size"`
}

// ResultLogConfig stores conversion outcomes in Redis.
type ResultLogConfig struct {
	Enabled          bool `yaml:"enabled"`
	resultlog.Config `yaml:",inline"`
}

// EventsConfig publishes conversion.finished to RabbitMQ or Kafka.
type EventsConfig struct {
	Enabled        bool `yaml:"enabled"`
	brokers.Config `yaml:",inline"`
}

// MetricsConfig - /metrics
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ConnectConfig controls startup connect retries for Redis and the broker (exponential backoff).
type ConnectConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = 2 * time.Minute
	cfg.Server.WriteTimeout = 10 * time.Minute
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Server.Banner = "RΞD Consultores"

	conn := adapters.DefaultConfig()
	wait := mssql.DefaultWaitConfig()
	cfg.MSSQL = MSSQLConfig{
		Host:                   conn.Host,
		Port:                   conn.Port,
		User:                   conn.User,
		Encrypt:                conn.SSL.Encrypt,
		TrustServerCertificate: conn.SSL.TrustServerCertificate,
		MaxConns:               conn.MaxConns,
		IdleTimeout:            conn.IdleTimeout,
		DialTimeout:            conn.Timeout,
		WaitDeadline:           wait.Deadline,
		WaitInterval:           wait.Interval,
	}

	restore := mssql.DefaultRestoreConfig()
	cfg.Restore.DataDir = restore.DataDir
	cfg.Restore.ForceOfflineBeforeDrop = restore.ForceOfflineBeforeDrop
	cfg.Restore.CleanupTimeout = 2 * time.Minute

	cfg.Upload.Dir = "./uploads"
	cfg.Upload.MaxSizeMB = int(upload.DefaultMaxSize >> 20)

	cfg.Export.Formats = []string{"sqlite", "json", "xlsx"}

	cfg.CORS.AllowedOriginSuffixes = []string{"replit.dev", "presupuestos.red"}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 5
	cfg.Audit.BufferSize = 1000

	cfg.ResultLog.Address = "localhost:6379"
	cfg.ResultLog.Prefix = "mssql-converter"
	cfg.ResultLog.TTL = 86400

	cfg.Events.Type = "rabbitmq"
	cfg.Events.Queue = "conversions"
	cfg.Events.Durable = true

	cfg.Archive.Prefix = "converted"

	cfg.Metrics.Enabled = true

	cfg.Connect = ConnectConfig{Attempts: 5, InitialDelay: time.Second, MaxDelay: 10 * time.Second}

	cfg.Breaker = resilience.DefaultConfig()

	return cfg
}

// LoadConfig reads the YAML config at path over the defaults, then applies
// environment overrides and validates. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults + env only, as in the docker-compose deployment
		case err != nil:
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets environment variables override the file.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("MSSQL_SA_PASSWORD"); ok {
		c.MSSQL.Password = v
	}
	if v, ok := lookup("MSSQL_HOST"); ok && v != "" {
		c.MSSQL.Host = v
	}
	if v, ok := lookup("MSSQL_USER"); ok && v != "" {
		c.MSSQL.User = v
	}
	if v, ok := lookup("MSSQL_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MSSQL_PORT %q is not a number", v)
		}
		c.MSSQL.Port = port
	}
	if v, ok := lookup("CONVERTER_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	return nil
}

// Validate checks the values LoadConfig cannot default.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.MSSQL.Host == "" {
		problems = append(problems, "mssql.host is required")
	}
	if c.MSSQL.Port <= 0 || c.MSSQL.Port > 65535 {
		problems = append(problems, fmt.Sprintf("mssql.port %d is out of range", c.MSSQL.Port))
	}
	if c.MSSQL.Password == "" {
		problems = append(problems, "mssql.password is required (or set MSSQL_SA_PASSWORD)")
	}
	if c.MSSQL.WaitInterval <= 0 {
		problems = append(problems, "mssql.wait_interval must be positive")
	}
	if c.Restore.DataDir == "" {
		problems = append(problems, "restore.data_dir is required")
	}
	if c.Upload.Dir == "" {
		problems = append(problems, "upload.dir is required")
	}
	if c.Upload.MaxSizeMB <= 0 {
		problems = append(problems, "upload.max_size_mb must be positive")
	}
	if len(c.Export.Formats) == 0 {
		problems = append(problems, "export.formats must list at least one format")
	}
	for _, f := range c.Export.Formats {
		switch f {
		case "sqlite", "json", "xlsx":
		default:
			problems = append(problems, fmt.Sprintf("export.formats: unknown format %q", f))
		}
	}
	if c.Export.ZstdLevel < 0 || c.Export.ZstdLevel > 4 {
		problems = append(problems, "export.zstd_level must be between 0 and 4")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be console or json", c.Logging.Format))
	}
	if c.Events.Enabled {
		switch c.Events.Type {
		case "rabbitmq", "kafka":
		default:
			problems = append(problems, fmt.Sprintf("events.type %q must be rabbitmq or kafka", c.Events.Type))
		}
	}
	if err := c.Archive.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Connect.Attempts < 1 {
		problems = append(problems, "connect.attempts must be at least 1")
	}
	if c.Connect.InitialDelay < 0 || c.Connect.MaxDelay < 0 {
		problems = append(problems, "connect delays must not be negative")
	}
	if err := c.Breaker.Validate(); err != nil {
		problems = append(problems, "breaker: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ConnectionConfig returns the pool settings for the mssql adapter.
func (c *Config) ConnectionConfig() adapters.Config {
	conn := adapters.DefaultConfig()
	conn.Host = c.MSSQL.Host
	conn.Port = c.MSSQL.Port
	conn.User = c.MSSQL.User
	conn.Password = c.MSSQL.Password
	conn.MaxConns = c.MSSQL.MaxConns
	conn.IdleTimeout = c.MSSQL.IdleTimeout
	conn.Timeout = c.MSSQL.DialTimeout
	conn.SSL.Encrypt = c.MSSQL.Encrypt
	conn.SSL.TrustServerCertificate = c.MSSQL.TrustServerCertificate
	return conn
}

// WaitConfig returns the server readiness wait settings.
func (c *Config) WaitConfig() mssql.WaitConfig {
	wait := mssql.DefaultWaitConfig()
	wait.Deadline = c.MSSQL.WaitDeadline
	wait.Interval = c.MSSQL.WaitInterval
	return wait
}

// RestoreOptions returns the restore settings for a session.
func (c *Config) RestoreOptions() mssql.RestoreConfig {
	return mssql.RestoreConfig{
		DataDir:                c.Restore.DataDir,
		ServerBackupDir:        c.Restore.ServerUploadDir,
		ForceOfflineBeforeDrop: c.Restore.ForceOfflineBeforeDrop,
	}
}

// UploadMaxSize returns the upload limit in bytes.
func (c *Config) UploadMaxSize() int64 {
	return int64(c.Upload.MaxSizeMB) << 20
}
