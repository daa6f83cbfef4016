package infra

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseanu/mssql-converter/pkg/audit"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "converter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MSSQL_SA_PASSWORD", "Str0ng!Pass")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "mssql", cfg.MSSQL.Host)
	assert.Equal(t, 1433, cfg.MSSQL.Port)
	assert.Equal(t, "sa", cfg.MSSQL.User)
	assert.Equal(t, "Str0ng!Pass", cfg.MSSQL.Password)
	assert.Equal(t, 60*time.Second, cfg.MSSQL.WaitDeadline)
	assert.Equal(t, 2*time.Second, cfg.MSSQL.WaitInterval)
	assert.True(t, cfg.Restore.ForceOfflineBeforeDrop)
	assert.Equal(t, int64(40<<20), cfg.UploadMaxSize())
	assert.Equal(t, []string{"replit.dev", "presupuestos.red"}, cfg.CORS.AllowedOriginSuffixes)
	assert.Equal(t, []string{"sqlite", "json", "xlsx"}, cfg.Export.Formats)
	assert.True(t, cfg.Breaker.Enabled)
	assert.Equal(t, uint32(5), cfg.Breaker.MaxFailures)
	assert.Equal(t, 5, cfg.Connect.Attempts)
	assert.Equal(t, time.Second, cfg.Connect.InitialDelay)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  banner: "converter"
mssql:
  host: db.internal
  password: from-file
  wait_deadline: 10s
  wait_interval: 500ms
restore:
  data_dir: 'D:\MSSQL\Data'
  server_upload_dir: /mnt/uploads
  force_offline_before_drop: false
upload:
  max_size_mb: 10
export:
  formats: [json]
  zstd_level: 4
resultlog:
  enabled: true
  address: redis:6379
  prefix: conv
  ttl: 600
events:
  enabled: true
  type: kafka
  brokers: ["kafka:9092"]
  topic: conversions
archive:
  enabled: true
  bucket: artifacts
`)
	t.Setenv("MSSQL_SA_PASSWORD", "from-env")
	t.Setenv("MSSQL_PORT", "14330")
	t.Setenv("CONVERTER_ADDR", ":7000")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr, "env overrides file")
	assert.Equal(t, "converter", cfg.Server.Banner)
	assert.Equal(t, "db.internal", cfg.MSSQL.Host)
	assert.Equal(t, 14330, cfg.MSSQL.Port)
	assert.Equal(t, "from-env", cfg.MSSQL.Password)
	assert.False(t, cfg.Restore.ForceOfflineBeforeDrop)
	assert.Equal(t, int64(10<<20), cfg.UploadMaxSize())

	assert.True(t, cfg.ResultLog.Enabled)
	assert.Equal(t, "redis:6379", cfg.ResultLog.Address)
	assert.Equal(t, "conv", cfg.ResultLog.Prefix)
	assert.Equal(t, 600, cfg.ResultLog.TTL)

	assert.Equal(t, "kafka", cfg.Events.Type)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Events.Brokers)

	wait := cfg.WaitConfig()
	assert.Equal(t, 10*time.Second, wait.Deadline)
	assert.Equal(t, 500*time.Millisecond, wait.Interval)
	assert.NotEmpty(t, wait.RetryableErrorNumbers)

	restore := cfg.RestoreOptions()
	assert.Equal(t, `D:\MSSQL\Data`, restore.DataDir)
	assert.Equal(t, "/mnt/uploads/1700000000000.bak", restore.ServerPath("/srv/uploads/1700000000000.bak"))

	conn := cfg.ConnectionConfig()
	assert.Equal(t, "db.internal", conn.Host)
	assert.True(t, conn.SSL.TrustServerCertificate)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		password string
		want     string
	}{
		{"no password", "mssql: {host: db}", "", "mssql.password"},
		{"bad format", "export: {formats: [csv]}", "x", `unknown format "csv"`},
		{"bad port", "mssql: {port: 70000}", "x", "mssql.port"},
		{"bad events", "events: {enabled: true, type: msmq}", "x", "events.type"},
		{"archive bucket", "archive: {enabled: true}", "x", "archive bucket"},
		{"logging", "logging: {format: xml}", "x", "logging.format"},
		{"breaker", "breaker: {enabled: true, max_failures: 0}", "x", "breaker: MaxFailures"},
		{"connect attempts", "connect: {attempts: 0}", "x", "connect.attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MSSQL_SA_PASSWORD", tt.password)
			t.Setenv("MSSQL_PORT", "")

			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse")
}

func TestApplyEnv_BadPort(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(func(key string) (string, bool) {
		if key == "MSSQL_PORT" {
			return "abc", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestSetupLogging_JSON(t *testing.T) {
	prev, prevLevel, prevCtx := log.Logger, zerolog.GlobalLevel(), zerolog.DefaultContextLogger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
		zerolog.DefaultContextLogger = prevCtx
	})

	var buf bytes.Buffer
	require.NoError(t, SetupLogging(LoggingConfig{Level: "warn", Format: "json"}, &buf))

	log.Info().Msg("hidden")
	zerolog.Ctx(context.Background()).Warn().Str("db", "DB_1").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"db":"DB_1"`)
	assert.Contains(t, out, `"level":"warn"`)

	assert.Error(t, SetupLogging(LoggingConfig{Level: "loud"}, &buf))
}

func TestSetup_DevMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MSSQL.Password = "x"
	cfg.Upload.Dir = t.TempDir()
	cfg.Audit.File = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.Audit.Database = filepath.Join(t.TempDir(), "audit.db")
	cfg.Audit.MaxSizeMB = 1

	inf, err := Setup(context.Background(), cfg, true)
	require.NoError(t, err)
	defer inf.Close()

	// file appender is wired with the configured size
	require.NoError(t, inf.Audit.Record(context.Background(), audit.NewEntry(audit.StepUpload, audit.StatusSuccess)))
	require.NoError(t, inf.Audit.Flush())
	data, err := os.ReadFile(cfg.Audit.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step":"upload"`)

	assert.NotNil(t, inf.Pipeline)
	assert.NotNil(t, inf.Uploads)
	assert.Nil(t, inf.Archive)
	assert.Equal(t, 1, inf.Outcomes.Len(), "dev mode publishes to miniredis")
	assert.Equal(t, cfg.Upload.Dir, inf.Uploads.Dir())
}

func TestSetup_ReadyReusesHealthPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MSSQL.Password = "x"
	cfg.MSSQL.Host = "127.0.0.1"
	cfg.MSSQL.Port = 1
	cfg.MSSQL.DialTimeout = time.Second
	cfg.Upload.Dir = t.TempDir()

	inf, err := Setup(context.Background(), cfg, true)
	require.NoError(t, err)
	defer inf.Close()

	// server unreachable: both calls fail and the pool stays open
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NotNil(t, inf.Ready)
	assert.Error(t, inf.Ready(ctx))
	assert.Error(t, inf.Ready(ctx))
}
