package mssql

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseanu/mssql-converter/pkg/core/errs"
)

func TestPlanMoves_SingleDataAndLog(t *testing.T) {
	files := []BackupFile{
		{LogicalName: "Shop", Type: "D"},
		{LogicalName: "Shop_log", Type: "L"},
	}

	moves, err := planMoves("DB_1700000000000", "/var/opt/mssql/data", files)
	require.NoError(t, err)

	assert.Equal(t, []fileMove{
		{LogicalName: "Shop", Target: "/var/opt/mssql/data/DB_1700000000000.mdf"},
		{LogicalName: "Shop_log", Target: "/var/opt/mssql/data/DB_1700000000000_log.ldf"},
	}, moves)
}

func TestPlanMoves_MultipleFiles(t *testing.T) {
	files := []BackupFile{
		{LogicalName: "Main", Type: "D"},
		{LogicalName: "Archive", Type: "D"},
		{LogicalName: "Main_log", Type: "L"},
		{LogicalName: "Main_log2", Type: "L"},
		{LogicalName: "Docs", Type: "S"},
	}

	moves, err := planMoves("DB_1", `C:\MSSQL\DATA\`, files)
	require.NoError(t, err)
	require.Len(t, moves, 5)

	targets := make([]string, len(moves))
	for i, m := range moves {
		targets[i] = m.Target
	}
	assert.Equal(t, []string{
		`C:\MSSQL\DATA\DB_1.mdf`,
		`C:\MSSQL\DATA\DB_1_2.ndf`,
		`C:\MSSQL\DATA\DB_1_log.ldf`,
		`C:\MSSQL\DATA\DB_1_log2.ldf`,
		`C:\MSSQL\DATA\DB_1_s1`,
	}, targets)
}

func TestPlanMoves_Malformed(t *testing.T) {
	cases := map[string][]BackupFile{
		"empty":    nil,
		"no log":   {{LogicalName: "a", Type: "D"}},
		"no data":  {{LogicalName: "a_log", Type: "L"}},
		"only fts": {{LogicalName: "ft", Type: "F"}},
	}

	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := planMoves("DB_1", "/data", files)
			require.Error(t, err)
			assert.Equal(t, errs.MalformedBackupFile, errs.KindOf(err))
		})
	}
}

func TestBuildRestoreStatement(t *testing.T) {
	moves := []fileMove{
		{LogicalName: "Shop", Target: "/data/DB_1.mdf"},
		{LogicalName: "Shop'; DROP DATABASE master;--", Target: "/data/DB_1_log.ldf"},
	}

	query, args := buildRestoreStatement("DB_1", "/uploads/1.bak", moves)

	assert.Equal(t, "RESTORE DATABASE [DB_1] FROM DISK = ? WITH FILE = 1, REPLACE, MOVE ? TO ?, MOVE ? TO ?", query)
	assert.Equal(t, []any{
		"/uploads/1.bak",
		"Shop", "/data/DB_1.mdf",
		"Shop'; DROP DATABASE master;--", "/data/DB_1_log.ldf",
	}, args)
	assert.False(t, strings.Contains(query, "Shop"), "logical names must be bound, not inlined")
}

func TestRestoreConfig_ServerPath(t *testing.T) {
	cfg := DefaultRestoreConfig()
	assert.Equal(t, "/app/uploads/1.bak", cfg.ServerPath("/app/uploads/1.bak"))

	cfg.ServerBackupDir = "/var/opt/mssql/backups"
	assert.Equal(t, "/var/opt/mssql/backups/1.bak", cfg.ServerPath("/app/uploads/1.bak"))

	cfg.ServerBackupDir = `D:\Backups`
	assert.Equal(t, `D:\Backups\1.bak`, cfg.ServerPath("uploads/1.bak"))
}

func TestNormalizeValue(t *testing.T) {
	guidRaw := []byte{0xFF, 0x19, 0x96, 0x6F, 0x86, 0x8B, 0x11, 0xD0, 0xB4, 0x2D, 0x00, 0xC0, 0x4F, 0xC9, 0x64, 0xFF}
	ts := time.Date(2024, 3, 15, 13, 45, 30, 500_000_000, time.UTC)

	tests := []struct {
		name       string
		sourceType string
		in         any
		want       any
	}{
		{"null", "int", nil, nil},
		{"int passthrough", "int", int64(7), int64(7)},
		{"decimal", "decimal", []byte("12.34"), 12.34},
		{"money", "MONEY", []byte("-0.5000"), -0.5},
		{"numeric unparsable kept as text", "numeric", []byte("abc"), "abc"},
		{"uniqueidentifier", "uniqueidentifier", guidRaw, "6F9619FF-8B86-D011-B42D-00C04FC964FF"},
		{"rowversion", "timestamp", []byte{0, 0, 0, 0, 0, 0, 0x07, 0xD1}, "7D1"},
		{"date", "date", ts, "2024-03-15"},
		{"time", "time", time.Date(1, 1, 1, 8, 5, 0, 0, time.UTC), "08:05:00"},
		{"datetime2", "datetime2", ts, "2024-03-15T13:45:30.5Z"},
		{"string", "nvarchar", "hola", "hola"},
		{"binary untouched", "varbinary", []byte{1, 2}, []byte{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeValue(tt.sourceType, tt.in)
			if f, ok := tt.want.(float64); ok {
				require.IsType(t, float64(0), got)
				assert.LessOrEqual(t, math.Abs(got.(float64)-f), 1e-9)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
