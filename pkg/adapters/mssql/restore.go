package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/adapters/base"
	"github.com/joseanu/mssql-converter/pkg/core/errs"
)

// BackupFile - строка результата RESTORE FILELISTONLY
type BackupFile struct {
	LogicalName  string
	PhysicalName string
	Type         string // D = data, L = log, F = full-text catalog, S = filestream
}

// fileMove - одна клауза MOVE 'logical' TO 'physical'
type fileMove struct {
	LogicalName string
	Target      string
}

// Restore восстанавливает бэкап backupPath (путь на стороне сервера) в БД dbName
// и переключает сессию на нее.
//
// Шаги: RESTORE FILELISTONLY -> RESTORE DATABASE ... WITH MOVE -> USE.
// Нет data или log файла в бэкапе -> errs.MalformedBackupFile, любая другая ошибка -> errs.RestoreFailed.
func (s *Session) Restore(ctx context.Context, backupPath, dbName string) error {
	if err := base.ValidateDatabaseName(dbName); err != nil {
		return errs.E(errs.RestoreFailed, "restore", err)
	}

	logger := zerolog.Ctx(ctx).With().Str("db", dbName).Logger()

	files, err := s.FileList(ctx, backupPath)
	if err != nil {
		return errs.E(errs.RestoreFailed, "filelist", err)
	}

	moves, err := planMoves(dbName, s.cfg.DataDir, files)
	if err != nil {
		return err
	}

	query, args := buildRestoreStatement(dbName, backupPath, moves)
	logger.Debug().Int("files", len(moves)).Str("backup", backupPath).Msg("restoring database")

	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return errs.E(errs.RestoreFailed, "restore", fmt.Errorf("failed to restore database %s: %w", dbName, err))
	}

	// Без параметров: иначе USE выполнится внутри sp_executesql и не переживет батч
	if _, err := s.conn.ExecContext(ctx, "USE "+base.MSSQL.QuoteIdentifier(dbName)); err != nil {
		return errs.E(errs.RestoreFailed, "use", fmt.Errorf("failed to switch to database %s: %w", dbName, err))
	}

	logger.Info().Msg("database restored")
	return nil
}

// FileList читает список файлов бэкапа.
// Набор колонок FILELISTONLY зависит от версии сервера, поэтому колонки ищутся по имени.
func (s *Session) FileList(ctx context.Context, backupPath string) ([]BackupFile, error) {
	rows, err := s.conn.QueryContext(ctx, "RESTORE FILELISTONLY FROM DISK = ?", backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file list: %w", err)
	}
	defer rows.Close()

	return scanFileList(rows)
}

func scanFileList(rows *sql.Rows) ([]BackupFile, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get file list columns: %w", err)
	}

	idx := map[string]int{}
	for i, c := range columns {
		idx[strings.ToLower(c)] = i
	}
	logicalIdx, okLogical := idx["logicalname"]
	typeIdx, okType := idx["type"]
	physicalIdx, okPhysical := idx["physicalname"]
	if !okLogical || !okType {
		return nil, fmt.Errorf("unexpected FILELISTONLY result: columns %v", columns)
	}

	var files []BackupFile
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan file list row: %w", err)
		}

		f := BackupFile{
			LogicalName: asString(values[logicalIdx]),
			Type:        strings.ToUpper(strings.TrimSpace(asString(values[typeIdx]))),
		}
		if okPhysical {
			f.PhysicalName = asString(values[physicalIdx])
		}
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file list: %w", err)
	}
	return files, nil
}

// planMoves строит MOVE для каждого файла бэкапа:
// первый data -> <db>.mdf, остальные data -> <db>_<n>.ndf,
// первый log -> <db>_log.ldf, остальные log -> <db>_log<n>.ldf,
// прочие типы -> <db>_<type><n>.
func planMoves(dbName, dataDir string, files []BackupFile) ([]fileMove, error) {
	var hasData, hasLog bool
	for _, f := range files {
		switch f.Type {
		case "D":
			hasData = true
		case "L":
			hasLog = true
		}
	}
	if !hasData || !hasLog {
		return nil, errs.Errorf(errs.MalformedBackupFile, "filelist",
			"backup must contain a data and a log file (data=%t, log=%t, files=%d)", hasData, hasLog, len(files))
	}

	var dataN, logN int
	otherN := map[string]int{}
	moves := make([]fileMove, 0, len(files))

	for _, f := range files {
		var name string
		switch f.Type {
		case "D":
			dataN++
			if dataN == 1 {
				name = dbName + ".mdf"
			} else {
				name = fmt.Sprintf("%s_%d.ndf", dbName, dataN)
			}
		case "L":
			logN++
			if logN == 1 {
				name = dbName + "_log.ldf"
			} else {
				name = fmt.Sprintf("%s_log%d.ldf", dbName, logN)
			}
		default:
			otherN[f.Type]++
			name = fmt.Sprintf("%s_%s%d", dbName, strings.ToLower(f.Type), otherN[f.Type])
		}
		moves = append(moves, fileMove{
			LogicalName: f.LogicalName,
			Target:      joinServerPath(dataDir, name),
		})
	}

	return moves, nil
}

// buildRestoreStatement: путь к бэкапу и все MOVE передаются параметрами,
// имя БД проверено ValidateDatabaseName и квотировано
func buildRestoreStatement(dbName, backupPath string, moves []fileMove) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, 1+2*len(moves))

	sb.WriteString("RESTORE DATABASE ")
	sb.WriteString(base.MSSQL.QuoteIdentifier(dbName))
	sb.WriteString(" FROM DISK = ? WITH FILE = 1, REPLACE")
	args = append(args, backupPath)

	for _, m := range moves {
		sb.WriteString(", MOVE ? TO ?")
		args = append(args, m.LogicalName, m.Target)
	}

	return sb.String(), args
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}
