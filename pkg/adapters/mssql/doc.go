// Package mssql is the SQL Server side of the converter.
//
// It waits for the engine to accept connections, restores an uploaded .bak
// into an ephemeral database, enumerates base tables and their columns, reads
// rows with driver-specific values normalized, and tears the database down.
//
// Features:
//   - Connection waiting with a fixed backoff and an overall deadline
//   - RESTORE FILELISTONLY + RESTORE DATABASE ... WITH MOVE for every file in the backup
//   - Schema introspection via INFORMATION_SCHEMA (base tables only, all schemas)
//   - Row streaming with value normalization (decimal, money, uniqueidentifier, date, time, rowversion)
//   - OFFLINE/ONLINE/DROP teardown that tolerates a database that was never created
//
// Usage:
//
//	db, err := mssql.NewWaiter(cfg, mssql.DefaultWaitConfig()).Wait(ctx)
//	if err != nil {
//	    return err // errs.ConnectionTimeout or the original non-retryable error
//	}
//	sess, err := mssql.NewSession(ctx, db, mssql.DefaultRestoreConfig())
//	if err != nil {
//	    db.Close()
//	    return err
//	}
//	defer sess.Close()
//
//	if err := sess.Restore(ctx, "/var/opt/mssql/backups/1700000000000.bak", "DB_1700000000000"); err != nil {
//	    return err
//	}
//	tables, err := sess.Tables(ctx)
//
// All statements use the "mssql" driver name, so placeholders are "?".
// Identifiers that cannot be bound (database, schema, table and column
// names) are quoted with base.MSSQL; generated database names are
// additionally checked with base.ValidateDatabaseName.
package mssql
