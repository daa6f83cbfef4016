package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseanu/mssql-converter/pkg/core/schema"
)

func fixtureTable() schema.TableSchema {
	return schema.TableSchema{
		Schema: "dbo",
		Name:   "t",
		Columns: []schema.ColumnSchema{
			{Name: "id", SourceType: "int", Nullable: false},
			{Name: "name", SourceType: "nvarchar", Nullable: false},
			{Name: "note", SourceType: "nvarchar", Nullable: true},
		},
	}
}

// openImage записывает образ БД в файл и открывает его
func openImage(t *testing.T, image []byte) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "out.sqlite")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	db, err := sql.Open(driverSqlite, path)
	if err != nil {
		t.Fatalf("Failed to open image: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBuildCreateTable(t *testing.T) {
	got := BuildCreateTable(fixtureTable())
	want := "CREATE TABLE \"t\" (\n  \"id\" INTEGER NOT NULL,\n  \"name\" TEXT NOT NULL,\n  \"note\" TEXT\n)"
	if got != want {
		t.Errorf("BuildCreateTable() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildInsert(t *testing.T) {
	table := schema.TableSchema{
		Schema:  "sales",
		Name:    `Or"ders`,
		Columns: []schema.ColumnSchema{{Name: "a"}, {Name: "b c"}},
	}

	got := BuildInsert(table)
	want := `INSERT INTO "sales.Or""ders" ("a", "b c") VALUES (?, ?)`
	if got != want {
		t.Errorf("BuildInsert() = %q, want %q", got, want)
	}
}

func TestMemoryDB_SerializeRoundTrip(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	defer mem.Close()

	table := fixtureTable()
	if err := mem.CreateTable(ctx, table); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	w, err := mem.BeginTable(ctx, table)
	if err != nil {
		t.Fatalf("BeginTable() failed: %v", err)
	}
	for _, row := range [][]any{{int64(1), "a", nil}, {int64(2), "b", "x"}} {
		if err := w.Insert(ctx, row); err != nil {
			w.Rollback()
			t.Fatalf("Insert() failed: %v", err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if w.Rows() != 2 {
		t.Errorf("Rows() = %d, want 2", w.Rows())
	}

	image, err := mem.Serialize(ctx)
	if err != nil {
		t.Fatalf("Serialize() failed: %v", err)
	}
	if len(image) < 16 || string(image[:15]) != "SQLite format 3" {
		t.Fatalf("image does not look like a SQLite file (%d bytes)", len(image))
	}

	db := openImage(t, image)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "t"`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	var note sql.NullString
	if err := db.QueryRow(`SELECT note FROM "t" WHERE id = 1`).Scan(&note); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if note.Valid {
		t.Errorf("note for id=1 should be NULL, got %q", note.String)
	}

	// NOT NULL перенесен из источника
	if _, err := db.Exec(`INSERT INTO "t" (id, name, note) VALUES (3, NULL, NULL)`); err == nil {
		t.Error("expected NOT NULL constraint failure for name")
	}
}

func TestMemoryDB_VacuumIntoMatchesContent(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	defer mem.Close()

	if err := mem.CreateTable(ctx, fixtureTable()); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	image, err := mem.vacuumInto(ctx)
	if err != nil {
		t.Fatalf("vacuumInto() failed: %v", err)
	}

	db := openImage(t, image)
	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table'`).Scan(&name); err != nil {
		t.Fatalf("sqlite_master query failed: %v", err)
	}
	if name != "t" {
		t.Errorf("table name = %q, want t", name)
	}
}

func TestMemoryDB_InsertFailureRollsBack(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	defer mem.Close()

	table := fixtureTable()
	if err := mem.CreateTable(ctx, table); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	w, err := mem.BeginTable(ctx, table)
	if err != nil {
		t.Fatalf("BeginTable() failed: %v", err)
	}
	if err := w.Insert(ctx, []any{int64(1), nil, nil}); err == nil {
		t.Fatal("expected NOT NULL violation")
	}
	w.Rollback()

	var count int
	if err := mem.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM "t"`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after rollback, want 0", count)
	}
}

func TestMemoryDB_CloseTwice(t *testing.T) {
	mem, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	if err := mem.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := mem.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}
