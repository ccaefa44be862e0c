package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single", "create table t (id int);", 1},
		{"two", "create table a (id int); create table b (id int);", 2},
		{"no trailing semicolon", "create table a (id int)", 1},
		{"semicolon inside string", "insert into t values ('a;b'); select 1;", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := splitStatements(tc.in); len(got) != tc.want {
				t.Fatalf("got %d statements %q, want %d", len(got), got, tc.want)
			}
		})
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("0002_second.up.sql", "create table second (id int);")
	write("0001_first.up.sql", "create table first (id int);")
	write("0001_first.down.sql", "drop table first;")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_first.up.sql"))

	// Only the not-yet-applied file runs, inside its own transaction.
	mock.ExpectBegin()
	mock.ExpectExec("create table second").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_second.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mgr := NewManager(db, dir)
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRequiresDownFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0001_first.up.sql"), []byte("create table first (id int);"), 0o644); err != nil {
		t.Fatal(err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations order by applied_at asc").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_first.up.sql"))

	mgr := NewManager(db, dir)
	if err := mgr.Down(context.Background()); err == nil {
		t.Fatal("down without a .down.sql should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
