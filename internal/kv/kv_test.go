package kv

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "token"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "token", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "token", "def"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, ok, err := s.Get(ctx, "token")
	if err != nil || !ok || v != "def" {
		t.Fatalf("Get=%q ok=%v err=%v", v, ok, err)
	}
	if err := s.Remove(ctx, "token"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, "token"); err != nil {
		t.Fatalf("Remove twice: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "token"); ok {
		t.Fatal("key still present after Remove")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	exerciseStore(t, NewFile(path))
}

func TestFileStorePersistsWithPrivateMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := NewFile(path).Set(context.Background(), "user", `{"userId":1}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	v, ok, err := NewFile(path).Get(context.Background(), "user")
	if err != nil || !ok || v != `{"userId":1}` {
		t.Fatalf("reopened Get=%q ok=%v err=%v", v, ok, err)
	}
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewFile(path).Get(context.Background(), "token"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	store := NewPostgres(db, "kiosk-1")

	mock.ExpectQuery("select value from client_kv").
		WithArgs("kiosk-1", "token").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("insert into client_kv").
		WithArgs("kiosk-1", "token", "abc", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("select value from client_kv").
		WithArgs("kiosk-1", "token").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("abc"))
	mock.ExpectExec("delete from client_kv").
		WithArgs("kiosk-1", "token").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, ok, err := store.Get(ctx, "token"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "token", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := store.Get(ctx, "token"); err != nil || !ok || v != "abc" {
		t.Fatalf("Get=%q ok=%v err=%v", v, ok, err)
	}
	if err := store.Remove(ctx, "token"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists client_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from client_schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table if not exists client_kv").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into client_schema_migrations").
		WithArgs("0001_client_kv.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewPostgres(db, "").EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
