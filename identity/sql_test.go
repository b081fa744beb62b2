package identity

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/cipher"
)

func newCodec(t *testing.T) *cipher.FieldCodec {
	t.Helper()
	c, err := cipher.New([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	codec, err := cipher.NewFieldCodec(c, cipher.WithLogger(log.New(&bytes.Buffer{}, "", 0)))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return codec
}

func TestNewSQLStoreBuildsQuery(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store, err := NewSQLStore(db, Config{
		Columns:          []string{"username"},
		EncryptedColumns: []string{"phone"},
		ActiveColumn:     "is_active",
		DeletedColumn:    "is_deleted",
		Placeholder:      Dollar,
	}, newCodec(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	want := "SELECT id, username, phone FROM users WHERE id = $1 AND is_active AND NOT is_deleted"
	if store.Query() != want {
		t.Fatalf("unexpected query\n got %s\nwant %s", store.Query(), want)
	}
}

func TestNewSQLStoreRejectsBadConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewSQLStore(db, Config{Table: "users; DROP TABLE users"}, nil); err == nil {
		t.Fatal("expected invalid table name to fail")
	}
	if _, err := NewSQLStore(db, Config{EncryptedColumns: []string{"phone"}}, nil); err == nil {
		t.Fatal("expected encrypted columns without codec to fail")
	}
	if _, err := NewSQLStore(nil, Config{}, nil); err == nil {
		t.Fatal("expected nil db to fail")
	}
}

func TestFindPrincipalByID(t *testing.T) {
	codec := newCodec(t)
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store, err := NewSQLStore(db, Config{
		Columns:          []string{"username"},
		EncryptedColumns: []string{"phone", "email"},
	}, codec)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	sealed, _ := codec.Seal("13800138000")
	mock.ExpectQuery(store.Query()).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "phone", "email"}).
			AddRow(int64(42), []byte("alice"), sealed, nil))

	p, err := store.FindPrincipalByID(context.Background(), "42")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.ID != "42" {
		t.Fatalf("expected id 42, got %q", p.ID)
	}
	if p.Attributes["username"] != "alice" || p.Attributes["phone"] != "13800138000" || p.Attributes["email"] != nil {
		t.Fatalf("unexpected attributes %v", p.Attributes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindPrincipalByIDErrors(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store, err := NewSQLStore(db, Config{}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	mock.ExpectQuery(store.Query()).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := store.FindPrincipalByID(context.Background(), "missing"); !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}

	boom := errors.New("connection reset")
	mock.ExpectQuery(store.Query()).WithArgs("u1").WillReturnError(boom)
	_, err = store.FindPrincipalByID(context.Background(), "u1")
	if !errors.Is(err, boom) || errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("expected driver error to surface, got %v", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	codec := newCodec(t)

	db, ph, err := Open(ctx, filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if ph != Question {
		t.Fatalf("expected ? placeholders for sqlite, got %v", ph)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		phone TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_deleted INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	insert := `INSERT INTO users (id, username, phone, is_active, is_deleted) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "u1", "alice", codec.Field("555-0100"), 1, 0); err != nil {
		t.Fatalf("insert u1: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "u2", "bob", codec.NullField(), 0, 0); err != nil {
		t.Fatalf("insert u2: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "u3", "carol", "legacy-plain", 1, 1); err != nil {
		t.Fatalf("insert u3: %v", err)
	}

	var stored string
	if err := db.QueryRowContext(ctx, `SELECT phone FROM users WHERE id = ?`, "u1").Scan(&stored); err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if stored == "555-0100" {
		t.Fatal("expected phone to be encrypted at rest")
	}

	store, err := NewSQLStore(db, Config{
		Columns:          []string{"username"},
		EncryptedColumns: []string{"phone"},
		ActiveColumn:     "is_active",
		DeletedColumn:    "is_deleted",
		Placeholder:      ph,
	}, codec)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	p, err := store.FindPrincipalByID(ctx, "u1")
	if err != nil {
		t.Fatalf("find u1: %v", err)
	}
	if p.Attributes["phone"] != "555-0100" || p.Attributes["username"] != "alice" {
		t.Fatalf("unexpected attributes %v", p.Attributes)
	}
	for _, id := range []string{"u2", "u3", "u4"} {
		if _, err := store.FindPrincipalByID(ctx, id); !errors.Is(err, authcore.ErrPrincipalNotFound) {
			t.Fatalf("%s: expected ErrPrincipalNotFound, got %v", id, err)
		}
	}
}
