// Package identity resolves principals from a SQL users table. Columns listed
// as encrypted are opened through a cipher.FieldCodec on read.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/cipher"
)

// Placeholder selects the bind parameter syntax of the driver.
type Placeholder int

const (
	// Question uses ? (SQLite, MySQL).
	Question Placeholder = iota
	// Dollar uses $1 (Postgres).
	Dollar
)

// Config describes the users table.
type Config struct {
	// Table defaults to "users".
	Table string
	// IDColumn defaults to "id".
	IDColumn string
	// Columns are copied into Principal.Attributes as stored.
	Columns []string
	// EncryptedColumns are opened with the codec before being copied.
	EncryptedColumns []string
	// ActiveColumn, when set, must be true for the principal to resolve.
	ActiveColumn string
	// DeletedColumn, when set, must be false for the principal to resolve.
	DeletedColumn string
	Placeholder   Placeholder
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore implements authcore.PrincipalStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	codec   *cipher.FieldCodec
	plain   []string
	sealed  []string
	idQuery string
}

var _ authcore.PrincipalStore = (*SQLStore)(nil)

// NewSQLStore builds the lookup query once. codec may be nil when no
// encrypted columns are configured.
func NewSQLStore(db *sql.DB, cfg Config, codec *cipher.FieldCodec) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("identity: nil db")
	}
	if cfg.Table == "" {
		cfg.Table = "users"
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = "id"
	}
	if len(cfg.EncryptedColumns) > 0 && codec == nil {
		return nil, errors.New("identity: encrypted columns require a field codec")
	}

	names := []string{cfg.Table, cfg.IDColumn}
	names = append(names, cfg.Columns...)
	names = append(names, cfg.EncryptedColumns...)
	if cfg.ActiveColumn != "" {
		names = append(names, cfg.ActiveColumn)
	}
	if cfg.DeletedColumn != "" {
		names = append(names, cfg.DeletedColumn)
	}
	for _, name := range names {
		if !identifierRE.MatchString(name) {
			return nil, fmt.Errorf("identity: invalid identifier %q", name)
		}
	}

	selected := append([]string{cfg.IDColumn}, cfg.Columns...)
	selected = append(selected, cfg.EncryptedColumns...)

	bind := "?"
	if cfg.Placeholder == Dollar {
		bind = "$1"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s = %s", strings.Join(selected, ", "), cfg.Table, cfg.IDColumn, bind)
	if cfg.ActiveColumn != "" {
		fmt.Fprintf(&b, " AND %s", cfg.ActiveColumn)
	}
	if cfg.DeletedColumn != "" {
		fmt.Fprintf(&b, " AND NOT %s", cfg.DeletedColumn)
	}

	return &SQLStore{
		db:      db,
		codec:   codec,
		plain:   append([]string(nil), cfg.Columns...),
		sealed:  append([]string(nil), cfg.EncryptedColumns...),
		idQuery: b.String(),
	}, nil
}

// Query returns the SQL used by FindPrincipalByID.
func (s *SQLStore) Query() string {
	return s.idQuery
}

// FindPrincipalByID implements authcore.PrincipalStore. Missing, inactive
// and soft-deleted rows all report authcore.ErrPrincipalNotFound.
func (s *SQLStore) FindPrincipalByID(ctx context.Context, id string) (authcore.Principal, error) {
	var rowID any
	plain := make([]any, len(s.plain))
	sealed := make([]cipher.Field, len(s.sealed))

	dest := make([]any, 0, 1+len(plain)+len(sealed))
	dest = append(dest, &rowID)
	for i := range plain {
		dest = append(dest, &plain[i])
	}
	for i := range sealed {
		sealed[i] = s.codec.NullField()
		dest = append(dest, &sealed[i])
	}

	err := s.db.QueryRowContext(ctx, s.idQuery, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.Principal{}, authcore.ErrPrincipalNotFound
	}
	if err != nil {
		return authcore.Principal{}, fmt.Errorf("identity: find principal: %w", err)
	}

	attrs := make(map[string]any, len(plain)+len(sealed))
	for i, col := range s.plain {
		attrs[col] = normalize(plain[i])
	}
	for i, col := range s.sealed {
		if sealed[i].Valid {
			attrs[col] = sealed[i].Plain
		} else {
			attrs[col] = nil
		}
	}
	return authcore.Principal{ID: fmt.Sprint(normalize(rowID)), Attributes: attrs}, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
