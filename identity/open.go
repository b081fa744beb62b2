package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open connects to a database URL. postgres:// and postgresql:// URLs use
// the pgx driver; anything else is treated as a SQLite path or file: URI.
// The returned Placeholder matches the driver.
func Open(ctx context.Context, url string) (*sql.DB, Placeholder, error) {
	driver, dsn, ph := "sqlite", url, Question
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		driver, ph = "pgx", Dollar
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, ph, fmt.Errorf("identity: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// a single writer avoids SQLITE_BUSY on the demo database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, ph, fmt.Errorf("identity: ping %s: %w", driver, err)
	}
	return db, ph, nil
}
