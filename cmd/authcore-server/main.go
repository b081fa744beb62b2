// Command authcore-server is a small HTTP front end for the authcore engine.
//
// Configuration comes from the environment and an optional .env file (see
// package config). Without REDIS_ADDR it runs on an in-process miniredis and
// without DATABASE_URL on a local SQLite file seeded with one demo user.
//
// POST /login trusts the submitted id and checks no credential. It is only
// mounted when DEMO_LOGIN=true and must stay off outside development; real
// deployments issue tokens through their own credential check and
// Engine.Login.
//
// Endpoints:
//
//	POST /login                      JSON {"id":"...", "data":{...}, "extra":{...}}, DEMO_LOGIN only
//	GET  /me                         guarded, returns principal and session
//	PATCH /session                   guarded, merges {"data":..., "extra":...}
//	POST /session/extend             guarded, restarts the session TTL
//	POST /refresh                    swaps the presented token for a new one
//	POST /logout                     deletes the session of the presented token
//	POST /principals/{id}/invalidate guarded, drops every session of {id}
//	GET  /metrics                    Prometheus exposition
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/config"
	"github.com/MrEthical07/authcore/identity"
	attempts "github.com/MrEthical07/authcore/internal/rate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	settings, err := config.Load("")
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─── Session cache ───
	addr := settings.RedisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Fatalf("miniredis: %v", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		logger.Printf("REDIS_ADDR not set, using in-process miniredis at %s", addr)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	defer rdb.Close()

	// ─── Identity database ───
	db, placeholder, err := identity.Open(ctx, settings.DatabaseURL)
	if err != nil {
		logger.Fatalf("identity: %v", err)
	}
	defer db.Close()

	// the SQL store opens encrypted columns with the engine's codec, so it is
	// bound after Build
	var principals *identity.SQLStore
	lookup := authcore.PrincipalStoreFunc(func(ctx context.Context, id string) (authcore.Principal, error) {
		return principals.FindPrincipalByID(ctx, id)
	})

	engine, err := authcore.New().
		WithConfig(settings.Core).
		WithRedis(rdb).
		WithPrincipalStore(lookup).
		WithAuditSink(authcore.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	idCfg := identity.Config{
		Columns:      []string{"username"},
		ActiveColumn: "is_active",
		Placeholder:  placeholder,
	}
	if engine.FieldCodec() != nil {
		idCfg.EncryptedColumns = []string{"email"}
	}
	if placeholder == identity.Question {
		if err := seedSQLite(ctx, db, engine); err != nil {
			logger.Fatalf("seed: %v", err)
		}
	}
	principals, err = identity.NewSQLStore(db, idCfg, engine.FieldCodec())
	if err != nil {
		logger.Fatalf("identity: %v", err)
	}

	// ─── HTTP ───
	failures, err := attempts.New(rdb, attempts.Config{
		Prefix: settings.Core.Session.Prefix + ":lf",
		Max:    settings.LoginMaxFailures,
		Window: settings.LoginFailureWindow,
	})
	if err != nil {
		logger.Fatalf("login throttle: %v", err)
	}
	if settings.DemoLogin {
		logger.Printf("DEMO_LOGIN is on: POST /login issues tokens without a credential check")
	}
	router := newServer(engine, settings, failures, logger).routes()
	handler := cors.New(cors.Options{
		AllowedOrigins:   settings.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router)

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s (mode=%s)", settings.HTTPAddr, engine.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("forced shutdown: %v", err)
	}
	logger.Println("stopped")
}

// seedSQLite creates the demo users table and inserts "demo" once. The email
// column is sealed when a cipher key is configured.
func seedSQLite(ctx context.Context, db *sql.DB, engine *authcore.Engine) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT,
		is_active INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		return err
	}

	var email any = "demo@example.com"
	if codec := engine.FieldCodec(); codec != nil {
		email = codec.Field("demo@example.com")
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, is_active) VALUES (?, ?, ?, 1) ON CONFLICT(id) DO NOTHING`,
		"demo", "demo", email)
	return err
}
