package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gamelink.org/internal/auth"
	"gamelink.org/internal/gameserver"
	"gamelink.org/internal/httpapi"
	"gamelink.org/internal/identity"
	"gamelink.org/internal/link"
	"gamelink.org/internal/obs"
	"gamelink.org/internal/ratelimit"
	"gamelink.org/internal/verify"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

const sweepInterval = 5 * time.Minute

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Database is optional: without a DSN the service runs on in-memory
	// stores, which suits development and the chat gateway's tests.
	var db *sql.DB
	if dsn := os.Getenv("GAMELINK_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var (
		ids    identity.Store
		ledger verify.Ledger
	)
	if db != nil {
		ids = identity.NewPGStore(db)
		ledger = verify.NewPGStore(db)
	} else {
		mem := identity.NewInMemory()
		ids = mem
		ledger = verify.NewInMemory(mem)
	}

	gameAPIURL := os.Getenv("GAMELINK_GAME_API_URL")
	if gameAPIURL == "" {
		log.Fatal("GAMELINK_GAME_API_URL is required")
	}
	profileURL := os.Getenv("GAMELINK_PROFILE_API_URL")
	if profileURL == "" {
		log.Fatal("GAMELINK_PROFILE_API_URL is required")
	}
	game := gameserver.New(profileURL, gameAPIURL, os.Getenv("GAMELINK_GAME_API_KEY"))

	limiter := ratelimit.New(
		envInt("GAMELINK_LINK_ATTEMPTS", 5),
		envDuration("GAMELINK_LINK_WINDOW", 10*time.Minute),
	)

	svc := link.NewService(ids, ledger, game, game, game, link.WithLimiter(limiter))

	api := httpapi.New(
		httpapi.ReadyProbe{DB: db},
		version,
		svc,
		game,
		auth.NewAdminCheck(os.Getenv("GAMELINK_ADMIN_USER_IDS")),
		auth.NewAPIKeyVerifier(os.Getenv("GAMELINK_GAME_KEY_HASH"), os.Getenv("GAMELINK_GAME_KEY")),
	)

	srv := &http.Server{
		Addr:              envString("GAMELINK_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Expiry sweep on a timer, stopped with the server.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if err := svc.Sweep(sweepCtx); err != nil {
					obs.LogEvent("error", "sweep_failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}()

	log.Printf("Starting gamelink-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return d
}
