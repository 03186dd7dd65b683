package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/obs"
)

var version = "0.3.1"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)
	obs.Init()

	// Fatal conditions abort startup rather than degrade silently: a
	// missing signing secret or an unreachable database is unrecoverable.
	codec, err := auth.NewCodec(cfg.Auth.SigningSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTokenTTL),
	)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DB.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		log.Fatalf("ping db: %v", err)
	}

	var directory auth.DirectoryAuthenticator
	if cfg.Directory.Enabled {
		directory, err = auth.NewLDAPAuthenticator(cfg.Directory.URL, cfg.Directory.UserDNTmpl, cfg.Directory.DialTimeout)
		if err != nil {
			log.Fatalf("directory authenticator: %v", err)
		}
	}

	users := auth.NewPGUserStore(db)
	sessions := auth.NewPGSessionStore(db)
	authn := auth.NewAuthenticator(users, directory)
	svc := auth.NewService(authn, users, sessions, codec,
		auth.WithRefreshTTL(cfg.Auth.RefreshTokenTTL),
		auth.WithMaxSessions(cfg.Auth.MaxSessions),
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	cleaner := auth.NewCleaner(sessions,
		auth.WithExpiredInterval(cfg.Cleanup.ExpiredInterval),
		auth.WithRevokedInterval(cfg.Cleanup.RevokedInterval),
		auth.WithRevokedRetention(cfg.Cleanup.RevokedRetention),
	)
	cleaner.Start(rootCtx)

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, httpapi.Options{
		EntityCode:    cfg.Auth.EntityCode,
		RateBurst:     cfg.RateLimit.Burst,
		RatePerSecond: cfg.RateLimit.PerSecond,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting gatehouse-api %s on %s (env=%s)", version, srv.Addr, cfg.Env)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	rootCancel()
	cleaner.Wait()
	_ = db.Close()
	log.Println("stopped")
}
