package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hireline.io/internal/account"
	"hireline.io/internal/config"
	"hireline.io/internal/httpapi"
	"hireline.io/internal/mail"
	"hireline.io/internal/obs"
	"hireline.io/internal/session"
	"hireline.io/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Fail fast: an unresolvable database host is a deployment error, not
	// something retries can fix.
	db, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var notifier account.Notifier = mail.Discard{}
	if cfg.SMTPEnabled() {
		smtp, err := mail.NewSMTP(cfg)
		if err != nil {
			log.Fatalf("mail: %v", err)
		}
		notifier = smtp
	} else {
		log.Println("SMTP not configured, notifications are discarded")
	}

	accounts := account.NewService(
		account.NewPGStore(db),
		notifier,
		account.WithApprovalTokenTTL(cfg.ApprovalTokenTTL),
		account.WithResetTokenTTL(cfg.ResetTokenTTL),
		account.WithStaffAutoApprove(cfg.StaffAutoApprove),
		account.WithBaseURL(cfg.BaseURL),
	)

	sessions, err := session.New(cfg.SessionSecret, session.WithTTL(cfg.SessionTTL))
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db.Std()}, version, accounts, sessions)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting hireline-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
