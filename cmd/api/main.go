package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resqlink.org/internal/auth"
	"resqlink.org/internal/emergency"
	"resqlink.org/internal/files"
	"resqlink.org/internal/httpapi"
	"resqlink.org/internal/identity"
	"resqlink.org/internal/notify"
	"resqlink.org/internal/obs"
	"resqlink.org/internal/store/memory"
	"resqlink.org/internal/store/pg"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("RESQLINK_COMMIT"))

	addr := envOr("RESQLINK_ADDR", ":8080")
	secret := os.Getenv("RESQLINK_AUTH_SECRET")
	if secret == "" {
		log.Fatal("RESQLINK_AUTH_SECRET is required")
	}

	tokens, err := auth.NewTokens(secret)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	// Without a DSN the server runs on the in-memory store: enough for local
	// development and smoke tests, nothing survives a restart.
	var (
		identityStore  identity.Store
		emergencyStore emergency.Store
		probe          httpapi.ReadyProbe
		closeStore     func() error = func() error { return nil }
	)
	if dsn := os.Getenv("RESQLINK_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		identityStore = store
		emergencyStore = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
		closeStore = store.Close
	} else {
		log.Print("RESQLINK_PG_DSN not set, using in-memory store")
		store := memory.New()
		store.PutVillage(&emergency.Village{ID: 1, Name: "Kampung Satu"})
		identityStore = store
		emergencyStore = store
	}

	blobs, err := files.NewDisk(envOr("RESQLINK_FILES_DIR", "data/files"))
	if err != nil {
		log.Fatalf("files: %v", err)
	}

	ident, err := identity.NewService(identityStore, tokens)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	emerg, err := emergency.NewService(emergencyStore, blobs, identityStore, notify.LogGateway{})
	if err != nil {
		log.Fatalf("emergency: %v", err)
	}

	api := httpapi.New(probe, version, tokens, ident, emerg, blobs)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting resqlink-api %s on %s", version, srv.Addr)

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
	_ = closeStore()
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
