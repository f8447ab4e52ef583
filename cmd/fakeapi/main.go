package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartwaste.org/internal/config"
	"smartwaste.org/internal/fakeapi"
	"smartwaste.org/internal/obs"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("fakeapi", version)

	cfg, err := config.LoadFakeAPI()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	backend, err := fakeapi.New(fakeapi.Options{
		Secret:    []byte(cfg.JWTSecret),
		TokenTTL:  cfg.TokenTTL,
		MLOffline: cfg.MLOffline,
	})
	if err != nil {
		log.Fatalf("fakeapi: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           backend.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Info("fakeapi_start", map[string]any{"addr": srv.Addr, "version": version, "ml_offline": cfg.MLOffline})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	obs.Info("fakeapi_shutdown", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	obs.Info("fakeapi_stopped", nil)
}
