package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-rooms/admin"
	"github.com/tcriess/lightspeed-rooms/api"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/gateway"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/metrics"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/presence"
	"github.com/tcriess/lightspeed-rooms/reclaim"
	"github.com/tcriess/lightspeed-rooms/rooms"
)

const shutdownTimeout = 15 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	if err := globalConfig.Validate(); err != nil {
		globals.AppLogger.Error("refusing to start", "error", err)
		os.Exit(1)
	}
	if err := run(globalConfig); err != nil {
		globals.AppLogger.Error("stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	issuer, err := auth.NewTokenIssuer(cfg.LiveKitConfig.APIKey, cfg.LiveKitConfig.APISecret, cfg.TokenConfig.DefaultTTL)
	if err != nil {
		return err
	}

	persister, err := persistence.NewPersister(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := persister.Close(); err != nil {
			globals.AppLogger.Error("could not close persister", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	gw := gateway.NewClient(cfg.LiveKitConfig.URL, issuer, cfg.LiveKitConfig.Timeout)
	ingestor, err := presence.NewIngestor(persister, gw, cfg.WebhookConfig.DedupeSize, m)
	if err != nil {
		return err
	}
	authenticator, err := auth.NewAuthenticator(ctx, cfg.OIDCConfigs)
	if err != nil {
		return err
	}
	var verifier *auth.WebhookVerifier
	if cfg.WebhookConfig.Verify {
		verifier = auth.NewWebhookVerifier(issuer)
	} else {
		globals.AppLogger.Warn("webhook signature verification is disabled")
	}

	scheduler := reclaim.New(persister, gw, cfg.ReclaimConfig.Interval, cfg.ReclaimConfig.IdleThreshold, reclaim.WithMetrics(m))
	scheduler.Start()

	a := &api.API{
		Authenticator: authenticator,
		Verifier:      verifier,
		Ingestor:      ingestor,
		Rooms:         rooms.NewCoordinator(persister, issuer, cfg.LiveKitConfig.URL, m),
		Admin:         admin.New(gw, persister),
		Gatherer:      registry,
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		globals.AppLogger.Info("listening", "addr", cfg.ListenAddr)
		if *sslCert != "" && *sslKey != "" {
			serveErr <- server.ListenAndServeTLS(*sslCert, *sslKey)
		} else {
			serveErr <- server.ListenAndServe()
		}
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		globals.AppLogger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		globals.AppLogger.Error("could not shut down http server", "error", shutdownErr)
	}
	if stopErr := scheduler.Stop(shutdownCtx); stopErr != nil {
		globals.AppLogger.Error("could not stop scheduler", "error", stopErr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
