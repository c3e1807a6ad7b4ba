// Command afterhoursd is the platform's HTTP entrypoint: it wires the
// document store, pub/sub bus, and every subsystem together, then serves
// the §6 HTTP API until an interrupt signal arrives.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/afterhours-fm/afterhours/config"
	"github.com/afterhours-fm/afterhours/internal/admin"
	"github.com/afterhours-fm/afterhours/internal/api"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/credential"
	"github.com/afterhours-fm/afterhours/internal/identity"
	"github.com/afterhours-fm/afterhours/internal/playlistcoord"
	"github.com/afterhours-fm/afterhours/internal/pubsub"
	"github.com/afterhours-fm/afterhours/internal/ratelimit"
	"github.com/afterhours-fm/afterhours/internal/reactions"
	"github.com/afterhours-fm/afterhours/internal/realtime"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
	"github.com/afterhours-fm/afterhours/internal/session"
	"github.com/afterhours-fm/afterhours/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()
	slog.Info("starting afterhoursd", "port", cfg.Port, "platform", cfg.PlatformName, "store", cfg.StoreDriver, "pubsub", cfg.PubSubDriver)

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open document store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	bus, err := openBus(cfg, logger)
	if err != nil {
		slog.Error("failed to open pub/sub bus", "err", err)
		os.Exit(1)
	}
	defer bus.Close()

	clk := clock.System{}

	cred := credential.New(credential.Config{
		Prefix: cfg.StreamKeyPrefix, SigningSecret: cfg.SigningSecret,
		RTMPBase: cfg.RTMPBase, HLSBase: cfg.HLSBase,
		RevealWindow: cfg.RevealWindow(), GracePeriod: cfg.GracePeriod(),
		UserRevealWindow: cfg.UserRevealWindow(), UserGracePeriod: cfg.UserGracePeriod(),
	})

	sched := scheduler.New(st, cred, bus, clk, scheduler.Config{
		DefaultDailyHours: cfg.DefaultDailyHours, DefaultWeeklySlots: cfg.DefaultWeeklySlots,
		Location: cfg.Location(), AllowGoLiveNow: cfg.AllowGoLiveNow, AllowGoLiveAfter: cfg.AllowGoLiveAfter,
		AllowTakeover: cfg.AllowTakeover,
	}, logger)

	sess := session.New(sched, cred, bus, clk, session.Config{
		SessionEndCountdown: time.Duration(cfg.SessionEndCountdownSeconds) * time.Second,
	}, logger)

	react := reactions.New(st, sched, sess, bus, clk, logger)

	playlist := playlistcoord.New(st, bus, clk, playlistcoord.Config{
		TrackCooldown:         time.Duration(cfg.TrackCooldownMs) * time.Millisecond,
		MaxTrackDuration:      time.Duration(cfg.MaxTrackDurationMs) * time.Millisecond,
		MetadataFetchDeadline: 5 * time.Second,
	}, nil, logger)

	adminSvc := admin.New(st, clk, logger)

	login, err := identity.NewLocalVerifier(cfg.JWTSecret, 24*time.Hour, clk, cfg.AdminUser, cfg.AdminPass)
	if err != nil {
		slog.Error("failed to initialize identity verifier", "err", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewTable()
	hub := realtime.NewHub(bus, logger)

	server := api.NewServer(api.Deps{
		Scheduler: sched, Session: sess, Reactions: react, Playlist: playlist, Admin: adminSvc,
		Credential: cred, Verifier: login, Login: login, Hub: hub, Limiter: limiter, Clock: clk, Logger: logger,
		IngestWireShape: cfg.IngestWireShape, WebhookSecret: cfg.WebhookSecret,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runTicker(ctx, sess, playlist, limiter, logger)

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: server.Engine}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "err", err)
		}
	}()

	slog.Info("listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// runTicker drives the periodic sweeps every subsystem depends on: the
// session state machine's auto-switchover, the playlist's duration cap, and
// rate-limit table pruning (§4.3, §4.5, §5).
func runTicker(ctx context.Context, sess *session.Service, playlist *playlistcoord.Coordinator, limiter *ratelimit.Table, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.Tick(ctx)
			if err := playlist.EnforceDurationCap(ctx); err != nil {
				logger.Warn("tick: playlist duration cap enforcement failed", "err", err)
			}
			limiter.Prune(5 * time.Minute)
		}
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == "badger" {
		return store.NewBadger(cfg.BadgerDir)
	}
	return store.NewMemory(), nil
}

func openBus(cfg *config.Config, logger *slog.Logger) (pubsub.Bus, error) {
	if cfg.PubSubDriver == "nats" {
		return pubsub.NewNATS(cfg.NATSUrl, logger)
	}
	return pubsub.NewGoChannel(logger), nil
}
