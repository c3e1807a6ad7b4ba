// Command reconcile is a one-shot viewer-session reconciliation job: for
// every live or recently-live slot, it recomputes currentViewers from the
// authoritative set of active viewer sessions, correcting drift from
// dropped decrement writes (§9 "counters vs projections...recover via
// periodic reconciliation").
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/afterhours-fm/afterhours/config"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/credential"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/pubsub"
	"github.com/afterhours-fm/afterhours/internal/reactions"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
	"github.com/afterhours-fm/afterhours/internal/session"
	"github.com/afterhours-fm/afterhours/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()
	clk := clock.System{}

	var st store.Store
	var err error
	if cfg.StoreDriver == "badger" {
		st, err = store.NewBadger(cfg.BadgerDir)
	} else {
		st = store.NewMemory()
	}
	if err != nil {
		slog.Error("failed to open document store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	bus := pubsub.NewGoChannel(logger)
	defer bus.Close()

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

	ctx := context.Background()
	all, err := sched.AllSlots(ctx)
	if err != nil {
		slog.Error("failed to load slots", "err", err)
		os.Exit(1)
	}

	checked, corrected := 0, 0
	cutoff := clk.Now().Add(-2 * time.Hour)
	for _, sl := range all {
		if sl.Status != domain.StatusLive && sl.EndedAt == nil {
			continue
		}
		if sl.Status != domain.StatusLive && sl.EndedAt != nil && sl.EndedAt.Before(cutoff) {
			continue
		}
		before := sl.CurrentViewers
		count, err := react.ReconcileViewerCounts(ctx, sl.ID)
		if err != nil {
			slog.Warn("reconcile failed", "slotId", sl.ID, "err", err)
			continue
		}
		checked++
		if count != before {
			corrected++
			slog.Info("corrected viewer count", "slotId", sl.ID, "before", before, "after", count)
		}
	}
	slog.Info("reconciliation complete", "checked", checked, "corrected", corrected)
}
