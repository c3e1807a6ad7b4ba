package reactions

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/credential"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/pubsub"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
	"github.com/afterhours-fm/afterhours/internal/session"
	"github.com/afterhours-fm/afterhours/internal/store"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testEnv(t *testing.T, now time.Time) (*Service, *scheduler.Scheduler, store.Store, *clock.Fake) {
	t.Helper()
	st := store.NewMemory()
	bus := pubsub.NewGoChannel(testLogger())
	t.Cleanup(func() { _ = bus.Close() })
	clk := clock.NewFake(now)
	cred := credential.New(credential.Config{Prefix: "fwx", SigningSecret: "secret"})
	sched := scheduler.New(st, cred, bus, clk, scheduler.Config{
		DefaultDailyHours: 2, DefaultWeeklySlots: 2, Location: time.UTC, AllowGoLiveNow: true,
	}, testLogger())
	sess := session.New(sched, cred, bus, clk, session.Config{SessionEndCountdown: 10 * time.Second}, testLogger())
	react := New(st, sched, sess, bus, clk, testLogger())
	return react, sched, st, clk
}

func approveArtist(t *testing.T, st store.Store, djID string) {
	t.Helper()
	raw, _ := json.Marshal(domain.ArtistProfile{DJID: djID, Approved: true, ArtistName: djID})
	if err := st.Set(context.Background(), scheduler.CollectionArtists, djID, raw); err != nil {
		t.Fatal(err)
	}
}

func liveSlot(t *testing.T, sched *scheduler.Scheduler, djID string) *domain.Slot {
	t.Helper()
	sl, err := sched.GoLiveNow(context.Background(), scheduler.GoLiveNowRequest{DJID: djID, DJName: djID, DurationMin: 60})
	if err != nil {
		t.Fatalf("GoLiveNow: %v", err)
	}
	return sl
}

func TestJoinIncrementsViewerCounters(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")

	if _, err := react.Join(context.Background(), sl.ID, "user-1", "sess-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	updated, err := sched.GetSlot(context.Background(), sl.ID)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if updated.CurrentViewers != 1 || updated.ViewerPeak != 1 || updated.TotalViews != 1 {
		t.Fatalf("counters = %+v, want 1/1/1", updated)
	}
}

func TestLeaveDecrementsButFloorsAtZero(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")

	if _, err := react.Join(context.Background(), sl.ID, "user-1", "sess-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := react.Leave(context.Background(), sl.ID, "sess-1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	// leaving again (already inactive) must be a no-op, not go negative.
	if err := react.Leave(context.Background(), sl.ID, "sess-1"); err != nil {
		t.Fatalf("second Leave: %v", err)
	}

	updated, err := sched.GetSlot(context.Background(), sl.ID)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if updated.CurrentViewers != 0 {
		t.Fatalf("CurrentViewers = %d, want 0", updated.CurrentViewers)
	}
}

func TestLeaveUnknownSessionIsNoop(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")
	if err := react.Leave(context.Background(), sl.ID, "never-joined"); err != nil {
		t.Fatalf("Leave on an unknown session should not error: %v", err)
	}
}

func TestHeartbeatRequiresActiveSession(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")
	_, err := react.Heartbeat(context.Background(), sl.ID, "never-joined")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestLikeIncrementsTotalLikes(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")

	updated, err := react.Like(context.Background(), sl.ID, "user-1")
	if err != nil {
		t.Fatalf("Like: %v", err)
	}
	if updated.TotalLikes != 1 {
		t.Fatalf("TotalLikes = %d, want 1", updated.TotalLikes)
	}
	updated, err = react.Like(context.Background(), sl.ID, "user-1")
	if err != nil {
		t.Fatalf("second Like: %v", err)
	}
	if updated.TotalLikes != 2 {
		t.Fatalf("TotalLikes = %d, want 2 (no per-user dedup)", updated.TotalLikes)
	}
}

func TestRateRejectsOutOfRange(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")
	if _, err := react.Rate(context.Background(), sl.ID, "user-1", 0); !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Fatalf("err = %v, want InvalidRequest", err)
	}
	if _, err := react.Rate(context.Background(), sl.ID, "user-1", 6); !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Fatalf("err = %v, want InvalidRequest", err)
	}
}

func TestRateComputesRollingAverage(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")

	updated, err := react.Rate(context.Background(), sl.ID, "user-1", 4)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if updated.AverageRating != 4 || updated.RatingCount != 1 {
		t.Fatalf("avg/count = %v/%v, want 4/1", updated.AverageRating, updated.RatingCount)
	}

	updated, err = react.Rate(context.Background(), sl.ID, "user-2", 2)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if updated.AverageRating != 3 || updated.RatingCount != 2 {
		t.Fatalf("avg/count = %v/%v, want 3/2", updated.AverageRating, updated.RatingCount)
	}
}

func TestRateUpsertsOnePerUser(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")

	if _, err := react.Rate(context.Background(), sl.ID, "user-1", 5); err != nil {
		t.Fatalf("Rate: %v", err)
	}
	updated, err := react.Rate(context.Background(), sl.ID, "user-1", 1)
	if err != nil {
		t.Fatalf("Rate (update): %v", err)
	}
	if updated.RatingCount != 1 {
		t.Fatalf("RatingCount = %d, want 1 (same user updating, not adding)", updated.RatingCount)
	}
	if updated.AverageRating != 1 {
		t.Fatalf("AverageRating = %v, want 1 after the user's rating changed", updated.AverageRating)
	}
}

func TestShoutoutRejectsOutOfLengthRange(t *testing.T) {
	react, _, _, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err := react.Shoutout(context.Background(), "stream-1", ShoutoutPayload{Name: "a", Message: ""}); !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Fatalf("err = %v, want InvalidRequest for empty message", err)
	}
	longMsg := make([]byte, 31)
	for i := range longMsg {
		longMsg[i] = 'x'
	}
	if err := react.Shoutout(context.Background(), "stream-1", ShoutoutPayload{Name: "a", Message: string(longMsg)}); !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Fatalf("err = %v, want InvalidRequest for a 31-char message", err)
	}
	if err := react.Shoutout(context.Background(), "stream-1", ShoutoutPayload{Name: "a", Message: "ok"}); err != nil {
		t.Fatalf("valid shoutout should not error: %v", err)
	}
}

func TestReconcileViewerCountsCorrectsDrift(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")

	if _, err := react.Join(context.Background(), sl.ID, "user-1", "sess-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := react.Join(context.Background(), sl.ID, "user-2", "sess-2"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// force drift: overwrite the counter directly.
	updated, _ := sched.GetSlot(context.Background(), sl.ID)
	updated.CurrentViewers = 99
	if err := sched.SaveSlot(context.Background(), updated); err != nil {
		t.Fatalf("SaveSlot: %v", err)
	}

	count, err := react.ReconcileViewerCounts(context.Background(), sl.ID)
	if err != nil {
		t.Fatalf("ReconcileViewerCounts: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2 active viewer sessions", count)
	}
	fixed, _ := sched.GetSlot(context.Background(), sl.ID)
	if fixed.CurrentViewers != 2 {
		t.Fatalf("CurrentViewers = %d, want 2 after reconciliation", fixed.CurrentViewers)
	}
}

func TestSweepInactiveOnStreamEnd(t *testing.T) {
	react, sched, st, _ := testEnv(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtist(t, st, "dj-1")
	sl := liveSlot(t, sched, "dj-1")
	if _, err := react.Join(context.Background(), sl.ID, "user-1", "sess-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if err := react.SweepInactiveOnStreamEnd(context.Background(), sl.ID); err != nil {
		t.Fatalf("SweepInactiveOnStreamEnd: %v", err)
	}

	count, err := react.ReconcileViewerCounts(context.Background(), sl.ID)
	if err != nil {
		t.Fatalf("ReconcileViewerCounts: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 after sweeping", count)
	}
}
