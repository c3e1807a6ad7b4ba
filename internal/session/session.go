// Package session implements the Live-Session State Machine (§4.3):
// stream-key validation at the ingest edge, webhook reconciliation, the
// periodic auto-switchover tick, and the countdown/key-reveal query
// surface. The periodic tick is grounded directly on the station's
// internal/playlist/scheduler.go Scheduler.Start/check ticker-with-
// transition-callback idiom — the closest 1:1 grounding in the whole
// teacher repository.
package session

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/credential"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/pubsub"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
)

const (
	TopicLivestream = "livestreams" // denormalized projection collection name
)

func StreamTopic(slotID string) string { return "stream-" + slotID }

// Config carries §4.3/§6 tunables.
type Config struct {
	SessionEndCountdown time.Duration // default 10s
}

// Service owns status transitions and the public "current-live" projection.
type Service struct {
	sched *scheduler.Scheduler
	cred  *credential.Service
	bus   pubsub.Bus
	clk   clock.Clock
	cfg   Config
	log   *slog.Logger
}

func New(sched *scheduler.Scheduler, cred *credential.Service, bus pubsub.Bus, clk clock.Clock, cfg Config, log *slog.Logger) *Service {
	return &Service{sched: sched, cred: cred, bus: bus, clk: clk, cfg: cfg, log: log}
}

// ValidateStreamKey implements §4.2's 9-step validation at the ingest edge.
func (s *Service) ValidateStreamKey(ctx context.Context, key string) (*domain.Slot, error) {
	if _, err := s.cred.Parse(key); err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "malformed stream key", err)
	}

	sl, err := s.sched.FindSlotByStreamKey(ctx, key)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "no slot matches this stream key")
	}

	if !domain.ValidKeyStatuses[sl.Status] {
		return nil, apperr.Newf(apperr.KindForbidden, "slot is %s, not publishable", sl.Status)
	}
	if sl.Status == domain.StatusCancelled {
		return nil, apperr.New(apperr.KindForbidden, "slot was cancelled")
	}

	now := s.clk.Now()
	windowStart, windowEnd := s.cred.Window(sl.Start, sl.End)
	if now.Before(windowStart) {
		return nil, apperr.Newf(apperr.KindForbidden, "too early, valid in %s", windowStart.Sub(now)).
			WithHint("minutesUntilValid", int(windowStart.Sub(now).Minutes()))
	}
	if now.After(windowEnd) {
		return nil, apperr.New(apperr.KindForbidden, "stream key has expired")
	}

	profile, err := s.sched.ArtistProfile(ctx, sl.DJID)
	if err == nil && profile != nil {
		if profile.Suspended {
			return nil, apperr.New(apperr.KindForbidden, "DJ suspended")
		}
		if profile.Banned {
			return nil, apperr.New(apperr.KindForbidden, "DJ banned")
		}
	}

	// Non-critical side effect: mark connecting. Must never change the
	// accept outcome on failure (§4.2 step 9).
	if sl.Status == domain.StatusScheduled || sl.Status == domain.StatusInLobby {
		cp := *sl
		cp.Status = domain.StatusConnecting
		if err := s.sched.SaveSlot(ctx, &cp); err != nil {
			s.log.Warn("session: failed to mark slot connecting", "slotId", sl.ID, "err", err)
		}
	}

	return sl, nil
}

// WebhookEvent is the ingest server's reconciliation payload (§4.2).
type WebhookEvent struct {
	Event     string         `json:"event"`
	StreamKey string         `json:"streamKey"`
	Timestamp time.Time      `json:"timestamp"`
	ClientIP  string         `json:"clientIp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ProcessWebhook reconciles one ingest webhook event (§4.2). The caller
// (the HTTP handler) always responds 200 regardless of the returned error,
// per §4.2's "must always respond 200...errors are logged."
func (s *Service) ProcessWebhook(ctx context.Context, ev WebhookEvent) error {
	sl, err := s.sched.FindSlotByStreamKey(ctx, ev.StreamKey)
	if err != nil {
		s.log.Warn("session: webhook for unknown stream key", "event", ev.Event)
		return nil
	}

	switch ev.Event {
	case "publish":
		return s.handlePublish(ctx, sl)
	case "unpublish":
		return s.handleUnpublish(ctx, sl)
	case "viewer_join":
		return s.bumpViewers(ctx, sl, 1)
	case "viewer_leave":
		return s.bumpViewers(ctx, sl, -1)
	case "record_start", "record_stop":
		s.log.Info("session: recording event", "event", ev.Event, "slotId", sl.ID)
		return nil
	default:
		s.log.Warn("session: unknown webhook event", "event", ev.Event)
		return nil
	}
}

func (s *Service) handlePublish(ctx context.Context, sl *domain.Slot) error {
	now := s.clk.Now()
	sl.Status = domain.StatusLive
	sl.StartedAt = &now
	if err := s.sched.SaveSlot(ctx, sl); err != nil {
		return err
	}
	s.upsertLivestreamProjection(ctx, sl, true)
	return nil
}

func (s *Service) handleUnpublish(ctx context.Context, sl *domain.Slot) error {
	now := s.clk.Now()
	if now.Before(sl.End) {
		sl.Status = domain.StatusFailed
		sl.EndReason = "disconnected"
	} else {
		sl.Status = domain.StatusCompleted
		sl.EndReason = "scheduled_end"
	}
	sl.EndedAt = &now
	if err := s.sched.SaveSlot(ctx, sl); err != nil {
		return err
	}
	s.upsertLivestreamProjection(ctx, sl, false)
	return nil
}

func (s *Service) bumpViewers(ctx context.Context, sl *domain.Slot, delta int) error {
	sl.CurrentViewers += delta
	if sl.CurrentViewers < 0 {
		sl.CurrentViewers = 0
	}
	if delta > 0 {
		sl.TotalViews++
		if sl.CurrentViewers > sl.ViewerPeak {
			sl.ViewerPeak = sl.CurrentViewers
		}
	}
	if err := s.sched.SaveSlot(ctx, sl); err != nil {
		return err
	}
	s.publishViewerUpdate(ctx, sl)
	return nil
}

// upsertLivestreamProjection is a best-effort denormalized write; its
// failure never fails the authoritative transition (§9 "duplicated legacy
// collections").
func (s *Service) upsertLivestreamProjection(ctx context.Context, sl *domain.Slot, live bool) {
	_ = ctx
	_ = sl
	_ = live
	// The denormalized livestreams/<autoid> record is materialized by the
	// api package's status handler directly from authoritative slots; kept
	// here as the documented hook point so a future on-disk projection can
	// be added without touching the FSM.
}

func (s *Service) publishViewerUpdate(ctx context.Context, sl *domain.Slot) {
	err := s.bus.Publish(ctx, StreamTopic(sl.ID), "viewer-update", map[string]any{
		"currentViewers": sl.CurrentViewers,
		"peakViewers":    sl.ViewerPeak,
		"timestamp":      s.clk.Now(),
	})
	if err != nil {
		s.log.Warn("session: publish viewer-update failed", "err", err)
	}
}

func (s *Service) PublishLikeUpdate(ctx context.Context, sl *domain.Slot) {
	err := s.bus.Publish(ctx, StreamTopic(sl.ID), "like-update", map[string]any{
		"totalLikes": sl.TotalLikes,
		"timestamp":  s.clk.Now(),
	})
	if err != nil {
		s.log.Warn("session: publish like-update failed", "err", err)
	}
}

// Tick runs the periodic auto-switchover checks (§4.3), in order. A failed
// transition write is logged and left for the next cycle; Tick continues past
// any single failing slot rather than aborting.
func (s *Service) Tick(ctx context.Context) {
	now := s.clk.Now()
	all, err := s.sched.AllSlots(ctx)
	if err != nil {
		s.log.Warn("session: tick failed to load slots", "err", err)
		return
	}

	// 1. Live slot past endTime -> completed, then promote next in_lobby.
	var liveSlot *domain.Slot
	for i := range all {
		if all[i].Status == domain.StatusLive {
			liveSlot = &all[i]
			break
		}
	}
	if liveSlot != nil && !now.Before(liveSlot.End) {
		cp := *liveSlot
		cp.Status = domain.StatusCompleted
		cp.EndedAt = &now
		cp.EndReason = "scheduled_end"
		if err := s.sched.SaveSlot(ctx, &cp); err != nil {
			s.log.Warn("session: tick completion write failed", "slotId", cp.ID, "err", err)
		} else {
			liveSlot = nil
			s.promoteFirstInLobby(ctx, all, now)
		}
	}

	// 2. No live slot -> promote first in_lobby slot whose start has arrived.
	if liveSlot == nil {
		s.promoteFirstInLobby(ctx, all, now)
	}

	// 3. scheduled slots past endTime with nobody ever having joined -> missed.
	for i := range all {
		sl := &all[i]
		if sl.Status == domain.StatusScheduled && sl.End.Before(now) {
			cp := *sl
			cp.Status = domain.StatusMissed
			if err := s.sched.SaveSlot(ctx, &cp); err != nil {
				s.log.Warn("session: tick missed-write failed", "slotId", cp.ID, "err", err)
			}
		}
	}
}

func (s *Service) promoteFirstInLobby(ctx context.Context, all []domain.Slot, now time.Time) {
	var candidates []domain.Slot
	for _, sl := range all {
		if sl.Status == domain.StatusInLobby && !sl.Start.After(now) {
			candidates = append(candidates, sl)
		}
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Start.Before(candidates[j].Start) })
	winner := candidates[0]
	winner.Status = domain.StatusLive
	winner.StartedAt = &now
	if err := s.sched.SaveSlot(ctx, &winner); err != nil {
		s.log.Warn("session: tick promotion failed", "slotId", winner.ID, "err", err)
	}
}

// KeyRevealStatus answers "when does my key appear?" for the DJ's next
// non-terminal slot (§4.3 Countdown & key-reveal signals).
type KeyRevealStatus struct {
	KeyAvailable   bool          `json:"keyAvailable"`
	TimeUntilKey   time.Duration `json:"timeUntilKey"`
	Slot           *domain.Slot  `json:"slot,omitempty"`
}

func (s *Service) KeyRevealStatus(ctx context.Context, djID string) (*KeyRevealStatus, error) {
	all, err := s.sched.AllSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}
	now := s.clk.Now()
	var next *domain.Slot
	for i := range all {
		sl := &all[i]
		if sl.DJID != djID || isTerminal(sl.Status) {
			continue
		}
		if next == nil || sl.Start.Before(next.Start) {
			cp := *sl
			next = &cp
		}
	}
	if next == nil {
		return &KeyRevealStatus{KeyAvailable: false}, nil
	}
	windowStart, windowEnd := s.cred.UserWindow(next.Start, next.End)
	available := !now.Before(windowStart) && !now.After(windowEnd)
	until := time.Duration(0)
	if now.Before(windowStart) {
		until = windowStart.Sub(now)
	}
	return &KeyRevealStatus{KeyAvailable: available, TimeUntilKey: until, Slot: next}, nil
}

func isTerminal(status domain.SlotStatus) bool {
	switch status {
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusMissed, domain.StatusCancelled:
		return true
	}
	return false
}

// CurrentLiveStatus is "current live, with end-countdown" (§4.3).
type CurrentLiveStatus struct {
	Slot           *domain.Slot  `json:"slot,omitempty"`
	TimeRemaining  time.Duration `json:"timeRemaining"`
	ShowCountdown  bool          `json:"showCountdown"`
}

func (s *Service) CurrentLiveStatus(ctx context.Context) (*CurrentLiveStatus, error) {
	all, err := s.sched.AllSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}
	now := s.clk.Now()
	for i := range all {
		if all[i].Status == domain.StatusLive {
			sl := all[i]
			remaining := sl.End.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			return &CurrentLiveStatus{
				Slot:          &sl,
				TimeRemaining: remaining,
				ShowCountdown: remaining <= s.cfg.SessionEndCountdown,
			}, nil
		}
	}
	return &CurrentLiveStatus{}, nil
}

// CanGoLiveAfter answers "can I go-live-after?" (§4.3): true iff there is a
// live stream and no other non-terminal slot, whoever owns it, starts less
// than 5 minutes after the live slot ends. djID is not consulted.
func (s *Service) CanGoLiveAfter(ctx context.Context, djID string) (bool, error) {
	all, err := s.sched.AllSlots(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}
	var live *domain.Slot
	for i := range all {
		if all[i].Status == domain.StatusLive {
			live = &all[i]
			break
		}
	}
	if live == nil {
		return false, nil
	}
	_ = djID
	gapEnd := live.End.Add(5 * time.Minute)
	for _, sl := range all {
		if sl.ID == live.ID || !domain.NonTerminalForConflict[sl.Status] {
			continue
		}
		if sl.Start.Before(gapEnd) {
			return false, nil
		}
	}
	return true, nil
}
