package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/store"
)

// GoLiveNowRequest is the input to GoLiveNow.
type GoLiveNowRequest struct {
	DJID        string
	DJName      string
	Title       string
	Genre       string
	DurationMin int // defaults to 60 if zero
}

// GoLiveNow creates and immediately starts a live slot (§4.1 GoLiveNow).
func (s *Scheduler) GoLiveNow(ctx context.Context, req GoLiveNowRequest) (*domain.Slot, error) {
	if !s.cfg.AllowGoLiveNow {
		return nil, apperr.New(apperr.KindForbidden, "go-live-now is disabled")
	}
	if err := s.checkArtistApproved(ctx, req.DJID); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	dur := req.DurationMin
	if dur == 0 {
		dur = 60
	}
	end := now.Add(time.Duration(dur) * time.Minute)

	existing, err := s.allSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}
	for _, sl := range existing {
		if sl.Status == domain.StatusLive {
			return nil, apperr.New(apperr.KindConflict, "another stream is already live")
		}
	}
	if conflict := findConflict(existing, now, now.Add(5*time.Minute), ""); conflict != nil {
		return nil, apperr.Newf(apperr.KindConflict, "a booking by %s begins within 5 minutes", conflict.DJName)
	}

	slotID := uuid.NewString()
	key := s.cred.Generate(req.DJID, slotID, now, end)
	slot := &domain.Slot{
		ID: slotID, DJID: req.DJID, DJName: req.DJName,
		Start: now, End: end, Duration: dur,
		Status: domain.StatusLive, StreamKey: key,
		Title: req.Title, Genre: req.Genre,
		CreatedAt: now, UpdatedAt: now, StartedAt: &now,
	}
	raw, err := json.Marshal(slot)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal slot", err)
	}
	if err := s.store.Set(ctx, CollectionSlots, slot.ID, raw); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write slot", err)
	}
	s.invalidateAndAnnounce(ctx)
	return slot, nil
}

// GoLiveAfterRequest is the input to GoLiveAfter.
type GoLiveAfterRequest struct {
	DJID, DJName string
	DurationMin  int
	Title, Genre string
}

// GoLiveAfter queues a slot immediately behind the current live stream
// (§4.1 GoLiveAfter).
func (s *Scheduler) GoLiveAfter(ctx context.Context, req GoLiveAfterRequest) (*domain.Slot, error) {
	if !s.cfg.AllowGoLiveAfter {
		return nil, apperr.New(apperr.KindForbidden, "go-live-after is disabled")
	}
	if !domain.AllowedDurationsMinutes[req.DurationMin] {
		return nil, apperr.New(apperr.KindInvalidRequest, "invalid duration")
	}
	if err := s.checkArtistApproved(ctx, req.DJID); err != nil {
		return nil, err
	}

	existing, err := s.allSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}
	var live *domain.Slot
	for i := range existing {
		if existing[i].Status == domain.StatusLive {
			sl := existing[i]
			live = &sl
		}
	}
	if live == nil {
		return nil, apperr.New(apperr.KindConflict, "no active stream to queue after")
	}

	start := live.End
	end := start.Add(time.Duration(req.DurationMin) * time.Minute)
	if conflict := findConflict(existing, start, start.Add(5*time.Minute), live.ID); conflict != nil {
		return nil, apperr.Newf(apperr.KindConflict, "insufficient gap before %s's booking", conflict.DJName)
	}

	slotID := uuid.NewString()
	key := s.cred.Generate(req.DJID, slotID, start, end)
	now := s.clk.Now()
	slot := &domain.Slot{
		ID: slotID, DJID: req.DJID, DJName: req.DJName,
		Start: start, End: end, Duration: req.DurationMin,
		Status: domain.StatusQueued, StreamKey: key,
		Title: req.Title, Genre: req.Genre,
		QueuedAfter: live.ID,
		CreatedAt:   now, UpdatedAt: now,
	}
	raw, err := json.Marshal(slot)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal slot", err)
	}
	if err := s.store.Set(ctx, CollectionSlots, slot.ID, raw); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write slot", err)
	}
	s.invalidateAndAnnounce(ctx)
	return slot, nil
}

// EarlyStart rewrites the caller's next upcoming slot to start now (§4.1
// EarlyStart), regenerating its stream key since the signature binds to
// startTime.
func (s *Scheduler) EarlyStart(ctx context.Context, djID string) (*domain.Slot, error) {
	now := s.clk.Now()
	existing, err := s.allSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}

	var target *domain.Slot
	for i := range existing {
		sl := &existing[i]
		if sl.DJID != djID || sl.Status != domain.StatusScheduled {
			continue
		}
		if sl.Start.After(now) && sl.Start.Before(now.Add(2*time.Hour)) {
			if target == nil || sl.Start.Before(target.Start) {
				cp := *sl
				target = &cp
			}
		}
	}
	if target == nil {
		return nil, apperr.New(apperr.KindNotFound, "no upcoming slot within the next 2 hours")
	}

	for _, sl := range existing {
		if sl.Status == domain.StatusLive {
			return nil, apperr.New(apperr.KindConflict, "another stream is already live")
		}
	}

	newEnd := now.Add(time.Duration(target.Duration) * time.Minute)
	if conflict := findConflict(existing, now, newEnd, target.ID); conflict != nil {
		return nil, apperr.Newf(apperr.KindConflict, "overlaps booking by %s", conflict.DJName)
	}

	original := target.Start
	target.OriginalStartTime = &original
	target.Start = now
	target.End = newEnd
	target.StreamKey = s.cred.Generate(target.DJID, target.ID, now, newEnd)

	if err := s.saveSlot(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// Cancel transitions a slot to cancelled (§4.1 Cancel). Repeat cancels on an
// already-terminal slot are a no-op, per §8's idempotence law.
func (s *Scheduler) Cancel(ctx context.Context, slotID, callerID string, isAdmin bool) (*domain.Slot, error) {
	sl, err := s.getSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if isTerminal(sl.Status) {
		return sl, nil
	}
	if sl.DJID != callerID && !isAdmin {
		return nil, apperr.New(apperr.KindForbidden, "not the slot owner")
	}
	now := s.clk.Now()
	sl.Status = domain.StatusCancelled
	sl.CancelledAt = &now
	if err := s.saveSlot(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

func isTerminal(status domain.SlotStatus) bool {
	switch status {
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusMissed, domain.StatusCancelled:
		return true
	}
	return false
}

// EndStream transitions a live slot to completed, records usage, and
// promotes the next queued slot if one is waiting behind it (§4.1
// EndStream, "GoLiveAfter queues...").
func (s *Scheduler) EndStream(ctx context.Context, slotID, callerID string, isAdmin bool) (*domain.Slot, error) {
	sl, err := s.getSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if sl.DJID != callerID && !isAdmin {
		return nil, apperr.New(apperr.KindForbidden, "not the slot owner")
	}
	now := s.clk.Now()
	sl.Status = domain.StatusCompleted
	sl.EndedAt = &now
	sl.EndReason = "manual_end"
	if err := s.saveSlot(ctx, sl); err != nil {
		return nil, err
	}

	if sl.StartedAt != nil {
		minutes := ceilDiv(int64(now.Sub(*sl.StartedAt).Seconds()), 60)
		if err := s.recordUsage(ctx, sl.DJID, minutes, now); err != nil {
			s.log.Warn("scheduler: usage recording failed", "err", err)
		}
	}

	if err := s.promoteQueuedAfter(ctx, sl.ID, now); err != nil {
		s.log.Warn("scheduler: queue promotion failed", "err", err)
	}
	return sl, nil
}

// promoteQueuedAfter implements the read-verify-compensate promotion
// pattern for the one slot (if any) queued behind endingSlotID.
func (s *Scheduler) promoteQueuedAfter(ctx context.Context, endingSlotID string, now time.Time) error {
	all, err := s.allSlots(ctx)
	if err != nil {
		return err
	}
	for _, sl := range all {
		if sl.Status == domain.StatusQueued && sl.QueuedAfter == endingSlotID {
			doc, err := s.store.GetWithVersion(ctx, CollectionSlots, sl.ID)
			if err != nil {
				return err
			}
			var current domain.Slot
			if err := json.Unmarshal(doc.Value, &current); err != nil {
				return err
			}
			if current.Status != domain.StatusQueued {
				return nil // someone else already promoted or cancelled it
			}
			current.Status = domain.StatusLive
			current.Start = now
			current.StartedAt = &now
			current.UpdatedAt = now
			raw, err := json.Marshal(current)
			if err != nil {
				return err
			}
			if err := s.store.UpdateIfVersion(ctx, CollectionSlots, sl.ID, doc.Version, raw); err != nil {
				if err == store.ErrVersionConflict {
					return nil // lost the race; whoever won handles it
				}
				return err
			}
			s.invalidateAndAnnounce(ctx)
			return nil
		}
	}
	return nil
}

func (s *Scheduler) recordUsage(ctx context.Context, djID string, minutes int64, now time.Time) error {
	today := now.Format("2006-01-02")
	return s.store.Update(ctx, CollectionUsage, djID, func(current []byte, found bool) ([]byte, error) {
		u := domain.UserUsage{UserID: djID, DayDate: today}
		if found {
			if err := json.Unmarshal(current, &u); err == nil && u.DayDate == today {
				// keep accumulated minutes
			} else {
				u = domain.UserUsage{UserID: djID, DayDate: today}
			}
		}
		u.StreamMinutesToday += int(minutes)
		return json.Marshal(u)
	})
}

// GetStreamKey returns the stream key and ingest/playback URLs for a slot
// the caller owns, if within the user-facing reveal/grace window (§4.1
// GetStreamKey).
func (s *Scheduler) GetStreamKey(ctx context.Context, slotID, djID string) (*domain.Slot, string, string, error) {
	sl, err := s.getSlot(ctx, slotID)
	if err != nil {
		return nil, "", "", err
	}
	if sl.DJID != djID {
		return nil, "", "", apperr.New(apperr.KindForbidden, "not the slot owner")
	}
	now := s.clk.Now()
	windowStart, windowEnd := s.cred.UserWindow(sl.Start, sl.End)
	if now.Before(windowStart) {
		return nil, "", "", apperr.New(apperr.KindForbidden, "stream key not yet available").
			WithHint("keyAvailableAt", windowStart)
	}
	if now.After(windowEnd) {
		return nil, "", "", apperr.New(apperr.KindForbidden, "stream key has expired")
	}
	return sl, s.cred.RTMPURL(sl.StreamKey), s.cred.HLSURLs(sl.StreamKey).Index, nil
}

// GenerateKey issues an ephemeral stream key for ad-hoc (unbooked)
// streaming, valid until the next hour boundary (§4.1 GenerateKey).
func (s *Scheduler) GenerateKey(ctx context.Context, djID, djName string) (*domain.Slot, error) {
	if err := s.checkArtistApproved(ctx, djID); err != nil {
		return nil, err
	}
	existing, err := s.allSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}
	for _, sl := range existing {
		if sl.Status == domain.StatusLive && sl.DJID != djID {
			return nil, apperr.New(apperr.KindConflict, "another DJ is already streaming")
		}
	}

	now := s.clk.Now()
	nextHourTop := time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, now.Location())

	slotID := uuid.NewString()
	key := s.cred.Generate(djID, slotID, now, nextHourTop)
	slot := &domain.Slot{
		ID: slotID, DJID: djID, DJName: djName,
		Start: now, End: nextHourTop, Duration: int(nextHourTop.Sub(now).Minutes()),
		Status: domain.StatusScheduled, StreamKey: key,
		Title: "Ad-hoc stream", CreatedAt: now, UpdatedAt: now,
	}
	raw, err := json.Marshal(slot)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal slot", err)
	}
	if err := s.store.Set(ctx, CollectionSlots, slot.ID, raw); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write slot", err)
	}
	s.invalidateAndAnnounce(ctx)
	return slot, nil
}

// StartRelay creates a live relay slot sourced from an externally approved
// URL rather than RTMP ingest (§4.1 StartRelay).
func (s *Scheduler) StartRelay(ctx context.Context, djID, djName, relayURL string, durationMin int) (*domain.Slot, error) {
	if relayURL == "" {
		return nil, apperr.New(apperr.KindForbidden, "no approved relay on DJ profile")
	}
	raw, err := s.store.Get(ctx, CollectionArtists, djID)
	if err == store.ErrNotFound {
		return nil, apperr.New(apperr.KindForbidden, "no approved relay on DJ profile")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load artist profile", err)
	}
	var profile domain.ArtistProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode artist profile", err)
	}
	if profile.ApprovedRelayURL == "" || profile.ApprovedRelayURL != relayURL {
		return nil, apperr.New(apperr.KindForbidden, "no approved relay on DJ profile")
	}
	existing, err := s.allSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}
	for _, sl := range existing {
		if sl.Status == domain.StatusLive {
			return nil, apperr.New(apperr.KindConflict, "another stream is already live")
		}
	}
	if durationMin == 0 {
		durationMin = 60
	}
	now := s.clk.Now()
	end := now.Add(time.Duration(durationMin) * time.Minute)
	slotID := uuid.NewString()
	slot := &domain.Slot{
		ID: slotID, DJID: djID, DJName: djName,
		Start: now, End: end, Duration: durationMin,
		Status: domain.StatusLive, IsRelay: true,
		RelaySource: &domain.RelaySource{URL: relayURL},
		CreatedAt:   now, UpdatedAt: now, StartedAt: &now,
	}
	raw, err := json.Marshal(slot)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal slot", err)
	}
	if err := s.store.Set(ctx, CollectionSlots, slot.ID, raw); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write slot", err)
	}
	s.invalidateAndAnnounce(ctx)
	return slot, nil
}
