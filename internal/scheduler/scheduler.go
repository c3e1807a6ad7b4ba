// Package scheduler implements the Slot Scheduler & Quota Enforcer (§4.1):
// booking, conflict detection, per-DJ daily/weekly quotas, and the schedule
// query surface. Grounded on the station's internal/playlist/master.go
// lifecycle-management idiom (locked mutation of in-memory collections with
// explicit invariant re-checks after structural changes), generalized from
// "time-tag playlists" to "time-windowed slots," and on
// internal/playlist/scheduler.go's ticker-with-transition-callback shape for
// the periodic sweep driven from the session package.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/cache"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/credential"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/pubsub"
	"github.com/afterhours-fm/afterhours/internal/store"
)

const (
	CollectionSlots       = "livestreamSlots"
	CollectionAllowances  = "djAllowances"
	CollectionUsage       = "userUsage"
	CollectionArtists     = "artists"
	CollectionSubs        = "users"
	CollectionEventReqs   = "event-requests"

	TopicScheduleChanged = "schedule-changed"
)

// Config carries §4.1/§6 tunables.
type Config struct {
	DefaultDailyHours  int
	DefaultWeeklySlots int
	Location           *time.Location // for the daily-hours-cap "calendar day" boundary

	AllowGoLiveNow   bool
	AllowGoLiveAfter bool
	AllowTakeover    bool
}

// Scheduler owns slot booking, quota enforcement, and schedule queries.
type Scheduler struct {
	store store.Store
	cred  *credential.Service
	bus   pubsub.Bus
	clk   clock.Clock
	cfg   Config
	log   *slog.Logger

	cache *cache.LRU
}

func New(st store.Store, cred *credential.Service, bus pubsub.Bus, clk clock.Clock, cfg Config, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store: st,
		cred:  cred,
		bus:   bus,
		clk:   clk,
		cfg:   cfg,
		log:   log,
		cache: cache.New(100, 5*time.Second),
	}
}

// BookRequest is the input to Book.
type BookRequest struct {
	DJID        string
	DJName      string
	Start       time.Time
	DurationMin int
	Title       string
	Genre       string
	Description string
}

// Book creates a scheduled slot after validating duration, horizon,
// conflicts, and quotas (§4.1 Book).
func (s *Scheduler) Book(ctx context.Context, req BookRequest) (*domain.Slot, error) {
	now := s.clk.Now()

	if !domain.AllowedDurationsMinutes[req.DurationMin] {
		return nil, apperr.New(apperr.KindInvalidRequest, "duration must be one of 30,45,60,120,180,240 minutes")
	}
	if req.Start.Before(now) {
		return nil, apperr.New(apperr.KindInvalidRequest, "start time is in the past")
	}
	if req.Start.After(now.AddDate(0, 0, 30)) {
		return nil, apperr.New(apperr.KindInvalidRequest, "start time is beyond the 30-day booking horizon")
	}

	if err := s.checkArtistApproved(ctx, req.DJID); err != nil {
		return nil, err
	}

	end := req.Start.Add(time.Duration(req.DurationMin) * time.Minute)

	existing, err := s.allSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}

	if conflict := findConflict(existing, req.Start, end, ""); conflict != nil {
		return nil, apperr.Newf(apperr.KindConflict, "overlaps an existing booking by %s", conflict.DJName)
	}

	if err := s.checkDailyCap(ctx, existing, req.DJID, req.Start, req.DurationMin, now); err != nil {
		return nil, err
	}
	if err := s.checkWeeklyCap(ctx, existing, req.DJID, req.Start, now); err != nil {
		return nil, err
	}

	slotID := uuid.NewString()
	key := s.cred.Generate(req.DJID, slotID, req.Start, end)

	slot := &domain.Slot{
		ID:          slotID,
		DJID:        req.DJID,
		DJName:      req.DJName,
		Start:       req.Start,
		End:         end,
		Duration:    req.DurationMin,
		Status:      domain.StatusScheduled,
		StreamKey:   key,
		Title:       req.Title,
		Genre:       req.Genre,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.writeNewSlot(ctx, slot, existing, req.Start, end); err != nil {
		return nil, err
	}

	s.invalidateAndAnnounce(ctx)
	return slot, nil
}

// writeNewSlot implements the read-verify-compensate discipline from §4.1's
// Failure semantics: write the candidate, then re-read and verify no other
// write won the race; on loss, delete the candidate and return Conflict.
func (s *Scheduler) writeNewSlot(ctx context.Context, slot *domain.Slot, preWriteSnapshot []domain.Slot, start, end time.Time) error {
	raw, err := json.Marshal(slot)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal slot", err)
	}
	if err := s.store.Set(ctx, CollectionSlots, slot.ID, raw); err != nil {
		return apperr.Wrap(apperr.KindTransport, "write slot", err)
	}

	after, err := s.allSlots(ctx)
	if err != nil {
		// Can't verify; leave the write in place rather than risk deleting a
		// winning write based on a failed read.
		s.log.Warn("scheduler: post-write verification read failed", "err", err)
		return nil
	}
	for _, other := range after {
		if other.ID == slot.ID {
			continue
		}
		if !domain.NonTerminalForConflict[other.Status] {
			continue
		}
		if other.Overlaps(start, end) && other.CreatedAt.Before(slot.CreatedAt) {
			_ = s.store.Delete(ctx, CollectionSlots, slot.ID)
			return apperr.Newf(apperr.KindConflict, "lost race to an overlapping booking by %s", other.DJName)
		}
	}
	_ = preWriteSnapshot
	return nil
}

func findConflict(existing []domain.Slot, start, end time.Time, excludeID string) *domain.Slot {
	for i := range existing {
		sl := &existing[i]
		if sl.ID == excludeID {
			continue
		}
		if !domain.NonTerminalForConflict[sl.Status] {
			continue
		}
		if sl.Overlaps(start, end) {
			return sl
		}
	}
	return nil
}

func (s *Scheduler) checkArtistApproved(ctx context.Context, djID string) error {
	raw, err := s.store.Get(ctx, CollectionArtists, djID)
	if err == store.ErrNotFound {
		return apperr.New(apperr.KindForbidden, "DJ profile not approved")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "load artist profile", err)
	}
	var profile domain.ArtistProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return apperr.Wrap(apperr.KindInternal, "decode artist profile", err)
	}
	if !profile.Approved {
		return apperr.New(apperr.KindForbidden, "DJ profile not approved")
	}
	if profile.Suspended {
		return apperr.New(apperr.KindForbidden, "DJ account suspended")
	}
	if profile.Banned {
		return apperr.New(apperr.KindForbidden, "DJ account banned")
	}
	return nil
}

func (s *Scheduler) allowanceFor(ctx context.Context, djID string) (*domain.DJAllowanceOverride, error) {
	raw, err := s.store.Get(ctx, CollectionAllowances, djID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a domain.DJAllowanceOverride
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Scheduler) subscriptionFor(ctx context.Context, userID string) (*domain.Subscription, error) {
	raw, err := s.store.Get(ctx, CollectionSubs, userID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sub domain.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// checkDailyCap enforces §4.1's daily-hours cap.
func (s *Scheduler) checkDailyCap(ctx context.Context, existing []domain.Slot, djID string, candidateStart time.Time, candidateMin int, now time.Time) error {
	loc := s.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	day := candidateStart.In(loc).Format("2006-01-02")

	var usedMinutes int
	for _, sl := range existing {
		if sl.DJID != djID || !domain.DailyCapStatuses[sl.Status] {
			continue
		}
		if sl.Start.In(loc).Format("2006-01-02") == day {
			usedMinutes += sl.Duration
		}
	}

	allowance, err := s.allowanceFor(ctx, djID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "load allowance", err)
	}
	sub, err := s.subscriptionFor(ctx, djID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "load subscription", err)
	}
	// DefaultDailyHours configures the Pro-tier base; free accounts get half (§4.1: 120min/60min).
	baseHours := s.cfg.DefaultDailyHours
	if !sub.IsPro(now) {
		baseHours /= 2
	}
	if allowance != nil && allowance.MaxHoursPerDay > 0 {
		baseHours = allowance.MaxHoursPerDay
	}

	approvedEventMinutes, err := s.approvedEventMinutes(ctx, djID, day)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "load event requests", err)
	}

	capMinutes := baseHours*60 + approvedEventMinutes
	if usedMinutes+candidateMin > capMinutes {
		return apperr.New(apperr.KindQuotaExceeded, "daily streaming hours cap exceeded").
			WithHint("needsUpgrade", !sub.IsPro(now)).
			WithHint("canRequestEvent", true)
	}
	return nil
}

func (s *Scheduler) approvedEventMinutes(ctx context.Context, djID, day string) (int, error) {
	matches, err := s.store.Query(ctx, CollectionEventReqs, func(key string, value []byte) bool {
		var er domain.EventRequest
		if json.Unmarshal(value, &er) != nil {
			return false
		}
		return er.UserID == djID && er.EventDate == day && er.Approved
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, raw := range matches {
		var er domain.EventRequest
		if json.Unmarshal(raw, &er) == nil {
			total += 60 * er.HoursRequested
		}
	}
	return total, nil
}

// checkWeeklyCap enforces §4.1's weekly-slots cap.
func (s *Scheduler) checkWeeklyCap(ctx context.Context, existing []domain.Slot, djID string, candidateStart, now time.Time) error {
	isoYear, isoWeek := candidateStart.ISOWeek()

	count := 0
	for _, sl := range existing {
		if sl.DJID != djID || !domain.WeeklyCapStatuses[sl.Status] {
			continue
		}
		y, w := sl.Start.ISOWeek()
		if y == isoYear && w == isoWeek {
			count++
		}
	}

	allowance, err := s.allowanceFor(ctx, djID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "load allowance", err)
	}
	cap := s.cfg.DefaultWeeklySlots
	if allowance != nil && allowance.WeeklySlots > 0 {
		cap = allowance.WeeklySlots
	}
	if count >= cap {
		return apperr.New(apperr.KindQuotaExceeded, "weekly booking slots cap exceeded").
			WithHint("needsUpgrade", true)
	}
	return nil
}

func (s *Scheduler) allSlots(ctx context.Context) ([]domain.Slot, error) {
	raw, err := s.store.Query(ctx, CollectionSlots, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Slot, 0, len(raw))
	for _, v := range raw {
		var sl domain.Slot
		if err := json.Unmarshal(v, &sl); err != nil {
			continue
		}
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (s *Scheduler) getSlot(ctx context.Context, slotID string) (*domain.Slot, error) {
	raw, err := s.store.Get(ctx, CollectionSlots, slotID)
	if err == store.ErrNotFound {
		return nil, apperr.New(apperr.KindNotFound, "slot not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slot", err)
	}
	var sl domain.Slot
	if err := json.Unmarshal(raw, &sl); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode slot", err)
	}
	return &sl, nil
}

func (s *Scheduler) saveSlot(ctx context.Context, sl *domain.Slot) error {
	sl.UpdatedAt = s.clk.Now()
	raw, err := json.Marshal(sl)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal slot", err)
	}
	if err := s.store.Set(ctx, CollectionSlots, sl.ID, raw); err != nil {
		return apperr.Wrap(apperr.KindTransport, "write slot", err)
	}
	s.invalidateAndAnnounce(ctx)
	return nil
}

func (s *Scheduler) invalidateAndAnnounce(ctx context.Context) {
	s.cache.InvalidateAll()
	if err := s.bus.Publish(ctx, TopicScheduleChanged, "schedule-changed", map[string]any{"timestamp": s.clk.Now()}); err != nil {
		s.log.Warn("scheduler: publish schedule-changed failed", "err", err)
	}
}

// QueryWindow is the result of QuerySchedule.
type QueryWindow struct {
	Slots       []domain.Slot `json:"slots"`
	CurrentLive *domain.Slot  `json:"currentLive,omitempty"`
	Upcoming    []domain.Slot `json:"upcoming"`
}

// QuerySchedule returns slots within [start,end), optionally filtered by
// djID, answered from the schedule cache when possible (§4.1 Cache).
func (s *Scheduler) QuerySchedule(ctx context.Context, start, end time.Time, djID string) (*QueryWindow, error) {
	cacheKey := fmt.Sprintf("%d|%d|%s", start.Unix(), end.Unix(), djID)
	if cached, ok := s.cache.Get(cacheKey); ok {
		var qw QueryWindow
		if err := json.Unmarshal(cached, &qw); err == nil {
			return &qw, nil
		}
	}

	all, err := s.allSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}

	now := s.clk.Now()
	qw := QueryWindow{}
	for _, sl := range all {
		if djID != "" && sl.DJID != djID {
			continue
		}
		if sl.Status == domain.StatusLive {
			slCopy := sl
			qw.CurrentLive = &slCopy
		}
		if sl.Start.After(now) && domain.NonTerminalForConflict[sl.Status] {
			qw.Upcoming = append(qw.Upcoming, sl)
		}
		if sl.Start.Before(end) && sl.End.After(start) {
			qw.Slots = append(qw.Slots, sl)
		}
	}

	raw, err := json.Marshal(qw)
	if err == nil {
		s.cache.Set(cacheKey, raw)
	}
	return &qw, nil
}

// History returns completed/cancelled slots, newest first.
func (s *Scheduler) History(ctx context.Context, djID string) ([]domain.Slot, error) {
	all, err := s.allSlots(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load slots", err)
	}
	var out []domain.Slot
	for _, sl := range all {
		if djID != "" && sl.DJID != djID {
			continue
		}
		if sl.Status == domain.StatusCompleted || sl.Status == domain.StatusCancelled || sl.Status == domain.StatusFailed || sl.Status == domain.StatusMissed {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	return out, nil
}

func ceilDiv(a, b int64) int64 {
	return int64(math.Ceil(float64(a) / float64(b)))
}
