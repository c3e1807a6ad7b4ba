// Package admin implements the allowance and chat-cleanup admin CRUD
// surface (§6): thin operations directly over internal/store, gated by the
// caller already having passed internal/api's adminOnly middleware. Not a
// component of its own in spec.md beyond the HTTP table — specified in full
// here (SPEC_FULL.md §3.16).
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
	"github.com/afterhours-fm/afterhours/internal/store"
)

const CollectionChatCleanup = "chatCleanupSchedule"

// Service owns allowance overrides and chat-cleanup job scheduling.
type Service struct {
	store store.Store
	clk   clock.Clock
	log   *slog.Logger
}

func New(st store.Store, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{store: st, clk: clk, log: log}
}

// ListAllowances returns every DJ allowance override on file.
func (s *Service) ListAllowances(ctx context.Context) ([]domain.DJAllowanceOverride, error) {
	raw, err := s.store.Query(ctx, scheduler.CollectionAllowances, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "query allowances", err)
	}
	out := make([]domain.DJAllowanceOverride, 0, len(raw))
	for _, v := range raw {
		var a domain.DJAllowanceOverride
		if json.Unmarshal(v, &a) == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpsertAllowance creates or replaces a DJ's allowance override.
func (s *Service) UpsertAllowance(ctx context.Context, a domain.DJAllowanceOverride) error {
	if a.DJID == "" {
		return apperr.New(apperr.KindInvalidRequest, "djId is required")
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal allowance", err)
	}
	if err := s.store.Set(ctx, scheduler.CollectionAllowances, a.DJID, raw); err != nil {
		return apperr.Wrap(apperr.KindTransport, "write allowance", err)
	}
	return nil
}

// DeleteAllowance removes a DJ's allowance override, reverting them to the
// configured defaults.
func (s *Service) DeleteAllowance(ctx context.Context, djID string) error {
	if err := s.store.Delete(ctx, scheduler.CollectionAllowances, djID); err != nil && err != store.ErrNotFound {
		return apperr.Wrap(apperr.KindTransport, "delete allowance", err)
	}
	return nil
}

// ListChatCleanupJobs returns every scheduled/completed cleanup job.
func (s *Service) ListChatCleanupJobs(ctx context.Context) ([]domain.ChatCleanupJob, error) {
	raw, err := s.store.Query(ctx, CollectionChatCleanup, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "query chat cleanup jobs", err)
	}
	out := make([]domain.ChatCleanupJob, 0, len(raw))
	for _, v := range raw {
		var j domain.ChatCleanupJob
		if json.Unmarshal(v, &j) == nil {
			out = append(out, j)
		}
	}
	return out, nil
}

// ScheduleChatCleanup schedules a purge job for streamID at cleanupAt.
// Idempotent: re-scheduling an existing pending job just updates its time.
func (s *Service) ScheduleChatCleanup(ctx context.Context, streamID string, cleanupAt time.Time) (*domain.ChatCleanupJob, error) {
	if streamID == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "streamId is required")
	}
	job := domain.ChatCleanupJob{
		StreamID: streamID, ScheduledAt: s.clk.Now(), CleanupAt: cleanupAt, Status: domain.CleanupPending,
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal cleanup job", err)
	}
	if err := s.store.Set(ctx, CollectionChatCleanup, streamID, raw); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write cleanup job", err)
	}
	return &job, nil
}

// CancelChatCleanup removes a pending cleanup job. A no-op if the job has
// already executed or doesn't exist.
func (s *Service) CancelChatCleanup(ctx context.Context, streamID string) error {
	raw, err := s.store.Get(ctx, CollectionChatCleanup, streamID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "load cleanup job", err)
	}
	var job domain.ChatCleanupJob
	if json.Unmarshal(raw, &job) == nil && job.Status != domain.CleanupPending {
		return nil
	}
	if err := s.store.Delete(ctx, CollectionChatCleanup, streamID); err != nil && err != store.ErrNotFound {
		return apperr.Wrap(apperr.KindTransport, "delete cleanup job", err)
	}
	return nil
}

// ExecuteDueChatCleanups marks every pending job whose cleanupAt has
// arrived as completed. The actual chat-message deletion is owned by
// whatever chat subsystem exists outside this module's scope; this records
// the authoritative schedule state only (messagesDeleted left at its
// caller-supplied value, since this module does not own chat storage).
func (s *Service) ExecuteDueChatCleanups(ctx context.Context) (int, error) {
	now := s.clk.Now()
	jobs, err := s.ListChatCleanupJobs(ctx)
	if err != nil {
		return 0, err
	}
	executed := 0
	for _, job := range jobs {
		if job.Status != domain.CleanupPending || job.CleanupAt.After(now) {
			continue
		}
		job.Status = domain.CleanupCompleted
		raw, err := json.Marshal(job)
		if err != nil {
			continue
		}
		if err := s.store.Set(ctx, CollectionChatCleanup, job.StreamID, raw); err != nil {
			s.log.Warn("admin: chat cleanup execute write failed", "streamId", job.StreamID, "err", err)
			continue
		}
		executed++
	}
	return executed, nil
}
