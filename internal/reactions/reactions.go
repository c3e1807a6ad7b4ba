// Package reactions implements Reactions & Presence (§4.4): viewer-session
// tracking, integrity-preserving like/rating aggregation, and ephemeral
// emoji/star/shoutout broadcasts. Grounded on the station's
// internal/radio/stream.go Broadcaster fan-out pattern (channel-per-client,
// slow-client drop), generalized here from raw audio bytes to typed pub/sub
// events relayed onward by internal/realtime.
package reactions

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/pubsub"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
	"github.com/afterhours-fm/afterhours/internal/session"
	"github.com/afterhours-fm/afterhours/internal/store"
)

const (
	CollectionReactions = "livestream-reactions"
	CollectionViewers   = "livestream-viewers"
)

// Service owns presence tracking and reaction aggregation.
type Service struct {
	store store.Store
	sched *scheduler.Scheduler
	sess  *session.Service
	bus   pubsub.Bus
	clk   clock.Clock
	log   *slog.Logger
}

func New(st store.Store, sched *scheduler.Scheduler, sess *session.Service, bus pubsub.Bus, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{store: st, sched: sched, sess: sess, bus: bus, clk: clk, log: log}
}

func viewerKey(streamID, sessionID string) string { return streamID + "/" + sessionID }

// Join creates a Viewer Session and bumps the slot's viewer counters (§4.4
// Join).
func (s *Service) Join(ctx context.Context, streamID, userID, sessionID string) (*domain.ViewerSession, error) {
	now := s.clk.Now()
	vs := &domain.ViewerSession{
		ID: uuid.NewString(), StreamID: streamID, UserID: userID, SessionID: sessionID,
		JoinedAt: now, LastHeartbeat: now, IsActive: true,
	}
	raw, err := json.Marshal(vs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal viewer session", err)
	}
	if err := s.store.Set(ctx, CollectionViewers, viewerKey(streamID, sessionID), raw); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write viewer session", err)
	}

	if sl, err := s.sched.GetSlot(ctx, streamID); err == nil {
		sl.CurrentViewers++
		sl.TotalViews++
		if sl.CurrentViewers > sl.ViewerPeak {
			sl.ViewerPeak = sl.CurrentViewers
		}
		if err := s.sched.SaveSlot(ctx, sl); err != nil {
			s.log.Warn("reactions: join counter update failed", "err", err)
		} else {
			s.publishViewerUpdate(ctx, sl)
		}
	}
	return vs, nil
}

// Leave marks the active session inactive and decrements the viewer count
// (floor 0) (§4.4 Leave).
func (s *Service) Leave(ctx context.Context, streamID, sessionID string) error {
	now := s.clk.Now()
	raw, err := s.store.Get(ctx, CollectionViewers, viewerKey(streamID, sessionID))
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "load viewer session", err)
	}
	var vs domain.ViewerSession
	if err := json.Unmarshal(raw, &vs); err != nil {
		return apperr.Wrap(apperr.KindInternal, "decode viewer session", err)
	}
	if !vs.IsActive {
		return nil
	}
	vs.IsActive = false
	vs.LeftAt = &now
	out, err := json.Marshal(vs)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal viewer session", err)
	}
	if err := s.store.Set(ctx, CollectionViewers, viewerKey(streamID, sessionID), out); err != nil {
		return apperr.Wrap(apperr.KindTransport, "write viewer session", err)
	}

	if sl, err := s.sched.GetSlot(ctx, streamID); err == nil {
		if sl.CurrentViewers > 0 {
			sl.CurrentViewers--
		}
		if err := s.sched.SaveSlot(ctx, sl); err != nil {
			s.log.Warn("reactions: leave counter update failed", "err", err)
		} else {
			s.publishViewerUpdate(ctx, sl)
		}
	}
	return nil
}

// Heartbeat refreshes lastHeartbeat on the active session and returns the
// slot's current counters (§4.4 Heartbeat).
func (s *Service) Heartbeat(ctx context.Context, streamID, sessionID string) (*domain.Slot, error) {
	raw, err := s.store.Get(ctx, CollectionViewers, viewerKey(streamID, sessionID))
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "no active viewer session")
	}
	var vs domain.ViewerSession
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode viewer session", err)
	}
	vs.LastHeartbeat = s.clk.Now()
	out, err := json.Marshal(vs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal viewer session", err)
	}
	if err := s.store.Set(ctx, CollectionViewers, viewerKey(streamID, sessionID), out); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write viewer session", err)
	}
	return s.sched.GetSlot(ctx, streamID)
}

// Like appends a reaction record (no per-user dedup) and bumps totalLikes
// (§4.4 Like).
func (s *Service) Like(ctx context.Context, streamID, userID string) (*domain.Slot, error) {
	now := s.clk.Now()
	rec := domain.ReactionRecord{ID: uuid.NewString(), StreamID: streamID, UserID: userID, Type: domain.ReactionLike, CreatedAt: now}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal reaction", err)
	}
	if err := s.store.Set(ctx, CollectionReactions, rec.ID, raw); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write reaction", err)
	}
	sl, err := s.sched.GetSlot(ctx, streamID)
	if err != nil {
		return nil, err
	}
	sl.TotalLikes++
	if err := s.sched.SaveSlot(ctx, sl); err != nil {
		return nil, err
	}
	s.sess.PublishLikeUpdate(ctx, sl)
	return sl, nil
}

// ratingKey yields the deterministic key for a user's one-per-stream rating.
func ratingKey(streamID, userID string) string { return streamID + "/" + userID }

// Rate upserts exactly one rating per (streamId, userId), recomputing the
// slot's rolling average exactly per §4.4's formulas.
func (s *Service) Rate(ctx context.Context, streamID, userID string, rating int) (*domain.Slot, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.New(apperr.KindInvalidRequest, "rating must be between 1 and 5")
	}
	now := s.clk.Now()
	key := ratingKey(streamID, userID)

	existingRaw, err := s.store.Get(ctx, CollectionReactions, key)
	var prior *domain.ReactionRecord
	if err == nil {
		var rec domain.ReactionRecord
		if json.Unmarshal(existingRaw, &rec) == nil {
			prior = &rec
		}
	} else if err != store.ErrNotFound {
		return nil, apperr.Wrap(apperr.KindTransport, "load reaction", err)
	}

	sl, err := s.sched.GetSlot(ctx, streamID)
	if err != nil {
		return nil, err
	}

	a0, n0 := sl.AverageRating, sl.RatingCount
	if prior == nil {
		sl.AverageRating = (a0*float64(n0) + float64(rating)) / float64(n0+1)
		sl.RatingCount = n0 + 1
	} else {
		sl.AverageRating = (a0*float64(n0) - float64(prior.Rating) + float64(rating)) / float64(n0)
	}

	rec := domain.ReactionRecord{ID: key, StreamID: streamID, UserID: userID, Type: domain.ReactionRating, Rating: rating, CreatedAt: now}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal reaction", err)
	}
	if err := s.store.Set(ctx, CollectionReactions, key, raw); err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "write reaction", err)
	}
	if err := s.sched.SaveSlot(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

// PriorRating returns the caller's prior rating record for a stream, or nil
// if the caller has not rated it (§6 GET react).
func (s *Service) PriorRating(ctx context.Context, streamID, userID string) (*domain.ReactionRecord, error) {
	raw, err := s.store.Get(ctx, CollectionReactions, ratingKey(streamID, userID))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load reaction", err)
	}
	var rec domain.ReactionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode reaction", err)
	}
	return &rec, nil
}

// EmojiPayload is the broadcast-only emoji event shape (§4.4).
type EmojiPayload struct {
	Emoji     string    `json:"emoji"`
	UserName  string    `json:"userName"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StarPayload is the broadcast-only star event shape.
type StarPayload struct {
	Count     int       `json:"count"`
	UserName  string    `json:"userName"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// ShoutoutPayload is the broadcast-only shoutout event shape.
type ShoutoutPayload struct {
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Emoji broadcasts an ephemeral emoji reaction (§4.4, no durable record).
func (s *Service) Emoji(ctx context.Context, streamID string, p EmojiPayload) error {
	p.Timestamp = s.clk.Now()
	return s.bus.Publish(ctx, session.StreamTopic(streamID), "reaction", map[string]any{"type": "emoji", "emoji": p.Emoji, "userName": p.UserName, "userId": p.UserID, "sessionId": p.SessionID, "timestamp": p.Timestamp})
}

// Star broadcasts an ephemeral star reaction.
func (s *Service) Star(ctx context.Context, streamID string, p StarPayload) error {
	p.Timestamp = s.clk.Now()
	return s.bus.Publish(ctx, session.StreamTopic(streamID), "reaction", map[string]any{"type": "star", "count": p.Count, "userName": p.UserName, "userId": p.UserID, "timestamp": p.Timestamp})
}

// Shoutout broadcasts an ephemeral shoutout; message length must be in
// [1,30] (§4.4).
func (s *Service) Shoutout(ctx context.Context, streamID string, p ShoutoutPayload) error {
	if len(p.Message) < 1 || len(p.Message) > 30 {
		return apperr.New(apperr.KindInvalidRequest, "shoutout message must be 1-30 characters")
	}
	p.Timestamp = s.clk.Now()
	return s.bus.Publish(ctx, session.StreamTopic(streamID), "shoutout", map[string]any{"name": p.Name, "message": p.Message, "timestamp": p.Timestamp})
}

func (s *Service) publishViewerUpdate(ctx context.Context, sl *domain.Slot) {
	err := s.bus.Publish(ctx, session.StreamTopic(sl.ID), "viewer-update", map[string]any{
		"currentViewers": sl.CurrentViewers,
		"peakViewers":    sl.ViewerPeak,
		"timestamp":      s.clk.Now(),
	})
	if err != nil {
		s.log.Warn("reactions: publish viewer-update failed", "err", err)
	}
}

// ReconcileViewerCounts recomputes currentViewers for streamID from the
// authoritative set of active viewer sessions, per §9 "counters vs
// projections...recover via periodic reconciliation." Intended to be run
// from cmd/reconcile, not the request path.
func (s *Service) ReconcileViewerCounts(ctx context.Context, streamID string) (int, error) {
	matches, err := s.store.Query(ctx, CollectionViewers, func(key string, value []byte) bool {
		var vs domain.ViewerSession
		if json.Unmarshal(value, &vs) != nil {
			return false
		}
		return vs.StreamID == streamID && vs.IsActive
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransport, "query viewer sessions", err)
	}
	count := len(matches)

	sl, err := s.sched.GetSlot(ctx, streamID)
	if err != nil {
		return count, err
	}
	if sl.CurrentViewers != count {
		sl.CurrentViewers = count
		if err := s.sched.SaveSlot(ctx, sl); err != nil {
			return count, apperr.Wrap(apperr.KindTransport, "save reconciled slot", err)
		}
	}
	return count, nil
}

// SweepInactiveOnStreamEnd marks every active viewer session for streamID
// inactive, e.g. when the stream ends (§3 Viewer Session lifecycle).
func (s *Service) SweepInactiveOnStreamEnd(ctx context.Context, streamID string) error {
	now := s.clk.Now()
	matches, err := s.store.Query(ctx, CollectionViewers, func(key string, value []byte) bool {
		var vs domain.ViewerSession
		if json.Unmarshal(value, &vs) != nil {
			return false
		}
		return vs.StreamID == streamID && vs.IsActive
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "query viewer sessions", err)
	}
	for key, raw := range matches {
		var vs domain.ViewerSession
		if json.Unmarshal(raw, &vs) != nil {
			continue
		}
		vs.IsActive = false
		vs.LeftAt = &now
		out, err := json.Marshal(vs)
		if err != nil {
			continue
		}
		if err := s.store.Set(ctx, CollectionViewers, key, out); err != nil {
			s.log.Warn("reactions: sweep write failed", "key", key, "err", err)
		}
	}
	return nil
}

