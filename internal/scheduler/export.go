package scheduler

import (
	"context"
	"encoding/json"

	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/store"
)

// GetSlot exposes slot lookup by id for sibling packages (session, api)
// that need to read a slot outside of a scheduler operation.
func (s *Scheduler) GetSlot(ctx context.Context, slotID string) (*domain.Slot, error) {
	return s.getSlot(ctx, slotID)
}

// AllSlots exposes the full, ordered slot list for sibling packages that
// drive periodic sweeps (session's auto-switchover tick).
func (s *Scheduler) AllSlots(ctx context.Context) ([]domain.Slot, error) {
	return s.allSlots(ctx)
}

// SaveSlot persists a mutated slot and invalidates the schedule cache. Used
// by the session state machine for FSM transitions it owns.
func (s *Scheduler) SaveSlot(ctx context.Context, sl *domain.Slot) error {
	return s.saveSlot(ctx, sl)
}

// FindSlotByStreamKey looks up the most recent non-cancelled slot whose
// StreamKey equals key (§4.2 ValidateStreamKey step 2-3).
func (s *Scheduler) FindSlotByStreamKey(ctx context.Context, key string) (*domain.Slot, error) {
	matches, err := s.store.Query(ctx, CollectionSlots, func(_ string, value []byte) bool {
		var sl domain.Slot
		if json.Unmarshal(value, &sl) == nil {
			return sl.StreamKey == key
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	var best *domain.Slot
	for _, raw := range matches {
		var sl domain.Slot
		if json.Unmarshal(raw, &sl) != nil {
			continue
		}
		if sl.Status == domain.StatusCancelled {
			continue
		}
		if best == nil || sl.CreatedAt.After(best.CreatedAt) {
			cp := sl
			best = &cp
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

// ArtistProfile exposes the artist-profile lookup for credential validation
// (suspended/banned checks happen outside the scheduler too).
func (s *Scheduler) ArtistProfile(ctx context.Context, djID string) (*domain.ArtistProfile, error) {
	raw, err := s.store.Get(ctx, CollectionArtists, djID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var profile domain.ArtistProfile
	if json.Unmarshal(raw, &profile) != nil {
		return nil, nil
	}
	return &profile, nil
}
