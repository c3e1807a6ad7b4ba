// Package playlistcoord implements the Global Playlist Coordinator (§4.5):
// a single shared queue all connected viewers see identically, with
// per-user fairness caps, per-URL cooldowns, a per-track duration cap, and
// real-time fan-out. Grounded on the station's internal/playlist/master.go
// and internal/playlist/playlist.go (shared mutable collection under a
// single lock, with explicit invariant re-checks and a checksum/URL-keyed
// dedup idiom lifted from the teacher's track dedup), generalized from "one
// playlist per time-tag, consumed by the station's own encoder" to "one
// playlist, global, consumed by every connected viewer."
package playlistcoord

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afterhours-fm/afterhours/internal/apperr"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/pubsub"
	"github.com/afterhours-fm/afterhours/internal/store"
)

const (
	CollectionPlaylist = "globalPlaylist"
	SingletonKey       = "global"
	TopicLivePlaylist  = "live-playlist"

	maxPerUser    = 2
	staleCapAfter = 15 * time.Minute
)

// MetadataFetcher is the best-effort oEmbed-style collaborator that
// resolves a title/thumbnail for a URL. It must never block the Add
// operation beyond its own deadline (§5 "default 5s for metadata
// fetches").
type MetadataFetcher interface {
	Fetch(ctx context.Context, rawURL string) (title, thumbnail string, err error)
}

// NoopFetcher is a MetadataFetcher that always returns empty metadata, for
// deployments without an oEmbed collaborator wired in.
type NoopFetcher struct{}

func (NoopFetcher) Fetch(context.Context, string) (string, string, error) { return "", "", nil }

// Config carries §4.5/§6 tunables.
type Config struct {
	TrackCooldown      time.Duration // default 1h
	MaxTrackDuration   time.Duration // default 10m
	MetadataFetchDeadline time.Duration // default 5s
}

// Coordinator owns the singleton global playlist.
type Coordinator struct {
	store   store.Store
	bus     pubsub.Bus
	clk     clock.Clock
	cfg     Config
	fetcher MetadataFetcher
	log     *slog.Logger
}

func New(st store.Store, bus pubsub.Bus, clk clock.Clock, cfg Config, fetcher MetadataFetcher, log *slog.Logger) *Coordinator {
	if fetcher == nil {
		fetcher = NoopFetcher{}
	}
	return &Coordinator{store: st, bus: bus, clk: clk, cfg: cfg, fetcher: fetcher, log: log}
}

func (c *Coordinator) load(ctx context.Context) (*domain.GlobalPlaylist, error) {
	raw, err := c.store.Get(ctx, CollectionPlaylist, SingletonKey)
	if err == store.ErrNotFound {
		return &domain.GlobalPlaylist{LastUpdated: c.clk.Now()}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "load playlist", err)
	}
	var gp domain.GlobalPlaylist
	if err := json.Unmarshal(raw, &gp); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode playlist", err)
	}
	return &gp, nil
}

// save persists the playlist and publishes playlist-update, per §4.5's
// Synchronization contract (§4.5: "1. Persists... 2. Publishes...").
func (c *Coordinator) save(ctx context.Context, gp *domain.GlobalPlaylist) error {
	gp.LastUpdated = c.clk.Now()
	raw, err := json.Marshal(gp)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal playlist", err)
	}
	if err := c.store.Set(ctx, CollectionPlaylist, SingletonKey, raw); err != nil {
		return apperr.Wrap(apperr.KindTransport, "write playlist", err)
	}
	if err := c.bus.Publish(ctx, TopicLivePlaylist, "playlist-update", gp); err != nil {
		c.log.Warn("playlistcoord: publish playlist-update failed", "err", err)
	}
	return nil
}

func normalizeURL(raw string) (string, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", apperr.New(apperr.KindInvalidRequest, "url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", apperr.New(apperr.KindInvalidRequest, "invalid url")
	}
	host := strings.ToLower(u.Hostname())
	platform := "direct"
	switch {
	case strings.Contains(host, "youtube.com"), strings.Contains(host, "youtu.be"):
		platform = "youtube"
	case strings.Contains(host, "vimeo.com"):
		platform = "vimeo"
	case strings.Contains(host, "soundcloud.com"):
		platform = "soundcloud"
	}
	return trimmed, platform, nil
}

func recentlyPlayed(history []domain.PlayHistoryEntry, normalizedURL string, now time.Time, cooldown time.Duration) bool {
	for _, h := range history {
		if h.URL == normalizedURL && now.Sub(h.PlayedAt) < cooldown {
			return true
		}
	}
	return false
}

// Add validates and appends a track to the queue (§4.5 Add).
func (c *Coordinator) Add(ctx context.Context, rawURL, userID, userName string) (*domain.PlaylistItem, error) {
	normalized, platform, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	gp, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	now := c.clk.Now()

	ownedCount := 0
	for _, item := range gp.Queue {
		if item.AddedBy == userID {
			ownedCount++
		}
		if item.URL == normalized {
			return nil, apperr.New(apperr.KindConflict, "track is already in the queue")
		}
	}
	if ownedCount >= maxPerUser {
		return nil, apperr.New(apperr.KindQuotaExceeded, "you already have 2 tracks queued")
	}
	if recentlyPlayed(gp.History, normalized, now, c.cfg.TrackCooldown) {
		return nil, apperr.Newf(apperr.KindInvalidRequest, "played recently, try again in %d minutes", int(c.cfg.TrackCooldown.Minutes()))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.MetadataFetchDeadline)
	title, thumb, ferr := c.fetcher.Fetch(fetchCtx, normalized)
	cancel()
	if ferr != nil {
		c.log.Warn("playlistcoord: metadata fetch failed", "url", normalized, "err", ferr)
	}

	item := domain.PlaylistItem{
		ID: uuid.NewString(), URL: normalized, Platform: platform,
		Title: title, Thumbnail: thumb,
		AddedBy: userID, AddedByName: userName, AddedAt: now,
	}

	wasEmpty := len(gp.Queue) == 0
	gp.Queue = append(gp.Queue, item)
	if wasEmpty && !gp.IsPlaying {
		gp.IsPlaying = true
		startedAt := now
		gp.TrackStartedAt = &startedAt
		gp.CurrentIndex = 0
	}

	if err := c.save(ctx, gp); err != nil {
		return nil, err
	}
	return &item, nil
}

// Remove deletes an item, allowed only for its owner or an admin (§4.5
// Remove). If it is currently playing, the coordinator advances.
func (c *Coordinator) Remove(ctx context.Context, itemID, callerID string, isAdmin bool) error {
	gp, err := c.load(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i, item := range gp.Queue {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return apperr.New(apperr.KindNotFound, "item not found in queue")
	}
	if gp.Queue[idx].AddedBy != callerID && !isAdmin {
		return apperr.New(apperr.KindForbidden, "not the item owner")
	}

	wasCurrent := gp.CurrentIndex == idx
	gp.Queue = append(gp.Queue[:idx], gp.Queue[idx+1:]...)
	c.normalizeAfterRemoval(gp, idx, wasCurrent)

	return c.save(ctx, gp)
}

func (c *Coordinator) normalizeAfterRemoval(gp *domain.GlobalPlaylist, removedIdx int, wasCurrent bool) {
	now := c.clk.Now()
	switch {
	case len(gp.Queue) == 0:
		gp.CurrentIndex = 0
		gp.IsPlaying = false
		gp.TrackStartedAt = nil
	case wasCurrent:
		if gp.CurrentIndex >= len(gp.Queue) {
			gp.CurrentIndex = 0
		}
		gp.TrackStartedAt = &now
	case removedIdx < gp.CurrentIndex:
		gp.CurrentIndex--
	}
}

// AdvanceOnTrackEnd removes the finished item, advances the cursor, and
// falls back to auto-play when the queue empties (§4.5 "On track end /
// timer cap").
func (c *Coordinator) AdvanceOnTrackEnd(ctx context.Context) error {
	gp, err := c.load(ctx)
	if err != nil {
		return err
	}
	if len(gp.Queue) == 0 {
		return nil
	}

	finished := gp.Queue[gp.CurrentIndex]
	now := c.clk.Now()
	gp.History = prependHistory(gp.History, domain.PlayHistoryEntry{
		URL: finished.URL, Platform: finished.Platform, EmbedID: finished.EmbedID,
		Title: finished.Title, Thumbnail: finished.Thumbnail, PlayedAt: now,
	})

	gp.Queue = append(gp.Queue[:gp.CurrentIndex], gp.Queue[gp.CurrentIndex+1:]...)

	if len(gp.Queue) > 0 {
		if gp.CurrentIndex >= len(gp.Queue) {
			gp.CurrentIndex = 0
		}
		gp.TrackStartedAt = &now
	} else {
		c.injectAutoPlay(gp, finished.URL, now)
	}

	return c.save(ctx, gp)
}

func prependHistory(history []domain.PlayHistoryEntry, entry domain.PlayHistoryEntry) []domain.PlayHistoryEntry {
	filtered := history[:0:0]
	for _, h := range history {
		if h.URL != entry.URL {
			filtered = append(filtered, h)
		}
	}
	return append([]domain.PlayHistoryEntry{entry}, filtered...)
}

// injectAutoPlay implements the auto-play fallback (§4.5): a random master
// history entry, excluding the URL that just finished and anything played
// within the cooldown window; if the filter rejects everything, any entry
// other than the last-played one.
func (c *Coordinator) injectAutoPlay(gp *domain.GlobalPlaylist, justFinishedURL string, now time.Time) {
	if len(gp.History) == 0 {
		gp.IsPlaying = false
		gp.TrackStartedAt = nil
		return
	}

	var candidates []domain.PlayHistoryEntry
	for _, h := range gp.History {
		if h.URL == justFinishedURL {
			continue
		}
		if now.Sub(h.PlayedAt) < c.cfg.TrackCooldown {
			continue
		}
		candidates = append(candidates, h)
	}
	if len(candidates) == 0 {
		for _, h := range gp.History {
			if h.URL != justFinishedURL {
				candidates = append(candidates, h)
			}
		}
	}
	if len(candidates) == 0 {
		gp.IsPlaying = false
		gp.TrackStartedAt = nil
		return
	}

	pick := candidates[rand.Intn(len(candidates))]
	gp.Queue = []domain.PlaylistItem{{
		ID: uuid.NewString(), URL: pick.URL, Platform: pick.Platform, EmbedID: pick.EmbedID,
		Title: pick.Title, Thumbnail: pick.Thumbnail,
		AddedBy: "system", AddedByName: "Auto-Play", AddedAt: now,
	}}
	gp.CurrentIndex = 0
	gp.IsPlaying = true
	gp.TrackStartedAt = &now
}

// Snapshot returns the current playlist, applying staleness detection on
// read (§4.5 Staleness detection).
func (c *Coordinator) Snapshot(ctx context.Context) (*domain.GlobalPlaylist, error) {
	gp, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	now := c.clk.Now()
	stale := (gp.IsPlaying && len(gp.Queue) == 0) ||
		(gp.TrackStartedAt != nil && now.Sub(*gp.TrackStartedAt) > staleCapAfter)
	if stale {
		gp.Queue = nil
		gp.CurrentIndex = 0
		gp.IsPlaying = false
		gp.TrackStartedAt = nil
		if err := c.save(ctx, gp); err != nil {
			c.log.Warn("playlistcoord: staleness reset failed", "err", err)
		}
	}
	return gp, nil
}

// SeekOffset computes the clamped playhead offset for latecomers (§4.5
// Synchronization contract).
func (c *Coordinator) SeekOffset(gp *domain.GlobalPlaylist) time.Duration {
	if gp.TrackStartedAt == nil {
		return 0
	}
	elapsed := c.clk.Now().Sub(*gp.TrackStartedAt)
	if elapsed < 0 {
		return 0
	}
	if elapsed > c.cfg.MaxTrackDuration {
		return c.cfg.MaxTrackDuration
	}
	return elapsed
}

// EnforceDurationCap auto-skips the current track once it has played for
// MaxTrackDuration (§4.5 "hard cap 10 minutes...auto-skips at cap"). Intended
// to be called from the same periodic tick driving the session state
// machine.
func (c *Coordinator) EnforceDurationCap(ctx context.Context) error {
	gp, err := c.load(ctx)
	if err != nil {
		return err
	}
	if gp.TrackStartedAt == nil || len(gp.Queue) == 0 {
		return nil
	}
	if c.clk.Now().Sub(*gp.TrackStartedAt) >= c.cfg.MaxTrackDuration {
		return c.AdvanceOnTrackEnd(ctx)
	}
	return nil
}
