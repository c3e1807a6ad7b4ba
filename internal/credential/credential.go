// Package credential implements the Stream Credential Service (§4.2):
// deterministic signed stream-key generation, time-window validation at the
// ingest edge, and the RTMP/HLS URL builders. Grounded on the station's own
// auth.go HMAC-signing and constant-time-compare idiom, generalized from a
// single bearer JWT to the spec's specific key grammar.
package credential

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/afterhours-fm/afterhours/internal/signing"
)

// Config carries the credential service's tunables (§6 configuration table).
type Config struct {
	Prefix             string
	SigningSecret      string
	RTMPBase           string
	HLSBase            string
	RevealWindow       time.Duration // ingest-facing, default 30m
	GracePeriod        time.Duration // ingest-facing, default 5m
	UserRevealWindow   time.Duration // user-facing, advisory, default 15m
	UserGracePeriod    time.Duration // user-facing, advisory, default 3m
}

// Service issues and validates stream keys.
type Service struct {
	cfg Config
}

func New(cfg Config) *Service { return &Service{cfg: cfg} }

// shortID returns the first 8 characters of id (or the whole id if shorter).
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Generate builds the deterministic key for a slot, per §4.2's grammar:
// {prefix}_{djIdShort}_{slotIdShort}_{tsBase36}_{sig12}.
func (s *Service) Generate(djID, slotID string, start, end time.Time) string {
	tsBase36 := strconv.FormatInt(start.Unix(), 36)
	msg := djID + ":" + slotID + ":" + start.UTC().Format(time.RFC3339) + ":" + end.UTC().Format(time.RFC3339)
	sig := signing.HMACHexN(s.cfg.SigningSecret, msg, 12)
	return fmt.Sprintf("%s_%s_%s_%s_%s", s.cfg.Prefix, shortID(djID), shortID(slotID), tsBase36, sig)
}

// ParsedKey is the decomposed stream key, pre-validation-against-store.
type ParsedKey struct {
	Prefix      string
	DJIDShort   string
	SlotIDShort string
	TsBase36    string
	Sig12       string
}

// Parse splits a candidate key into its 5 underscore-separated parts and
// checks the prefix. It does not consult the store.
func (s *Service) Parse(key string) (ParsedKey, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 5 {
		return ParsedKey{}, fmt.Errorf("credential: malformed key shape")
	}
	if parts[0] != s.cfg.Prefix {
		return ParsedKey{}, fmt.Errorf("credential: prefix mismatch")
	}
	return ParsedKey{Prefix: parts[0], DJIDShort: parts[1], SlotIDShort: parts[2], TsBase36: parts[3], Sig12: parts[4]}, nil
}

// RTMPURL builds the ingest URL for key.
func (s *Service) RTMPURL(key string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.RTMPBase, "/"), key)
}

// HLSURLs builds the primary and fallback playback URLs for key.
type HLSURLs struct {
	Index     string
	Playlist  string
	Chunklist string
}

func (s *Service) HLSURLs(key string) HLSURLs {
	base := fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.HLSBase, "/"), key)
	return HLSURLs{
		Index:     base + "/index.m3u8",
		Playlist:  base + "/playlist.m3u8",
		Chunklist: base + "/chunklist.m3u8",
	}
}

// Window computes the ingest-facing validity window for a slot.
func (s *Service) Window(start, end time.Time) (windowStart, windowEnd time.Time) {
	return start.Add(-s.cfg.RevealWindow), end.Add(s.cfg.GracePeriod)
}

// UserWindow computes the advisory user-facing reveal/expiry window.
func (s *Service) UserWindow(start, end time.Time) (windowStart, windowEnd time.Time) {
	return start.Add(-s.cfg.UserRevealWindow), end.Add(s.cfg.UserGracePeriod)
}

// ExtractKeyFromIngest pulls a candidate key out of an ingest request's
// fields, in the priority order §4.2 specifies: key, name, streamKey, or the
// last path segment with a leading "live/" trimmed.
func ExtractKeyFromIngest(query map[string]string, body map[string]any, path string) string {
	for _, k := range []string{"key", "name", "streamKey"} {
		if v, ok := query[k]; ok && v != "" {
			return v
		}
		if body != nil {
			if v, ok := body[k]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	if path != "" {
		segs := strings.Split(strings.Trim(path, "/"), "/")
		last := segs[len(segs)-1]
		last = strings.TrimPrefix(last, "live/")
		return last
	}
	return ""
}
