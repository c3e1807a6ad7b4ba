// Package config loads process configuration from the environment, the
// same manual getEnv/getEnvAsInt style the station's original config used —
// kept deliberately small and dependency-free rather than reached for a
// config-file library the rest of the stack doesn't otherwise need.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Ambient / server
	Port         string
	PlatformName string
	DataDir      string
	JWTSecret    string
	AdminUser    string
	AdminPass    string
	Timezone     string

	// Stream credential service (§4.2, §6)
	RTMPBase        string
	HLSBase         string
	StreamKeyPrefix string
	SigningSecret   string
	WebhookSecret   string

	RevealMinutes      int
	GracePeriodMinutes int
	UserRevealMinutes  int
	UserGraceMinutes   int

	SessionEndCountdownSeconds int

	// Scheduler quotas (§4.1, §6)
	DefaultDailyHours  int
	DefaultWeeklySlots int
	ScheduleTimezone   string // "" == UTC, per Open Question (a)

	AllowGoLiveNow  bool
	AllowGoLiveAfter bool
	AllowTakeover   bool

	// Global playlist coordinator (§4.5)
	TrackCooldownMs    int64
	MaxTrackDurationMs int64
	MaxQueueHistory    int

	// Ingest wire-shape Open Question (b): "auto", "query", "post"
	IngestWireShape string

	// Pub/Sub adapter selection
	PubSubDriver string // "gochannel" or "nats"
	NATSUrl      string

	// Document store adapter selection
	StoreDriver string // "memory" or "badger"
	BadgerDir   string
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8000"),
		PlatformName: getEnv("PLATFORM_NAME", "Afterhours FM"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		JWTSecret:    getEnv("JWT_SECRET", "change-me-in-production-please"),
		AdminUser:    getEnv("ADMIN_USERNAME", "admin"),
		AdminPass:    getEnv("ADMIN_PASSWORD", "change-me"),
		Timezone:     getEnv("TIMEZONE", ""),

		RTMPBase:        getEnv("RTMP_BASE", "rtmp://ingest.afterhours.fm/live"),
		HLSBase:         getEnv("HLS_BASE", "https://hls.afterhours.fm"),
		StreamKeyPrefix: getEnv("STREAM_KEY_PREFIX", "fwx"),
		SigningSecret:   getEnv("SIGNING_SECRET", "change-me-signing-secret"),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", "change-me-webhook-secret"),

		RevealMinutes:      getEnvAsInt("REVEAL_MINUTES", 30),
		GracePeriodMinutes: getEnvAsInt("GRACE_PERIOD_MINUTES", 5),
		UserRevealMinutes:  getEnvAsInt("USER_REVEAL_MINUTES", 15),
		UserGraceMinutes:   getEnvAsInt("USER_GRACE_MINUTES", 3),

		SessionEndCountdownSeconds: getEnvAsInt("SESSION_END_COUNTDOWN_SECONDS", 10),

		DefaultDailyHours:  getEnvAsInt("DEFAULT_DAILY_HOURS", 2),
		DefaultWeeklySlots: getEnvAsInt("DEFAULT_WEEKLY_SLOTS", 2),
		ScheduleTimezone:   getEnv("SCHEDULE_TIMEZONE", ""),

		AllowGoLiveNow:   getEnvAsBool("ALLOW_GO_LIVE_NOW", true),
		AllowGoLiveAfter: getEnvAsBool("ALLOW_GO_LIVE_AFTER", true),
		AllowTakeover:    getEnvAsBool("ALLOW_TAKEOVER", false),

		TrackCooldownMs:    getEnvAsInt64("TRACK_COOLDOWN_MS", 3_600_000),
		MaxTrackDurationMs: getEnvAsInt64("MAX_TRACK_DURATION_MS", 600_000),
		MaxQueueHistory:    getEnvAsInt("MAX_QUEUE_HISTORY", 100),

		IngestWireShape: getEnv("INGEST_WIRE_SHAPE", "auto"),

		PubSubDriver: getEnv("PUBSUB_DRIVER", "gochannel"),
		NATSUrl:      getEnv("NATS_URL", "nats://127.0.0.1:4222"),

		StoreDriver: getEnv("STORE_DRIVER", "memory"),
		BadgerDir:   getEnv("BADGER_DIR", "./data/badger"),
	}
}

// Location resolves the ScheduleTimezone into a *time.Location, defaulting
// to UTC when unset or unrecognized.
func (c *Config) Location() *time.Location {
	if c.ScheduleTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) RevealWindow() time.Duration {
	return time.Duration(c.RevealMinutes) * time.Minute
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMinutes) * time.Minute
}

func (c *Config) UserRevealWindow() time.Duration {
	return time.Duration(c.UserRevealMinutes) * time.Minute
}

func (c *Config) UserGracePeriod() time.Duration {
	return time.Duration(c.UserGraceMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsInt64(name string, defaultVal int64) int64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}
