// Package config carries the gateway configuration loaded from the process
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all tunables for the voice relay gateway.
type Config struct {
	Addr string

	CORSAllowedOrigins map[string]struct{}

	// Upstream voice service.
	UpstreamEndpoint   string
	UpstreamAPIKey     string
	UpstreamAPIVersion string
	UpstreamProject    string
	DefaultModel       string

	// Session audio/voice/avatar parameters sent in the initial
	// configuration message.
	VoiceName       string
	VoiceType       string
	AvatarCharacter string
	AvatarStyle     string

	// Relay behavior.
	ConnectTimeout   time.Duration
	RelayQueueSize   int
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	DrainTimeout     time.Duration

	MaxClientMessageBytes   int64
	MaxUpstreamMessageBytes int64
	MaxSessions             int

	// Recording bounds.
	RecordingMaxAudioBytes int64
	RecordingMaxTurns      int
	RecordingStoreLimit    int

	// Agent provisioning collaborator.
	ProvisionerEndpoint   string
	ProvisionerAPIKey     string
	ProvisionerAPIVersion string
	ProvisionerTimeout    time.Duration

	// HTTP server.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

// LoadFromEnv builds a Config from VOICERELAY_* environment variables and
// validates it.
func LoadFromEnv() (Config, error) {
	endpoint := envOr("VOICERELAY_UPSTREAM_ENDPOINT", "")
	if endpoint == "" {
		if resource := envOr("VOICERELAY_UPSTREAM_RESOURCE", ""); resource != "" {
			endpoint = fmt.Sprintf("wss://%s.cognitiveservices.azure.com", resource)
		}
	}

	cfg := Config{
		Addr:               envOr("VOICERELAY_ADDR", ":8080"),
		CORSAllowedOrigins: map[string]struct{}{},

		UpstreamEndpoint:   endpoint,
		UpstreamAPIKey:     envOr("VOICERELAY_UPSTREAM_API_KEY", ""),
		UpstreamAPIVersion: envOr("VOICERELAY_UPSTREAM_API_VERSION", "2025-05-01-preview"),
		UpstreamProject:    envOr("VOICERELAY_UPSTREAM_PROJECT", ""),
		DefaultModel:       envOr("VOICERELAY_DEFAULT_MODEL", "gpt-4o"),

		VoiceName:       envOr("VOICERELAY_VOICE_NAME", "en-US-Ava:DragonHDLatestNeural"),
		VoiceType:       envOr("VOICERELAY_VOICE_TYPE", "azure-standard"),
		AvatarCharacter: envOr("VOICERELAY_AVATAR_CHARACTER", "lisa"),
		AvatarStyle:     envOr("VOICERELAY_AVATAR_STYLE", "casual-sitting"),

		ConnectTimeout:   envDurationOr("VOICERELAY_CONNECT_TIMEOUT", 10*time.Second),
		RelayQueueSize:   envIntOr("VOICERELAY_RELAY_QUEUE_SIZE", 64),
		WriteTimeout:     envDurationOr("VOICERELAY_WRITE_TIMEOUT", 10*time.Second),
		PingInterval:     envDurationOr("VOICERELAY_PING_INTERVAL", 20*time.Second),
		HandshakeTimeout: envDurationOr("VOICERELAY_HANDSHAKE_TIMEOUT", 10*time.Second),
		DrainTimeout:     envDurationOr("VOICERELAY_DRAIN_TIMEOUT", 3*time.Second),

		MaxClientMessageBytes:   envInt64Or("VOICERELAY_MAX_CLIENT_MESSAGE_BYTES", 1<<20),
		MaxUpstreamMessageBytes: envInt64Or("VOICERELAY_MAX_UPSTREAM_MESSAGE_BYTES", 4<<20),
		MaxSessions:             envIntOr("VOICERELAY_MAX_SESSIONS", 64),

		RecordingMaxAudioBytes: envInt64Or("VOICERELAY_RECORDING_MAX_AUDIO_BYTES", 64<<20),
		RecordingMaxTurns:      envIntOr("VOICERELAY_RECORDING_MAX_TURNS", 4096),
		RecordingStoreLimit:    envIntOr("VOICERELAY_RECORDING_STORE_LIMIT", 256),

		ProvisionerEndpoint:   envOr("VOICERELAY_PROVISIONER_ENDPOINT", ""),
		ProvisionerAPIKey:     envOr("VOICERELAY_PROVISIONER_API_KEY", ""),
		ProvisionerAPIVersion: envOr("VOICERELAY_PROVISIONER_API_VERSION", "v1"),
		ProvisionerTimeout:    envDurationOr("VOICERELAY_PROVISIONER_TIMEOUT", 15*time.Second),

		ReadHeaderTimeout:   envDurationOr("VOICERELAY_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:         envDurationOr("VOICERELAY_READ_TIMEOUT", 60*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICERELAY_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VOICERELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.UpstreamEndpoint) == "" {
		return Config{}, fmt.Errorf("VOICERELAY_UPSTREAM_ENDPOINT or VOICERELAY_UPSTREAM_RESOURCE must be set")
	}
	if strings.TrimSpace(cfg.UpstreamAPIKey) == "" {
		return Config{}, fmt.Errorf("VOICERELAY_UPSTREAM_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.UpstreamAPIVersion) == "" {
		return Config{}, fmt.Errorf("VOICERELAY_UPSTREAM_API_VERSION must not be empty")
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return Config{}, fmt.Errorf("VOICERELAY_DEFAULT_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.VoiceName) == "" || strings.TrimSpace(cfg.VoiceType) == "" {
		return Config{}, fmt.Errorf("VOICERELAY_VOICE_NAME and VOICERELAY_VOICE_TYPE must not be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.RelayQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_RELAY_QUEUE_SIZE must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_WRITE_TIMEOUT must be > 0")
	}
	if cfg.PingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_PING_INTERVAL must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.DrainTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_DRAIN_TIMEOUT must be > 0")
	}
	if cfg.MaxClientMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_MAX_CLIENT_MESSAGE_BYTES must be > 0")
	}
	if cfg.MaxUpstreamMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_MAX_UPSTREAM_MESSAGE_BYTES must be > 0")
	}
	if cfg.MaxSessions < 0 {
		return Config{}, fmt.Errorf("VOICERELAY_MAX_SESSIONS must be >= 0")
	}
	if cfg.RecordingMaxAudioBytes <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_RECORDING_MAX_AUDIO_BYTES must be > 0")
	}
	if cfg.RecordingMaxTurns <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_RECORDING_MAX_TURNS must be > 0")
	}
	if cfg.RecordingStoreLimit <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_RECORDING_STORE_LIMIT must be > 0")
	}
	if cfg.ProvisionerTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_PROVISIONER_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICERELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
