// Package config loads gateway settings from the environment. Every knob has
// a default so a bare `GEMINI_API_KEY=... go run ./cmd/bridge` works.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Upstream credentials and model selection.
	GeminiAPIKey string
	DeepModel    string
	LiveModel    string

	// Deep-mode request shaping.
	MaxBodyBytes    int64
	MaxHistoryTurns int

	// Live WebSocket mode.
	LiveEndpoint         string
	LiveHandshakeTimeout time.Duration
	LiveWriteTimeout     time.Duration
	FrameInterval        time.Duration

	// Inspection tap retention (records kept in memory, 0 = unbounded).
	TapBufferMax int

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("GEX_ADDR", ":8000"),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		DeepModel:            envOr("GEX_DEEP_MODEL", "gemini-3-pro-preview"),
		LiveModel:            envOr("GEX_LIVE_MODEL", "gemini-live-2.5-flash-preview-native-audio-09-2025"),
		MaxBodyBytes:         envInt64Or("GEX_MAX_BODY_BYTES", 8<<20), // 8 MiB
		MaxHistoryTurns:      envIntOr("GEX_MAX_HISTORY_TURNS", 0),
		LiveEndpoint:         envOr("GEX_LIVE_ENDPOINT", ""),
		LiveHandshakeTimeout: envDurationOr("GEX_LIVE_HANDSHAKE_TIMEOUT", 10*time.Second),
		LiveWriteTimeout:     envDurationOr("GEX_LIVE_WRITE_TIMEOUT", 5*time.Second),
		FrameInterval:        envDurationOr("GEX_FRAME_INTERVAL", time.Second),
		TapBufferMax:         envIntOr("GEX_TAP_BUFFER_MAX", 1024),
		CORSAllowedOrigins:   make(map[string]struct{}),
		ReadHeaderTimeout:    envDurationOr("GEX_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("GEX_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("GEX_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if cfg.DeepModel == "" {
		return Config{}, fmt.Errorf("GEX_DEEP_MODEL must not be empty")
	}
	if cfg.LiveModel == "" {
		return Config{}, fmt.Errorf("GEX_LIVE_MODEL must not be empty")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("GEX_MAX_BODY_BYTES must be > 0")
	}
	if cfg.MaxHistoryTurns < 0 {
		return Config{}, fmt.Errorf("GEX_MAX_HISTORY_TURNS must be >= 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("GEX_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("GEX_LIVE_WRITE_TIMEOUT must be > 0")
	}
	if cfg.FrameInterval <= 0 {
		return Config{}, fmt.Errorf("GEX_FRAME_INTERVAL must be > 0")
	}
	if cfg.TapBufferMax < 0 {
		return Config{}, fmt.Errorf("GEX_TAP_BUFFER_MAX must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("GEX_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("GEX_SHUTDOWN_GRACE_PERIOD must be > 0")
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
