// Package config assembles process configuration from defaults, an optional
// dotenv file and FLOWARENA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"flowarena/internal/telemetry"
	"flowarena/logging"
)

const (
	EnvStoreURL    = "FLOWARENA_STORE_URL"
	EnvListenAddr  = "FLOWARENA_LISTEN_ADDR"
	EnvPlayerID    = "FLOWARENA_PLAYER_ID"
	EnvLocale      = "FLOWARENA_LOCALE"
	EnvLogSinks    = "FLOWARENA_LOG_SINKS"
	EnvLogJSONPath = "FLOWARENA_LOG_JSON_PATH"
	EnvLogLevel    = "FLOWARENA_LOG_LEVEL"
	EnvFrameHz     = "FLOWARENA_FRAME_HZ"
	EnvIdleTimeout = "FLOWARENA_IDLE_TIMEOUT"
	EnvFlowWindow  = "FLOWARENA_FLOW_WINDOW"
)

type Config struct {
	// StoreURL is the room store websocket URL. Empty runs an in-process room.
	StoreURL   string
	ListenAddr string
	PlayerID   string
	Locale     string

	LogSinks    []string
	LogJSONPath string
	LogLevel    logging.Severity

	FrameHz     int
	IdleTimeout time.Duration
	FlowWindow  int
}

func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		LogSinks:    []string{"console"},
		LogLevel:    logging.SeverityInfo,
		FrameHz:     60,
		IdleTimeout: 90 * time.Second,
		FlowWindow:  40,
	}
}

// Load reads the dotenv file at path, when it exists, and applies the
// environment on top of the defaults. Variables already set in the process
// environment win over the file. Malformed values are reported through
// logger and ignored.
func Load(path string, logger telemetry.Logger) (Config, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	cfg := Default()
	cfg.apply(os.LookupEnv, logger)
	return cfg, nil
}

func (c *Config) apply(lookup func(string) (string, bool), logger telemetry.Logger) {
	str := func(key string, dst *string) {
		if raw, ok := lookup(key); ok {
			*dst = strings.TrimSpace(raw)
		}
	}
	str(EnvStoreURL, &c.StoreURL)
	str(EnvListenAddr, &c.ListenAddr)
	str(EnvPlayerID, &c.PlayerID)
	str(EnvLocale, &c.Locale)
	str(EnvLogJSONPath, &c.LogJSONPath)

	if raw, ok := lookup(EnvLogSinks); ok {
		var names []string
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		c.LogSinks = names
	}
	if raw, ok := lookup(EnvLogLevel); ok && raw != "" {
		if level, valid := logging.ParseSeverity(raw); valid {
			c.LogLevel = level
		} else {
			logger.Printf("invalid %s=%q", EnvLogLevel, raw)
		}
	}
	positiveInt := func(key string, dst *int) {
		raw, ok := lookup(key)
		if !ok || raw == "" {
			return
		}
		value, err := strconv.Atoi(raw)
		if err == nil && value <= 0 {
			err = errors.New("must be positive")
		}
		if err != nil {
			logger.Printf("invalid %s=%q: %v", key, raw, err)
			return
		}
		*dst = value
	}
	positiveInt(EnvFrameHz, &c.FrameHz)
	positiveInt(EnvFlowWindow, &c.FlowWindow)

	if raw, ok := lookup(EnvIdleTimeout); ok && raw != "" {
		value, err := time.ParseDuration(raw)
		if err == nil && value <= 0 {
			err = errors.New("must be positive")
		}
		if err != nil {
			logger.Printf("invalid %s=%q: %v", EnvIdleTimeout, raw, err)
		} else {
			c.IdleTimeout = value
		}
	}
}

// FrameInterval is the frame period for FrameHz.
func (c Config) FrameInterval() time.Duration {
	if c.FrameHz <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.FrameHz)
}

// Logging derives the router configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.LogSinks...)
	}
	cfg.MinimumSeverity = c.LogLevel
	if c.LogJSONPath != "" {
		cfg.JSON.FilePath = c.LogJSONPath
	}
	return cfg
}
