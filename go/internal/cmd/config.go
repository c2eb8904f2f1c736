package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/shifter/go/internal/shift/bridge"
	"github.com/mcdev12/shifter/go/internal/shift/settings"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
)

const defaultSettingsPath = "shifter.yaml"

// Config is the process configuration: the settings file overlaid with
// environment variables
type Config struct {
	SettingsPath    string
	ServerID        string
	SocketDir       string
	StatusAddr      string
	NatsURL         string
	SubjectPrefix   string
	LogLevel        string
	ConnectTimeout  time.Duration
	ShiftTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	if secs := getEnvAsInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// loadConfig opens the settings file at path and applies env overrides.
// The returned file keeps serving interval settings as it is edited.
func loadConfig(path string) (*Config, *settings.File, error) {
	if path == "" {
		path = getEnv("SHIFTER_SETTINGS", defaultSettingsPath)
	}

	file, err := settings.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}
	v := file.Values()

	cfg := &Config{
		SettingsPath:    path,
		ServerID:        getEnv("SHIFTER_SERVER_ID", v.ServerID),
		SocketDir:       getEnv("SHIFTER_SOCKET_DIR", v.SocketDir),
		StatusAddr:      getEnv("SHIFTER_STATUS_ADDR", v.StatusAddr),
		NatsURL:         getEnv("NATS_URL", v.NatsURL),
		SubjectPrefix:   getEnv("SHIFTER_SUBJECT_PREFIX", v.SubjectPrefix),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ConnectTimeout:  getEnvAsSeconds("SHIFTER_CONNECT_TIMEOUT_SECONDS", 2*time.Second),
		ShiftTimeout:    getEnvAsSeconds("SHIFTER_SHIFT_TIMEOUT_SECONDS", bridge.DefaultRequestTimeout),
		ShutdownTimeout: getEnvAsSeconds("SHIFTER_SHUTDOWN_TIMEOUT_SECONDS", 10*time.Second),
	}
	if cfg.ServerID == "" {
		return nil, nil, fmt.Errorf("server id is required")
	}
	return cfg, file, nil
}

// Address is the socket every window of this server id meets on
func (c *Config) Address() string {
	return transport.AddressFor(c.SocketDir, c.ServerID)
}

func setupLogging(level string, debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
