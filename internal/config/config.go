// Package config loads previewd's runtime configuration from environment
// variables. There is no config file format; every knob is a PVS_* variable.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-derived setting previewd needs at startup.
// Once built in Load, it is treated as read-only and passed down by value or
// pointer to the components that need it.
type Config struct {
	FileRoot   string
	ListenAddr string

	DefaultFormat string
	DefaultWidth  int
	DefaultHeight int
	MaxWidth      int
	MaxHeight     int
	MaxFileSize   int64
	MaxPages      int

	CacheControl time.Duration

	StoreRoot       string
	XAccelRedirect  string
	CleanupMaxSize  int64
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration

	SofficeAddr      string
	SofficePort      int
	SofficeTimeout   time.Duration
	SofficeRetry     int
	MaxOfficeWorkers int

	Workers int

	MetricsEnabled bool

	Plugins string

	IconRoot     string
	IconRedirect string
	IconResize   bool

	LogLevel slog.Level
}

// Load reads the PVS_* environment variables, applying the documented
// defaults for anything unset.
func Load() Config {
	return Config{
		FileRoot:   envOr("PVS_FILES", "/mnt/files"),
		ListenAddr: envOr("PVS_LISTEN_ADDR", ":3000"),

		DefaultFormat: envOr("PVS_DEFAULT_FORMAT", "image"),
		DefaultWidth:  envInt("PVS_DEFAULT_WIDTH", 320),
		DefaultHeight: envInt("PVS_DEFAULT_HEIGHT", 240),
		MaxWidth:      envInt("PVS_MAX_WIDTH", 800),
		MaxHeight:     envInt("PVS_MAX_HEIGHT", 600),
		MaxFileSize:   envInt64("PVS_MAX_FILE_SIZE", 0),
		MaxPages:      envInt("PVS_MAX_PAGES", 0),

		CacheControl: envInterval("PVS_CACHE_CONTROL"),

		StoreRoot:       os.Getenv("PVS_STORE"),
		XAccelRedirect:  os.Getenv("PVS_X_ACCEL_REDIRECT"),
		CleanupMaxSize:  envSize("PVS_CLEANUP_MAX_SIZE", 0),
		CleanupInterval: envIntervalOr("PVS_CLEANUP_INTERVAL", 60*time.Second),
		CleanupMaxAge:   envInterval("PVS_CLEANUP_MAX_AGE"),

		SofficeAddr:      envOr("PVS_SOFFICE_ADDR", "127.0.0.1"),
		SofficePort:      envInt("PVS_SOFFICE_PORT", 2002),
		SofficeTimeout:   envIntervalOr("PVS_SOFFICE_TIMEOUT", 12*time.Second),
		SofficeRetry:     envInt("PVS_SOFFICE_RETRY", 3),
		MaxOfficeWorkers: envInt("PVS_MAX_OFFICE_WORKERS", 0),

		Workers: envInt("PVS_WORKERS", 40),

		MetricsEnabled: envBool("PVS_METRICS"),

		Plugins: os.Getenv("PVS_PLUGINS"),

		IconRoot:     envOr("PVS_ICONS", "icons"),
		IconRedirect: os.Getenv("PVS_ICON_REDIRECT"),
		IconResize:   envBool("PVS_ICON_RESIZE"),

		LogLevel: parseLogLevel(envOr("PVS_LOG_LEVEL", "info")),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return false
	}
	switch v {
	case "0", "off", "no", "false", "none":
		return false
	default:
		return true
	}
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envSize parses a byte count, accepting a plain integer.
func envSize(key string, fallback int64) int64 {
	return envInt64(key, fallback)
}

// unitSeconds maps an interval suffix letter to a seconds multiplier.
var unitSeconds = map[byte]int64{
	'd': 86400,
	'h': 3600,
	'm': 60,
	's': 1,
}

// envInterval parses a duration of the form "<int><unit>" where unit is one
// of d/h/m/s (default seconds when omitted). Returns 0 if unset or invalid.
func envInterval(key string) time.Duration {
	d, ok := parseInterval(os.Getenv(key))
	if !ok {
		return 0
	}
	return d
}

func envIntervalOr(key string, fallback time.Duration) time.Duration {
	d, ok := parseInterval(os.Getenv(key))
	if !ok {
		return fallback
	}
	return d
}

func parseInterval(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ToLower(s)
	unit := int64(1)
	if mult, ok := unitSeconds[s[len(s)-1]]; ok {
		unit = mult
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(n*unit) * time.Second, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
