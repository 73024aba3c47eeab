package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup from the
// environment (with .env support for local runs). Credentials seeded here
// land in the settings store so the configuration surface can rotate them
// later.
type Config struct {
	WSAddr      string
	DBPath      string
	MetricsAddr string

	DefaultEngine   string
	DefaultLanguage string
	PerformanceMode string

	QueueMax       int
	RateLimit      int
	RateWindow     time.Duration
	SynthTimeout   time.Duration
	StreamTimeout  time.Duration
	StreamEndpoint string

	EventsHighPriority bool

	// Provider API keys seeded from the environment; empty entries are
	// skipped.
	Credentials map[string]string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		WSAddr:             envString("LTTH_WS_ADDR", ":8765"),
		DBPath:             envString("LTTH_DB_PATH", "data/speech.db"),
		MetricsAddr:        envString("LTTH_METRICS_ADDR", ""),
		DefaultEngine:      envString("LTTH_DEFAULT_ENGINE", "google"),
		DefaultLanguage:    envString("LTTH_DEFAULT_LANG", "en"),
		PerformanceMode:    envString("LTTH_PERFORMANCE_MODE", "balanced"),
		QueueMax:           envInt("LTTH_QUEUE_MAX", 50),
		RateLimit:          envInt("LTTH_RATE_LIMIT", 30),
		RateWindow:         envSeconds("LTTH_RATE_WINDOW_SEC", time.Minute),
		SynthTimeout:       envSeconds("LTTH_SYNTH_TIMEOUT_SEC", 20*time.Second),
		StreamTimeout:      envSeconds("LTTH_STREAM_TIMEOUT_SEC", 30*time.Second),
		StreamEndpoint:     envString("LTTH_STREAM_ENDPOINT", ""),
		EventsHighPriority: envBool("LTTH_EVENTS_HIGH_PRIORITY", true),
		Credentials: map[string]string{
			"elevenlabs": os.Getenv("LTTH_ELEVENLABS_API_KEY"),
			"openai":     os.Getenv("LTTH_OPENAI_API_KEY"),
			"speechify":  os.Getenv("LTTH_SPEECHIFY_API_KEY"),
			"fishaudio":  os.Getenv("LTTH_FISHAUDIO_API_KEY"),
		},
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v != "false" && v != "0"
}
