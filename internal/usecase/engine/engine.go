package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

// PerformanceMode selects the provider-side latency/quality trade-off.
// Quality forces full-buffer synthesis even on streaming-capable engines.
type PerformanceMode string

const (
	ModeFast     PerformanceMode = "fast"
	ModeBalanced PerformanceMode = "balanced"
	ModeQuality  PerformanceMode = "quality"
)

// Voice describes one selectable voice of a provider.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

// Engine is the uniform synthesis capability over one external provider.
// Adapters are constructed once per configured provider and replaced
// wholesale on credential rotation, never mutated in place.
type Engine interface {
	ID() string
	Mode() PerformanceMode
	Synthesize(ctx context.Context, text, voiceID string, opts map[string]string) ([]byte, error)
	Voices() map[string]Voice
	DefaultVoiceForLanguage(lang string) string
	SupportsStreaming() bool
}

// StreamResult is the aggregate a streaming session returns on normal
// completion, for callers that want the whole buffer accounted for.
type StreamResult struct {
	Chunks     int
	Format     string
	TotalBytes int
}

// Streamer is implemented by engines that can drive a low-latency duplex
// session. Chunks arrive base64-encoded, once per frame, in arrival order.
type Streamer interface {
	SynthesizeStream(ctx context.Context, text, voiceID string, opts map[string]string, onChunk func(b64 string)) (*StreamResult, error)
}

// requireAPIKey enforces the construction-time credential rule: valid keys
// are non-empty after trimming, and the trimmed form is what gets stored.
func requireAPIKey(engineID, key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("%s: %w", engineID, domain.ErrInvalidCredential)
	}
	return trimmed, nil
}

func normalizeMode(mode PerformanceMode) PerformanceMode {
	switch mode {
	case ModeFast, ModeBalanced, ModeQuality:
		return mode
	default:
		return ModeBalanced
	}
}
