package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

const streamElementsSpeechURL = "https://api.streamelements.com/kappa/v2/speech"

// StreamElements wraps the public speech endpoint. Keyless.
type StreamElements struct {
	mode       PerformanceMode
	httpClient *http.Client
	log        *zap.Logger
}

func NewStreamElements(mode PerformanceMode, log *zap.Logger) *StreamElements {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamElements{
		mode:       normalizeMode(mode),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

func (s *StreamElements) ID() string              { return "streamelements" }
func (s *StreamElements) Mode() PerformanceMode   { return s.mode }
func (s *StreamElements) SupportsStreaming() bool { return false }

func (s *StreamElements) Synthesize(ctx context.Context, text, voiceID string, _ map[string]string) ([]byte, error) {
	if voiceID == "" {
		voiceID = "Brian"
	}

	params := url.Values{}
	params.Set("voice", voiceID)
	params.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		streamElementsSpeechURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("streamelements: create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.SynthesisError{Engine: s.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.SynthesisError{
			Engine: s.ID(),
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	return io.ReadAll(resp.Body)
}

func (s *StreamElements) Voices() map[string]Voice {
	return map[string]Voice{
		"Brian":    {ID: "Brian", Name: "Brian", Language: "en"},
		"Amy":      {ID: "Amy", Name: "Amy", Language: "en"},
		"Emma":     {ID: "Emma", Name: "Emma", Language: "en"},
		"Conchita": {ID: "Conchita", Name: "Conchita", Language: "es"},
		"Hans":     {ID: "Hans", Name: "Hans", Language: "de"},
	}
}

func (s *StreamElements) DefaultVoiceForLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "es":
		return "Conchita"
	case "de":
		return "Hans"
	default:
		return "Brian"
	}
}
