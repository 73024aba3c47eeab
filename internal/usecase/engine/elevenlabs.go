package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1/text-to-speech"

// defaultElevenLabsVoice is Rachel, usable by every account.
const defaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"

// ElevenLabs synthesizes via the ElevenLabs HTTP API. The model is picked
// from the performance mode; all models are multilingual, so the default
// voice is the same for every language.
type ElevenLabs struct {
	apiKey     string
	mode       PerformanceMode
	httpClient *http.Client
	log        *zap.Logger
}

func NewElevenLabs(apiKey string, mode PerformanceMode, log *zap.Logger) (*ElevenLabs, error) {
	key, err := requireAPIKey("elevenlabs", apiKey)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ElevenLabs{
		apiKey:     key,
		mode:       normalizeMode(mode),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}, nil
}

func (e *ElevenLabs) ID() string              { return "elevenlabs" }
func (e *ElevenLabs) Mode() PerformanceMode   { return e.mode }
func (e *ElevenLabs) SupportsStreaming() bool { return false }

func (e *ElevenLabs) modelID() string {
	switch e.mode {
	case ModeFast:
		return "eleven_flash_v2_5"
	case ModeQuality:
		return "eleven_multilingual_v2"
	default:
		return "eleven_turbo_v2_5"
	}
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string, opts map[string]string) ([]byte, error) {
	if voiceID == "" {
		voiceID = defaultElevenLabsVoice
	}

	settings := elevenLabsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if opts["emotion"] == "expressive" {
		settings.Style = 0.6
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       e.modelID(),
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s?output_format=mp3_44100_128", elevenLabsAPIURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &domain.SynthesisError{Engine: e.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.SynthesisError{
			Engine: e.ID(),
			Err:    fmt.Errorf("status %s: %s", resp.Status, respBody),
		}
	}

	return io.ReadAll(resp.Body)
}

func (e *ElevenLabs) Voices() map[string]Voice {
	return map[string]Voice{
		defaultElevenLabsVoice: {ID: defaultElevenLabsVoice, Name: "Rachel"},
		"AZnzlk1XvdvUeBnXmlld": {ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi"},
		"EXAVITQu4vr4xnSDxMaL": {ID: "EXAVITQu4vr4xnSDxMaL", Name: "Bella"},
		"TxGEqnHWrfWFTfGW9XjX": {ID: "TxGEqnHWrfWFTfGW9XjX", Name: "Josh"},
	}
}

func (e *ElevenLabs) DefaultVoiceForLanguage(string) string {
	return defaultElevenLabsVoice
}
