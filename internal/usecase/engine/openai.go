package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

const openAISpeechURL = "https://api.openai.com/v1/audio/speech"

// OpenAI synthesizes via the /v1/audio/speech endpoint. One multilingual
// model, so the default voice does not depend on the language.
type OpenAI struct {
	apiKey     string
	mode       PerformanceMode
	httpClient *http.Client
	log        *zap.Logger
}

func NewOpenAI(apiKey string, mode PerformanceMode, log *zap.Logger) (*OpenAI, error) {
	key, err := requireAPIKey("openai", apiKey)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAI{
		apiKey:     key,
		mode:       normalizeMode(mode),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}, nil
}

func (o *OpenAI) ID() string              { return "openai" }
func (o *OpenAI) Mode() PerformanceMode   { return o.mode }
func (o *OpenAI) SupportsStreaming() bool { return false }

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

func (o *OpenAI) Synthesize(ctx context.Context, text, voiceID string, opts map[string]string) ([]byte, error) {
	if voiceID == "" {
		voiceID = "alloy"
	}

	model := "tts-1"
	if o.mode == ModeQuality {
		model = "tts-1-hd"
	}

	payload := openAISpeechRequest{
		Model:          model,
		Input:          text,
		Voice:          voiceID,
		ResponseFormat: "mp3",
	}
	if raw, ok := opts["speed"]; ok {
		if speed, err := strconv.ParseFloat(raw, 64); err == nil && speed > 0 {
			payload.Speed = speed
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAISpeechURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &domain.SynthesisError{Engine: o.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.SynthesisError{
			Engine: o.ID(),
			Err:    fmt.Errorf("status %s: %s", resp.Status, respBody),
		}
	}

	return io.ReadAll(resp.Body)
}

func (o *OpenAI) Voices() map[string]Voice {
	return map[string]Voice{
		"alloy":   {ID: "alloy", Name: "Alloy"},
		"echo":    {ID: "echo", Name: "Echo"},
		"fable":   {ID: "fable", Name: "Fable"},
		"onyx":    {ID: "onyx", Name: "Onyx"},
		"nova":    {ID: "nova", Name: "Nova"},
		"shimmer": {ID: "shimmer", Name: "Shimmer"},
	}
}

func (o *OpenAI) DefaultVoiceForLanguage(string) string { return "alloy" }
