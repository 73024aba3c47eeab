package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

const speechifyAPIURL = "https://api.sws.speechify.com/v1/audio/speech"

// Speechify synthesizes via the Speechify audio API. The response carries
// the audio as base64 inside a JSON envelope.
type Speechify struct {
	apiKey     string
	mode       PerformanceMode
	httpClient *http.Client
	log        *zap.Logger
}

func NewSpeechify(apiKey string, mode PerformanceMode, log *zap.Logger) (*Speechify, error) {
	key, err := requireAPIKey("speechify", apiKey)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Speechify{
		apiKey:     key,
		mode:       normalizeMode(mode),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}, nil
}

func (s *Speechify) ID() string              { return "speechify" }
func (s *Speechify) Mode() PerformanceMode   { return s.mode }
func (s *Speechify) SupportsStreaming() bool { return false }

type speechifyRequest struct {
	Input       string `json:"input"`
	VoiceID     string `json:"voice_id"`
	AudioFormat string `json:"audio_format"`
	Model       string `json:"model,omitempty"`
}

type speechifyResponse struct {
	AudioData   string `json:"audio_data"`
	AudioFormat string `json:"audio_format"`
}

func (s *Speechify) Synthesize(ctx context.Context, text, voiceID string, opts map[string]string) ([]byte, error) {
	if voiceID == "" {
		voiceID = "george"
	}

	model := "simba-base"
	if s.mode == ModeQuality {
		model = "simba-multilingual"
	}

	payload := speechifyRequest{
		Input:       text,
		VoiceID:     voiceID,
		AudioFormat: "mp3",
		Model:       model,
	}
	if emotion := opts["emotion"]; emotion != "" {
		payload.Input = fmt.Sprintf("<speak><speechify:style emotion=%q>%s</speechify:style></speak>", emotion, text)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("speechify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, speechifyAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speechify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.SynthesisError{Engine: s.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.SynthesisError{
			Engine: s.ID(),
			Err:    fmt.Errorf("status %s: %s", resp.Status, respBody),
		}
	}

	var decoded speechifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &domain.SynthesisError{Engine: s.ID(), Err: fmt.Errorf("decode response: %w", err)}
	}

	audio, err := base64.StdEncoding.DecodeString(decoded.AudioData)
	if err != nil {
		return nil, &domain.SynthesisError{Engine: s.ID(), Err: fmt.Errorf("decode audio: %w", err)}
	}
	return audio, nil
}

func (s *Speechify) Voices() map[string]Voice {
	return map[string]Voice{
		"george": {ID: "george", Name: "George"},
		"henry":  {ID: "henry", Name: "Henry"},
		"lisa":   {ID: "lisa", Name: "Lisa"},
	}
}

func (s *Speechify) DefaultVoiceForLanguage(string) string { return "george" }
