package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

const fishAudioAPIURL = "https://api.fish.audio/v1/tts"

// fishAudioDefaultVoice references the provider's stock English model; the
// model itself is multilingual, so the default holds for every language.
const fishAudioDefaultVoice = "speech-1.6-default"

// StreamRequest carries what one duplex streaming session needs.
type StreamRequest struct {
	APIKey  string
	VoiceID string
	Format  string
	Latency string
	Text    string
}

// StreamDialer opens one low-latency session per utterance. Implemented by
// the streaming protocol client.
type StreamDialer interface {
	Stream(ctx context.Context, req StreamRequest, onChunk func(b64 string)) (*StreamResult, error)
}

// FishAudio is the one streaming-capable provider. Full-buffer synthesis
// goes over msgpack HTTP; low-latency utterances go through the dialer.
type FishAudio struct {
	apiKey     string
	mode       PerformanceMode
	dialer     StreamDialer
	httpClient *http.Client
	log        *zap.Logger
}

func NewFishAudio(apiKey string, mode PerformanceMode, dialer StreamDialer, log *zap.Logger) (*FishAudio, error) {
	key, err := requireAPIKey("fishaudio", apiKey)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FishAudio{
		apiKey:     key,
		mode:       normalizeMode(mode),
		dialer:     dialer,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		log:        log,
	}, nil
}

func (f *FishAudio) ID() string            { return "fishaudio" }
func (f *FishAudio) Mode() PerformanceMode { return f.mode }

// SupportsStreaming reports the raw capability; whether streaming is
// actually used is decided by the queue manager, which also honors the
// quality-mode full-buffer rule.
func (f *FishAudio) SupportsStreaming() bool { return f.dialer != nil }

func (f *FishAudio) latency() string {
	if f.mode == ModeFast {
		return "balanced"
	}
	return "normal"
}

type fishAudioRequest struct {
	Text        string `msgpack:"text"`
	ReferenceID string `msgpack:"reference_id,omitempty"`
	Format      string `msgpack:"format"`
	Latency     string `msgpack:"latency"`
}

func (f *FishAudio) Synthesize(ctx context.Context, text, voiceID string, _ map[string]string) ([]byte, error) {
	if voiceID == "" {
		voiceID = fishAudioDefaultVoice
	}

	body, err := msgpack.Marshal(fishAudioRequest{
		Text:        text,
		ReferenceID: voiceID,
		Format:      "mp3",
		Latency:     f.latency(),
	})
	if err != nil {
		return nil, fmt.Errorf("fishaudio: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fishAudioAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fishaudio: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/msgpack")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &domain.SynthesisError{Engine: f.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.SynthesisError{
			Engine: f.ID(),
			Err:    fmt.Errorf("status %s: %s", resp.Status, respBody),
		}
	}

	return io.ReadAll(resp.Body)
}

// SynthesizeStream drives one duplex session for the utterance.
func (f *FishAudio) SynthesizeStream(ctx context.Context, text, voiceID string, _ map[string]string, onChunk func(b64 string)) (*StreamResult, error) {
	if f.dialer == nil {
		return nil, &domain.SynthesisError{Engine: f.ID(), Err: fmt.Errorf("streaming not configured")}
	}
	if voiceID == "" {
		voiceID = fishAudioDefaultVoice
	}
	return f.dialer.Stream(ctx, StreamRequest{
		APIKey:  f.apiKey,
		VoiceID: voiceID,
		Format:  "mp3",
		Latency: f.latency(),
		Text:    text,
	}, onChunk)
}

func (f *FishAudio) Voices() map[string]Voice {
	return map[string]Voice{
		fishAudioDefaultVoice:  {ID: fishAudioDefaultVoice, Name: "Default"},
		"speech-1.6-energetic": {ID: "speech-1.6-energetic", Name: "Energetic"},
		"speech-1.6-calm":      {ID: "speech-1.6-calm", Name: "Calm"},
	}
}

func (f *FishAudio) DefaultVoiceForLanguage(string) string { return fishAudioDefaultVoice }

var _ Streamer = (*FishAudio)(nil)
