package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hegedustibor/htgo-tts/voices"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

// Google fetches audio from the translate endpoint. Keyless, one language
// code per voice; long texts are synthesized in chunks and concatenated.
type Google struct {
	mode       PerformanceMode
	httpClient *http.Client
	log        *zap.Logger
}

func NewGoogle(mode PerformanceMode, log *zap.Logger) *Google {
	if log == nil {
		log = zap.NewNop()
	}
	return &Google{
		mode:       normalizeMode(mode),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

func (g *Google) ID() string              { return "google" }
func (g *Google) Mode() PerformanceMode   { return g.mode }
func (g *Google) SupportsStreaming() bool { return false }

const googleChunkRunes = 200

func (g *Google) Synthesize(ctx context.Context, text, voiceID string, _ map[string]string) ([]byte, error) {
	voice := strings.TrimSpace(voiceID)
	if voice == "" {
		voice = voices.English
	}

	runes := []rune(text)
	buf := bytes.NewBuffer(nil)

	for start := 0; start < len(runes); start += googleChunkRunes {
		end := start + googleChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		audio, err := g.fetchChunk(ctx, string(runes[start:end]), voice)
		if err != nil {
			return nil, err
		}
		buf.Write(audio)
	}

	return buf.Bytes(), nil
}

func (g *Google) fetchChunk(ctx context.Context, text, voice string) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", voice)
	params.Set("total", "1")
	params.Set("idx", "0")
	params.Set("textlen", fmt.Sprintf("%d", len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://translate.google.com/translate_tts?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google: create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &domain.SynthesisError{Engine: g.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.SynthesisError{
			Engine: g.ID(),
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	return io.ReadAll(resp.Body)
}

func (g *Google) Voices() map[string]Voice {
	return map[string]Voice{
		voices.English:    {ID: voices.English, Name: "English (US)", Language: "en"},
		voices.EnglishUK:  {ID: voices.EnglishUK, Name: "English (UK)", Language: "en"},
		voices.Spanish:    {ID: voices.Spanish, Name: "Spanish", Language: "es"},
		voices.German:     {ID: voices.German, Name: "German", Language: "de"},
		voices.French:     {ID: voices.French, Name: "French", Language: "fr"},
		voices.Portuguese: {ID: voices.Portuguese, Name: "Portuguese", Language: "pt"},
	}
}

// DefaultVoiceForLanguage maps a language code to its voice where one
// exists; everything else falls back to English.
func (g *Google) DefaultVoiceForLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if idx := strings.Index(lang, "-"); idx > 0 {
		lang = lang[:idx]
	}
	switch lang {
	case "es":
		return voices.Spanish
	case "de":
		return voices.German
	case "fr":
		return voices.French
	case "pt":
		return voices.Portuguese
	default:
		return voices.English
	}
}
