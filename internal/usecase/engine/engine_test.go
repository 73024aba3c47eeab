package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

func TestKeyedConstruction_RejectsBlankKeys(t *testing.T) {
	for _, key := range []string{"", "   ", "\t\n"} {
		_, err := NewElevenLabs(key, ModeBalanced, nil)
		require.Error(t, err, "key %q", key)
		assert.ErrorIs(t, err, domain.ErrInvalidCredential)
		assert.Contains(t, err.Error(), "required")
		assert.Contains(t, err.Error(), "non-empty")

		_, err = NewOpenAI(key, ModeBalanced, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidCredential)

		_, err = NewSpeechify(key, ModeBalanced, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidCredential)

		_, err = NewFishAudio(key, ModeBalanced, nil, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	}
}

func TestKeyedConstruction_StoresTrimmedKey(t *testing.T) {
	e, err := NewElevenLabs("  sk-abc123  ", ModeBalanced, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-abc123", e.apiKey)

	o, err := NewOpenAI("\tsk-xyz\n", ModeFast, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-xyz", o.apiKey)
}

func TestDefaultVoice_StableAcrossLanguages(t *testing.T) {
	e, err := NewElevenLabs("key", ModeBalanced, nil)
	require.NoError(t, err)
	assert.Equal(t, e.DefaultVoiceForLanguage("en"), e.DefaultVoiceForLanguage("de"))

	o, err := NewOpenAI("key", ModeBalanced, nil)
	require.NoError(t, err)
	assert.Equal(t, "alloy", o.DefaultVoiceForLanguage("ja"))

	f, err := NewFishAudio("key", ModeBalanced, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, f.DefaultVoiceForLanguage(""), f.DefaultVoiceForLanguage("fr"))
}

func TestGoogleDefaultVoice_FollowsLanguage(t *testing.T) {
	g := NewGoogle(ModeBalanced, nil)
	assert.Equal(t, "es", g.DefaultVoiceForLanguage("es-MX"))
	assert.Equal(t, "de", g.DefaultVoiceForLanguage("de"))
	assert.Equal(t, "en", g.DefaultVoiceForLanguage("zz"))
}

func TestPerformanceMode_PicksModel(t *testing.T) {
	fast, _ := NewElevenLabs("key", ModeFast, nil)
	quality, _ := NewElevenLabs("key", ModeQuality, nil)
	assert.Equal(t, "eleven_flash_v2_5", fast.modelID())
	assert.Equal(t, "eleven_multilingual_v2", quality.modelID())

	unknown, _ := NewElevenLabs("key", PerformanceMode("turbo"), nil)
	assert.Equal(t, ModeBalanced, unknown.Mode())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestElevenLabsSynthesize_SendsKeyAndModel(t *testing.T) {
	var captured *http.Request
	var body []byte

	e, err := NewElevenLabs("sk-test", ModeFast, nil)
	require.NoError(t, err)
	e.httpClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r
		body, _ = io.ReadAll(r.Body)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader([]byte("mp3-bytes"))),
		}, nil
	})

	audio, err := e.Synthesize(context.Background(), "hello chat", "", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), audio)
	assert.Equal(t, "sk-test", captured.Header.Get("xi-api-key"))

	var req elevenLabsRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "hello chat", req.Text)
	assert.Equal(t, "eleven_flash_v2_5", req.ModelID)
}

func TestElevenLabsSynthesize_WrapsAPIErrors(t *testing.T) {
	e, err := NewElevenLabs("sk-test", ModeBalanced, nil)
	require.NoError(t, err)
	e.httpClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Status:     "401 Unauthorized",
			Body:       io.NopCloser(bytes.NewReader([]byte("bad key"))),
		}, nil
	})

	_, err = e.Synthesize(context.Background(), "hello", "", nil)
	require.Error(t, err)
	var synthErr *domain.SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, "elevenlabs", synthErr.Engine)
}

func TestFishAudioStream_RequiresDialer(t *testing.T) {
	f, err := NewFishAudio("key", ModeBalanced, nil, nil)
	require.NoError(t, err)
	assert.False(t, f.SupportsStreaming())

	_, err = f.SynthesizeStream(context.Background(), "hi", "", nil, func(string) {})
	require.Error(t, err)
}
