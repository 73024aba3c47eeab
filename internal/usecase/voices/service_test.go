package voices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/events"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/engine"
)

type memVoices struct {
	records map[string]*domain.UserVoiceSetting
}

func (m *memVoices) GetUserVoice(_ context.Context, userID string) (*domain.UserVoiceSetting, error) {
	return m.records[userID], nil
}

func (m *memVoices) SaveUserVoice(_ context.Context, setting *domain.UserVoiceSetting) error {
	if m.records == nil {
		m.records = make(map[string]*domain.UserVoiceSetting)
	}
	cp := *setting
	m.records[setting.UserID] = &cp
	return nil
}

type stubEngine struct {
	id     string
	voices map[string]engine.Voice
}

func (s *stubEngine) ID() string                            { return s.id }
func (s *stubEngine) Mode() engine.PerformanceMode          { return engine.ModeBalanced }
func (s *stubEngine) SupportsStreaming() bool               { return false }
func (s *stubEngine) Voices() map[string]engine.Voice       { return s.voices }
func (s *stubEngine) DefaultVoiceForLanguage(string) string { return "v-default" }
func (s *stubEngine) Synthesize(_ context.Context, _, _ string, _ map[string]string) ([]byte, error) {
	return []byte("pcm"), nil
}

func newService(repo *memVoices) (*Service, *events.Bus) {
	reg := engine.NewRegistry(zap.NewNop())
	reg.Register(&stubEngine{id: "stub", voices: map[string]engine.Voice{
		"v-default": {ID: "v-default"},
		"v-alt":     {ID: "v-alt"},
	}})
	bus := events.NewBus(zap.NewNop())
	return New(repo, reg, bus, "stub", "en", zap.NewNop()), bus
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	s, _ := newService(&memVoices{})

	setting, err := s.Resolve(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, "stub", setting.Engine)
	assert.Equal(t, "v-default", setting.VoiceID)
	assert.Equal(t, domain.DefaultGain, setting.VolumeGain)
}

func TestSetVoiceValidatesCatalog(t *testing.T) {
	repo := &memVoices{}
	s, _ := newService(repo)
	ctx := context.Background()

	require.NoError(t, s.SetVoice(ctx, "u1", "stub", "v-alt", "cheerful"))
	assert.Equal(t, "v-alt", repo.records["u1"].VoiceID)
	assert.Equal(t, "cheerful", repo.records["u1"].Emotion)

	assert.Error(t, s.SetVoice(ctx, "u1", "stub", "nope", ""))
	assert.Error(t, s.SetVoice(ctx, "u1", "missing", "v-alt", ""))
}

func TestSetGainClampsAndPublishes(t *testing.T) {
	repo := &memVoices{}
	s, bus := newService(repo)

	ch, unsub := bus.Subscribe(events.TopicGainUpdated)
	defer unsub()

	got, err := s.SetGain(context.Background(), "u1", 9.5)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxGain, got)
	assert.Equal(t, domain.MaxGain, repo.records["u1"].VolumeGain)

	dto := (<-ch).(events.GainUpdatedDTO)
	assert.Equal(t, "u1", dto.UserID)
	assert.Equal(t, domain.MaxGain, dto.VolumeGain)

	got, err = s.SetGain(context.Background(), "u1", -2)
	require.NoError(t, err)
	assert.Equal(t, domain.MinGain, got)
}

func TestGainRoundTrip(t *testing.T) {
	repo := &memVoices{}
	s, _ := newService(repo)
	ctx := context.Background()

	// Read-back must equal the clamped value exactly, including the
	// boundaries. A muted user (gain 0.0) stays muted.
	cases := []struct {
		in   float64
		want float64
	}{
		{1.8, 1.8},
		{-2, domain.MinGain},
		{0, domain.MinGain},
		{9.5, domain.MaxGain},
	}
	for _, tc := range cases {
		_, err := s.SetGain(ctx, "u1", tc.in)
		require.NoError(t, err)

		setting, err := s.Resolve(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, tc.want, setting.VolumeGain, "input %v", tc.in)
	}
}
