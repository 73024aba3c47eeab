package speech

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/events"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/engine"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/gate"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/voices"
)

type fakeGate struct {
	decision gate.Decision
}

func (f *fakeGate) Check(context.Context, string, string, string) gate.Decision {
	return f.decision
}

type fakeQueue struct {
	items []domain.QueueItem
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, item domain.QueueItem) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.items = append(f.items, item)
	return "id-1", nil
}

type memVoices struct {
	records map[string]*domain.UserVoiceSetting
}

func (m *memVoices) GetUserVoice(_ context.Context, userID string) (*domain.UserVoiceSetting, error) {
	return m.records[userID], nil
}

func (m *memVoices) SaveUserVoice(_ context.Context, s *domain.UserVoiceSetting) error {
	m.records[s.UserID] = s
	return nil
}

type stubEngine struct{ id string }

func (s *stubEngine) ID() string                            { return s.id }
func (s *stubEngine) Mode() engine.PerformanceMode          { return engine.ModeBalanced }
func (s *stubEngine) SupportsStreaming() bool               { return false }
func (s *stubEngine) Voices() map[string]engine.Voice       { return nil }
func (s *stubEngine) DefaultVoiceForLanguage(string) string { return "v-default" }
func (s *stubEngine) Synthesize(context.Context, string, string, map[string]string) ([]byte, error) {
	return []byte("pcm"), nil
}

func newService(g *fakeGate, q *fakeQueue, records map[string]*domain.UserVoiceSetting) *Service {
	reg := engine.NewRegistry(zap.NewNop())
	reg.Register(&stubEngine{id: "stub"})
	bus := events.NewBus(zap.NewNop())
	v := voices.New(&memVoices{records: records}, reg, bus, "stub", "en", zap.NewNop())
	return New(g, q, v, reg, nil, "en", zap.NewNop())
}

func TestSubmitChatUsesAssignedVoice(t *testing.T) {
	q := &fakeQueue{}
	s := newService(&fakeGate{decision: gate.Decision{Allowed: true}}, q, map[string]*domain.UserVoiceSetting{
		"u1": {UserID: "u1", Engine: "stub", VoiceID: "v-alt", VolumeGain: 2.0, Emotion: "cheerful"},
	})

	id, err := s.SubmitChat(context.Background(), "u1", "alice", "  hello world  ")
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)

	require.Len(t, q.items, 1)
	item := q.items[0]
	assert.Equal(t, "hello world", item.Text)
	assert.Equal(t, "v-alt", item.VoiceID)
	assert.Equal(t, "stub", item.EngineID)
	assert.Equal(t, 2.0, item.Volume)
	assert.Equal(t, domain.SourceChat, item.Source)
	assert.Equal(t, map[string]string{"emotion": "cheerful"}, item.SynthesisOptions)
}

func TestSubmitChatRejectionsMapToSentinels(t *testing.T) {
	cases := []struct {
		reason domain.RejectReason
		want   error
	}{
		{domain.ReasonDisabled, domain.ErrDisabled},
		{domain.ReasonPermissionDenied, domain.ErrPermissionDenied},
		{domain.ReasonOnCooldown, domain.ErrOnCooldown},
	}
	for _, tc := range cases {
		s := newService(&fakeGate{decision: gate.Decision{Reason: tc.reason}}, &fakeQueue{}, nil)
		_, err := s.SubmitChat(context.Background(), "u1", "alice", "hi")
		assert.ErrorIs(t, err, tc.want, string(tc.reason))
	}
}

func TestSubmitEventCarriesPriorityAndSource(t *testing.T) {
	q := &fakeQueue{}
	s := newService(&fakeGate{decision: gate.Decision{Allowed: true}}, q, nil)

	ev := domain.LiveEvent{Type: domain.EventGift, UserID: "u1", Username: "alice"}
	_, err := s.SubmitEvent(context.Background(), ev, "alice sent a gift!", domain.PriorityHigh)
	require.NoError(t, err)

	require.Len(t, q.items, 1)
	assert.Equal(t, domain.PriorityHigh, q.items[0].Priority)
	assert.Equal(t, "event:gift", q.items[0].Source)
}

func TestSubmitPreviewDefaultsVoice(t *testing.T) {
	q := &fakeQueue{}
	s := newService(&fakeGate{decision: gate.Decision{Allowed: true}}, q, nil)

	_, err := s.SubmitPreview(context.Background(), "stub", "", "testing one two", nil)
	require.NoError(t, err)

	require.Len(t, q.items, 1)
	assert.Equal(t, "v-default", q.items[0].VoiceID)
	assert.Equal(t, domain.SourcePreview, q.items[0].Source)

	_, err = s.SubmitPreview(context.Background(), "missing", "", "hi", nil)
	assert.Error(t, err)
}

func TestSubmitChatTruncatesLongText(t *testing.T) {
	q := &fakeQueue{}
	s := newService(&fakeGate{decision: gate.Decision{Allowed: true}}, q, nil)

	_, err := s.SubmitChat(context.Background(), "u1", "alice", strings.Repeat("a", 600))
	require.NoError(t, err)
	assert.Len(t, q.items[0].Text, maxTextRunes)
}

func TestQueueErrorsPassThrough(t *testing.T) {
	s := newService(&fakeGate{decision: gate.Decision{Allowed: true}}, &fakeQueue{err: domain.ErrQueueFull}, nil)
	_, err := s.SubmitChat(context.Background(), "u1", "alice", "hi")
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}
