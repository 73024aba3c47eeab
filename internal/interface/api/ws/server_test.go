package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/events"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

type stubSubmitter struct {
	chatErr error
	chats   chan string
}

func (s *stubSubmitter) SubmitChat(_ context.Context, _, _, text string) (string, error) {
	if s.chatErr != nil {
		return "", s.chatErr
	}
	if s.chats != nil {
		s.chats <- text
	}
	return "id", nil
}

func (s *stubSubmitter) SubmitPreview(context.Context, string, string, string, map[string]string) (string, error) {
	return "id", nil
}

func dialTestServer(t *testing.T, submitter Submitter) (*Server, *events.Bus, *websocket.Conn) {
	t.Helper()

	bus := events.NewBus(zap.NewNop())
	s := NewServer("", bus, submitter, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	s.forwardTopics(ctx,
		events.TopicPlaybackStarted,
		events.TopicStreamChunk,
		events.TopicPlaybackEnded,
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		srv.Close()
		bus.Close()
	})
	return s, bus, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	return raw.Type, raw.Data
}

func TestBroadcastLifecycleEnvelope(t *testing.T) {
	_, bus, conn := dialTestServer(t, nil)

	// The connect handler registers the client asynchronously.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.TopicPlaybackStarted, events.PlaybackStartedDTO{
		ID:       "item-1",
		Username: "alice",
		Text:     "hello",
	})

	typ, data := readEnvelope(t, conn)
	assert.Equal(t, events.TopicPlaybackStarted, typ)

	var dto events.PlaybackStartedDTO
	require.NoError(t, json.Unmarshal(data, &dto))
	assert.Equal(t, "item-1", dto.ID)
	assert.Equal(t, "alice", dto.Username)
}

func TestIncomingLiveEventFrame(t *testing.T) {
	_, bus, conn := dialTestServer(t, nil)

	got, unsub := bus.Subscribe(events.TopicLive(domain.EventGift))
	defer unsub()

	frame := map[string]any{
		"type": "live_event",
		"event": map[string]any{
			"type":      domain.EventGift,
			"user_id":   "u1",
			"username":  "bob",
			"gift_name": "Rose",
			"coins":     5,
		},
	}
	require.NoError(t, conn.WriteJSON(frame))

	select {
	case payload := <-got:
		ev := payload.(domain.LiveEvent)
		assert.Equal(t, "bob", ev.Username)
		assert.Equal(t, 5, ev.Coins)
		assert.False(t, ev.ReceivedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("live event not republished")
	}
}

func TestIncomingChatFrame(t *testing.T) {
	sub := &stubSubmitter{chats: make(chan string, 1)}
	_, _, conn := dialTestServer(t, sub)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "chat",
		"user_id":  "u1",
		"username": "alice",
		"text":     "read this",
	}))

	select {
	case text := <-sub.chats:
		assert.Equal(t, "read this", text)
	case <-time.After(2 * time.Second):
		t.Fatal("chat frame not submitted")
	}
}

type stubQueueControl struct {
	cleared atomic.Int32
	stats   domain.PlaybackStats
}

func (s *stubQueueControl) Clear()                      { s.cleared.Add(1) }
func (s *stubQueueControl) Stats() domain.PlaybackStats { return s.stats }
func (s *stubQueueControl) QueueLength() int            { return 3 }

func TestConfigurationFrames(t *testing.T) {
	s, _, conn := dialTestServer(t, nil)

	q := &stubQueueControl{stats: domain.PlaybackStats{TotalPlayed: 7}}
	s.SetQueueControl(q)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "stats"}))
	typ, data := readEnvelope(t, conn)
	assert.Equal(t, "stats", typ)

	var body struct {
		Playback    domain.PlaybackStats `json:"playback"`
		QueueLength int                  `json:"queue_length"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, int64(7), body.Playback.TotalPlayed)
	assert.Equal(t, 3, body.QueueLength)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "clear_queue"}))
	require.Eventually(t, func() bool { return q.cleared.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestShutdownUnblocksConnectedClients(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	s := NewServer("", bus, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		bus.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.clients) == 1
	}, time.Second, 5*time.Millisecond)

	// Canceling the server context must close the connection even though
	// the client never sends a frame.
	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.clients) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRejectionRepliesToSender(t *testing.T) {
	sub := &stubSubmitter{chatErr: domain.ErrPermissionDenied}
	_, _, conn := dialTestServer(t, sub)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "chat", "user_id": "u1", "text": "hi",
	}))

	typ, data := readEnvelope(t, conn)
	assert.Equal(t, "submit_error", typ)

	var body map[string]string
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Contains(t, body["error"], "not permitted")
}
