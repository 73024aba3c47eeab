package stream

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/engine"
)

var upgrader = websocket.Upgrader{}

// fakeProvider runs a WS endpoint that validates the handshake and plays
// back the scripted inbound frames once it has seen the flush event.
func fakeProvider(t *testing.T, script []inboundFrame) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		sawStart := false
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame outboundFrame
			require.NoError(t, msgpack.Unmarshal(data, &frame))
			switch frame.Event {
			case "start":
				sawStart = true
				assert.Equal(t, "mp3", frame.Request.Format)
			case "flush":
				require.True(t, sawStart, "flush before start")
				for _, out := range script {
					payload, err := msgpack.Marshal(out)
					require.NoError(t, err)
					require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))
				}
			case "stop":
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestStream_ForwardsChunksInArrivalOrder(t *testing.T) {
	srv := fakeProvider(t, []inboundFrame{
		{Event: "audio", Audio: []byte("one")},
		{Event: "audio", Audio: []byte("two")},
		{Event: "audio", Audio: []byte("three")},
		{Event: "finish", Reason: "stop"},
	})
	defer srv.Close()

	client := NewClient(wsURL(srv), 5*time.Second, nil)

	var got []string
	result, err := client.Stream(context.Background(), engine.StreamRequest{
		APIKey: "test-key",
		Format: "mp3",
		Text:   "hello stream",
	}, func(b64 string) {
		decoded, err := base64.StdEncoding.DecodeString(b64)
		require.NoError(t, err)
		got = append(got, string(decoded))
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, len("onetwothree"), result.TotalBytes)
	assert.Equal(t, "mp3", result.Format)
}

func TestStream_ProviderErrorAbortsSession(t *testing.T) {
	srv := fakeProvider(t, []inboundFrame{
		{Event: "audio", Audio: []byte("partial")},
		{Event: "error", Message: "voice not found"},
	})
	defer srv.Close()

	client := NewClient(wsURL(srv), 5*time.Second, nil)
	_, err := client.Stream(context.Background(), engine.StreamRequest{
		APIKey: "test-key",
		Format: "mp3",
		Text:   "hello",
	}, nil)

	require.Error(t, err)
	var synthErr *domain.SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Contains(t, synthErr.Error(), "voice not found")
}

func TestStream_TimesOutWithoutTerminalFrame(t *testing.T) {
	// Server that accepts the session but never answers.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewClient(wsURL(srv), 100*time.Millisecond, nil)
	_, err := client.Stream(context.Background(), engine.StreamRequest{
		APIKey: "test-key",
		Format: "mp3",
		Text:   "hello",
	}, nil)

	require.ErrorIs(t, err, domain.ErrSynthesisTimeout)
}
