package stream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/engine"
)

const defaultLiveURL = "wss://api.fish.audio/v1/tts/live"

// Client speaks the framed duplex audio protocol: msgpack-encoded events
// over one WebSocket connection per utterance. Chunks are forwarded to the
// caller the moment they arrive; nothing is accumulated on this side of
// the callback boundary.
type Client struct {
	url            string
	sessionTimeout time.Duration
	dialer         *websocket.Dialer
	log            *zap.Logger
}

func NewClient(url string, sessionTimeout time.Duration, log *zap.Logger) *Client {
	if url == "" {
		url = defaultLiveURL
	}
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:            url,
		sessionTimeout: sessionTimeout,
		dialer:         websocket.DefaultDialer,
		log:            log,
	}
}

type outboundFrame struct {
	Event   string         `msgpack:"event"`
	Request *sessionParams `msgpack:"request,omitempty"`
	Text    string         `msgpack:"text,omitempty"`
}

type sessionParams struct {
	Text        string `msgpack:"text"`
	ReferenceID string `msgpack:"reference_id,omitempty"`
	Format      string `msgpack:"format"`
	Latency     string `msgpack:"latency"`
}

type inboundFrame struct {
	Event   string `msgpack:"event"`
	Audio   []byte `msgpack:"audio"`
	Reason  string `msgpack:"reason"`
	Message string `msgpack:"message"`
}

// Stream runs one session: start → text → flush, then relays audio frames
// until finish, error, or the session timeout. On success it returns the
// aggregate for callers that want the whole buffer accounted for.
func (c *Client) Stream(ctx context.Context, req engine.StreamRequest, onChunk func(b64 string)) (*engine.StreamResult, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+req.APIKey)

	conn, _, err := c.dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		return nil, &domain.SynthesisError{Engine: "stream", Err: fmt.Errorf("dial: %w", err)}
	}
	defer conn.Close()

	for _, frame := range []outboundFrame{
		{Event: "start", Request: &sessionParams{
			ReferenceID: req.VoiceID,
			Format:      req.Format,
			Latency:     req.Latency,
		}},
		{Event: "text", Text: req.Text + " "},
		{Event: "flush"},
	} {
		if err := c.writeFrame(conn, frame); err != nil {
			return nil, &domain.SynthesisError{Engine: "stream", Err: err}
		}
	}

	frames := make(chan inboundFrame, 16)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go c.readLoop(conn, frames, readErr, done)

	timeout := time.NewTimer(c.sessionTimeout)
	defer timeout.Stop()

	result := &engine.StreamResult{Format: req.Format}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, fmt.Errorf("stream session: %w", domain.ErrSynthesisTimeout)
		case err := <-readErr:
			return nil, &domain.SynthesisError{Engine: "stream", Err: err}
		case frame := <-frames:
			switch frame.Event {
			case "audio":
				result.Chunks++
				result.TotalBytes += len(frame.Audio)
				if onChunk != nil {
					onChunk(base64.StdEncoding.EncodeToString(frame.Audio))
				}
			case "finish":
				_ = c.writeFrame(conn, outboundFrame{Event: "stop"})
				c.log.Debug("stream session finished",
					zap.Int("chunks", result.Chunks),
					zap.Int("total_bytes", result.TotalBytes),
					zap.String("reason", frame.Reason))
				return result, nil
			case "error":
				return nil, &domain.SynthesisError{
					Engine: "stream",
					Err:    fmt.Errorf("provider error: %s", frame.Message),
				}
			default:
				// log frames and future event types pass through silently
			}
		}
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, frame outboundFrame) error {
	data, err := msgpack.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", frame.Event, err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Event, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, frames chan<- inboundFrame, readErr chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- fmt.Errorf("read: %w", err):
			case <-done:
			}
			return
		}

		var frame inboundFrame
		if err := msgpack.Unmarshal(data, &frame); err != nil {
			c.log.Warn("stream: undecodable frame", zap.Error(err))
			continue
		}

		select {
		case frames <- frame:
		case <-done:
			return
		}
		if frame.Event == "finish" || frame.Event == "error" {
			return
		}
	}
}

var _ engine.StreamDialer = (*Client)(nil)
