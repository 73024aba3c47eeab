package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/events"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

// Submitter is the slice of the speech service the socket needs for
// incoming requests.
type Submitter interface {
	SubmitChat(ctx context.Context, userID, username, text string) (string, error)
	SubmitPreview(ctx context.Context, engineID, voiceID, text string, opts map[string]string) (string, error)
}

// QueueControl is the queue surface exposed to configuration clients.
type QueueControl interface {
	Clear()
	Stats() domain.PlaybackStats
	QueueLength() int
}

// GainService applies clamped per-user gain updates.
type GainService interface {
	SetGain(ctx context.Context, userID string, gain float64) (float64, error)
}

// Envelope is the wire form of every outbound notification: the topic as
// type, the DTO as data.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Server exposes the notification WebSocket: it re-broadcasts the playback
// lifecycle topics to every connected client and accepts chat, preview and
// live-event frames from them.
type Server struct {
	addr    string
	log     *zap.Logger
	bus     *events.Bus
	speech  Submitter
	metrics http.Handler

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	httpSrv *http.Server
	queue   QueueControl
	gains   GainService
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func NewServer(addr string, bus *events.Bus, speech Submitter, metricsHandler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		addr:    addr,
		log:     log,
		bus:     bus,
		speech:  speech,
		metrics: metricsHandler,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// SetQueueControl wires the queue surface after construction so the
// configuration frames can act on it.
func (s *Server) SetQueueControl(q QueueControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = q
}

func (s *Server) SetGainService(g GainService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = g
}

// Start serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.forwardTopics(ctx,
		events.TopicPlaybackStarted,
		events.TopicStreamChunk,
		events.TopicStreamEnd,
		events.TopicPlaybackEnded,
		events.TopicGainUpdated,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	srv := &http.Server{Addr: s.addr, Handler: mux}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ws: shutdown error", zap.Error(err))
		}
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// forwardTopics fans each lifecycle topic out to the connected clients as
// a typed envelope.
func (s *Server) forwardTopics(ctx context.Context, topics ...string) {
	for _, topic := range topics {
		topic := topic
		ch, unsub := s.bus.Subscribe(topic)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					s.broadcast(Envelope{Type: topic, Data: payload})
				}
			}
		}()
	}
}

func (s *Server) broadcast(envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		s.log.Warn("ws: marshal envelope", zap.Error(err))
		return
	}

	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(json.RawMessage(payload)); err != nil {
			s.log.Debug("ws: removing client after write error", zap.Error(err))
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			c.conn.Close()
		}
	}
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws: upgrade error", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.log.Info("ws: client connected",
		zap.String("remote", r.RemoteAddr),
		zap.Int("clients", count))

	go s.handleClient(ctx, client)
}

func (s *Server) handleClient(ctx context.Context, client *wsClient) {
	// Shutdown does not touch upgraded connections, so the read loop would
	// otherwise stay blocked until the peer hangs up. Closing the conn on
	// cancel forces ReadMessage to return.
	stop := context.AfterFunc(ctx, func() { client.conn.Close() })
	defer stop()

	defer func() {
		client.conn.Close()
		s.mu.Lock()
		delete(s.clients, client)
		count := len(s.clients)
		s.mu.Unlock()
		s.log.Info("ws: client disconnected", zap.Int("clients", count))
	}()

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws: read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		s.dispatchIncoming(ctx, client, data)
	}
}

type incomingFrame struct {
	Type     string            `json:"type"`
	UserID   string            `json:"user_id"`
	Username string            `json:"username"`
	Text     string            `json:"text"`
	Engine   string            `json:"engine"`
	Voice    string            `json:"voice"`
	Gain     *float64          `json:"gain,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
	Event    *domain.LiveEvent `json:"event,omitempty"`
}

func (s *Server) dispatchIncoming(ctx context.Context, client *wsClient, data []byte) {
	var frame incomingFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.replyError(client, "invalid frame")
		return
	}

	switch strings.ToLower(strings.TrimSpace(frame.Type)) {
	case "chat":
		if s.speech == nil {
			return
		}
		if _, err := s.speech.SubmitChat(ctx, frame.UserID, frame.Username, frame.Text); err != nil {
			s.replyError(client, err.Error())
		}
	case "preview":
		if s.speech == nil {
			return
		}
		if _, err := s.speech.SubmitPreview(ctx, frame.Engine, frame.Voice, frame.Text, frame.Options); err != nil {
			s.replyError(client, err.Error())
		}
	case "live_event":
		if frame.Event == nil || frame.Event.Type == "" {
			s.replyError(client, "live_event frame without event")
			return
		}
		ev := *frame.Event
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now().UTC()
		}
		s.bus.Publish(events.TopicLive(ev.Type), ev)
	case "set_gain":
		s.mu.RLock()
		gains := s.gains
		s.mu.RUnlock()
		if gains == nil {
			return
		}
		if frame.Gain == nil || frame.UserID == "" {
			s.replyError(client, "set_gain frame needs user_id and gain")
			return
		}
		if _, err := gains.SetGain(ctx, frame.UserID, *frame.Gain); err != nil {
			s.replyError(client, err.Error())
		}
	case "clear_queue":
		s.mu.RLock()
		q := s.queue
		s.mu.RUnlock()
		if q != nil {
			q.Clear()
		}
	case "stats":
		s.mu.RLock()
		q := s.queue
		s.mu.RUnlock()
		if q == nil {
			return
		}
		reply := Envelope{Type: "stats", Data: map[string]any{
			"playback":     q.Stats(),
			"queue_length": q.QueueLength(),
		}}
		if err := client.writeJSON(reply); err != nil {
			s.log.Debug("ws: stats reply failed", zap.Error(err))
		}
	default:
		s.replyError(client, "unknown frame type")
	}
}

// replyError answers only the originating client. Policy rejections arrive
// here too; they are normal outcomes for the sender to display.
func (s *Server) replyError(client *wsClient, message string) {
	envelope := Envelope{Type: "submit_error", Data: map[string]string{"error": message}}
	if err := client.writeJSON(envelope); err != nil {
		s.log.Debug("ws: error reply failed", zap.Error(err))
	}
}
