package events

import (
	"sync"

	"go.uber.org/zap"
)

const (
	// Lifecycle notifications consumed by the avatar/animation surface.
	TopicPlaybackStarted = "playback:started"
	TopicStreamChunk     = "stream:chunk"
	TopicStreamEnd       = "stream:end"
	TopicPlaybackEnded   = "playback:ended"

	TopicGainUpdated = "user:gain_updated"
	TopicAppError    = "app:error"

	// Upstream live events arrive as live:<type> (live:gift, live:follow...).
	TopicLivePrefix = "live:"

	defaultBufferSize = 128
)

func TopicLive(eventType string) string { return TopicLivePrefix + eventType }

// Bus is an in-process topic fan-out. Publish never blocks: subscribers
// with a full buffer drop the payload, and drops are counted per topic.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[int]chan any
	nextSubID int
	closed    bool

	log *zap.Logger

	dropMu     sync.Mutex
	dropCounts map[string]uint64
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs:       make(map[string]map[int]chan any),
		dropCounts: make(map[string]uint64),
		log:        log,
	}
}

func (b *Bus) Publish(topic string, payload any) {
	if topic == "" {
		return
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	channels := make([]chan any, 0, len(b.subs[topic]))
	for _, ch := range b.subs[topic] {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		select {
		case ch <- payload:
		default:
			b.recordDrop(topic)
		}
	}
}

func (b *Bus) Subscribe(topic string) (<-chan any, func()) {
	ch := make(chan any, defaultBufferSize)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan any)
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[topic][id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.subs[topic]
		if !ok {
			return
		}
		if _, exists := subs[id]; !exists {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
		close(ch)
	}

	return ch, unsubscribe
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(b.subs, topic)
	}
}

func (b *Bus) recordDrop(topic string) {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	b.dropCounts[topic]++
	if b.dropCounts[topic]%100 == 1 {
		b.log.Warn("events: dropping messages",
			zap.String("topic", topic),
			zap.Uint64("total_drops", b.dropCounts[topic]))
	}
}
