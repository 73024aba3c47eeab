package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/events"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/metrics"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/engine"
)

// Sink receives the decoded-buffer hand-off for local monitoring. Play
// blocks for the duration of the item's playback.
type Sink interface {
	Play(ctx context.Context, item *domain.QueueItem, audio []byte) error
}

type Config struct {
	Engines *engine.Registry
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Sink    Sink
	Log     *zap.Logger

	MaxQueueSize int
	RateLimit    int // synthesis admissions per window
	RateWindow   time.Duration
	SynthTimeout time.Duration
	PostGap      time.Duration
}

// pending wraps a queued item with its pre-generation bookkeeping. The
// audio field is written at most once: by the pre-generation attempt or by
// the playback loop's on-demand path, whichever gets there first.
type pending struct {
	item     *domain.QueueItem
	started  bool          // pre-generation attempt issued
	finished bool          // attempt completed (either way)
	err      error         // attempt failure, recovered locally
	done     chan struct{} // closed when the attempt completes
}

// Manager orders requests, runs pre-generation one item ahead of the
// playback cursor, and drives engines and the streaming client. Exactly
// one item is playing at any time.
type Manager struct {
	cfg Config

	mu            sync.Mutex
	cond          *sync.Cond
	queue         []*pending
	closed        bool
	current       *pending
	currentCancel context.CancelFunc
	stats         domain.PlaybackStats
	admissions    []time.Time

	wg sync.WaitGroup
}

func New(cfg Config) *Manager {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = 20 * time.Second
	}
	m := &Manager{cfg: cfg}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Enqueue admits an item into the queue in priority-then-FIFO position.
// It returns the assigned id, or ErrQueueFull / ErrRateLimited when an
// admission bound is hit.
func (m *Manager) Enqueue(_ context.Context, item domain.QueueItem) (string, error) {
	if item.Text == "" {
		return "", fmt.Errorf("queue: empty text")
	}

	eng, ok := m.cfg.Engines.Get(item.EngineID)
	if !ok {
		return "", fmt.Errorf("queue: unknown engine %q", item.EngineID)
	}
	// Quality mode forces full-buffer synthesis even when the provider
	// could stream.
	item.IsStreaming = eng.SupportsStreaming() && eng.Mode() != engine.ModeQuality

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", fmt.Errorf("queue: stopped")
	}
	if len(m.queue) >= m.cfg.MaxQueueSize {
		return "", domain.ErrQueueFull
	}

	now := time.Now()
	m.pruneAdmissionsLocked(now)
	if len(m.admissions) >= m.cfg.RateLimit {
		return "", domain.ErrRateLimited
	}
	m.admissions = append(m.admissions, now)

	item.ID = uuid.NewString()
	item.EnqueuedAt = now
	if item.Volume <= 0 {
		item.Volume = domain.DefaultGain
	}
	if item.Speed <= 0 {
		item.Speed = 1.0
	}

	p := &pending{item: &item}
	idx := len(m.queue)
	for i, queued := range m.queue {
		if queued.item.Priority < item.Priority {
			idx = i
			break
		}
	}
	m.queue = append(m.queue, nil)
	copy(m.queue[idx+1:], m.queue[idx:])
	m.queue[idx] = p

	m.setDepthLocked()
	m.cond.Broadcast()
	return item.ID, nil
}

func (m *Manager) pruneAdmissionsLocked(now time.Time) {
	kept := m.admissions[:0]
	for _, t := range m.admissions {
		if now.Sub(t) < m.cfg.RateWindow {
			kept = append(kept, t)
		}
	}
	m.admissions = kept
}

func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.closed = true
		if m.currentCancel != nil {
			m.currentCancel()
		}
		m.mu.Unlock()
		m.cond.Broadcast()
	}()
	go func() {
		defer m.wg.Done()
		m.playbackLoop(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pregenLoop(ctx)
	}()
}

// Stop halts processing and waits for both loops. The open streaming
// session (if any) is closed through the current item's context.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.closed = true
	if m.currentCancel != nil {
		m.currentCancel()
	}
	m.queue = nil
	m.mu.Unlock()
	m.cond.Broadcast()

	m.wg.Wait()
	return nil
}

// Clear drops every waiting item, aborts the one playing, and resets the
// playback stats. In-flight pre-generation calls are not awaited; their
// results land on items nothing references anymore.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.queue = nil
	if m.currentCancel != nil {
		m.currentCancel()
	}
	m.stats = domain.PlaybackStats{}
	m.setDepthLocked()
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *Manager) Stats() domain.PlaybackStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) setDepthLocked() {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SetQueueDepth(len(m.queue))
	}
}

func (m *Manager) playbackLoop(ctx context.Context) {
	for {
		p, ok := m.nextPlayback(ctx)
		if !ok {
			return
		}
		m.play(ctx, p)

		if m.cfg.PostGap > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.PostGap):
			}
		}
	}
}

func (m *Manager) nextPlayback(ctx context.Context) (*pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.closed {
			return nil, false
		}
		if len(m.queue) > 0 {
			p := m.queue[0]
			m.queue = m.queue[1:]
			m.setDepthLocked()
			m.cond.Broadcast() // the pre-generation loop re-evaluates the new head
			return p, true
		}
		m.cond.Wait()
		if ctx.Err() != nil {
			return nil, false
		}
	}
}

func (m *Manager) setCurrent(p *pending, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = p
	m.currentCancel = cancel
}

func (m *Manager) clearCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.currentCancel = nil
}

type pregenOutcome int

const (
	outcomeHit pregenOutcome = iota
	outcomeMiss
)

func (m *Manager) play(ctx context.Context, p *pending) {
	childCtx, cancel := context.WithCancel(ctx)
	m.setCurrent(p, cancel)
	defer cancel()
	defer m.clearCurrent()

	it := p.item
	if it.IsStreaming {
		m.playStreaming(childCtx, it)
		return
	}

	audio, outcome, err := m.obtainAudio(childCtx, p)
	if err != nil {
		// Failed items are dropped, not retried, so they cannot block the
		// head of the queue.
		m.cfg.Log.Warn("synthesis failed, dropping item",
			zap.String("id", it.ID),
			zap.String("engine", it.EngineID),
			zap.Error(err))
		m.publish(events.TopicPlaybackEnded, events.NewPlaybackEndedDTO(it.ID, err))
		return
	}

	m.mu.Lock()
	if outcome == outcomeHit {
		m.stats.PreGenerationHits++
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.IncPregenHit()
		}
	} else {
		m.stats.PreGenerationMisses++
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.IncPregenMiss()
		}
	}
	m.mu.Unlock()

	it.AudioData = audio
	m.publish(events.TopicPlaybackStarted, events.PlaybackStartedDTO{
		ID:          it.ID,
		UserID:      it.UserID,
		Username:    it.Username,
		Text:        it.Text,
		Source:      it.Source,
		Duration:    estimateDuration(audio),
		Volume:      it.Volume,
		Speed:       it.Speed,
		IsStreaming: false,
		StartedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})

	if m.cfg.Sink != nil {
		if err := m.cfg.Sink.Play(childCtx, it, audio); err != nil && childCtx.Err() == nil {
			m.cfg.Log.Warn("local playback failed", zap.String("id", it.ID), zap.Error(err))
		}
	}

	m.mu.Lock()
	m.stats.TotalPlayed++
	m.mu.Unlock()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.IncPlayed()
	}
	m.publish(events.TopicPlaybackEnded, events.NewPlaybackEndedDTO(it.ID, nil))
}

// obtainAudio resolves an item's audio when playback reaches it: a hit if
// pre-generation already delivered, otherwise a miss served by awaiting
// the in-flight attempt (bounded by its own timeout) or by a fresh
// on-demand call.
func (m *Manager) obtainAudio(ctx context.Context, p *pending) ([]byte, pregenOutcome, error) {
	m.mu.Lock()
	if len(p.item.AudioData) > 0 {
		audio := p.item.AudioData
		m.mu.Unlock()
		return audio, outcomeHit, nil
	}
	inFlight := p.started && !p.finished
	done := p.done
	m.mu.Unlock()

	if inFlight {
		select {
		case <-ctx.Done():
			return nil, outcomeMiss, ctx.Err()
		case <-done:
		}
		m.mu.Lock()
		audio := p.item.AudioData
		m.mu.Unlock()
		if len(audio) > 0 {
			return audio, outcomeMiss, nil
		}
		// The attempt failed; fall through to on-demand.
	}

	audio, err := m.synthesize(ctx, p.item)
	return audio, outcomeMiss, err
}

func (m *Manager) synthesize(ctx context.Context, it *domain.QueueItem) ([]byte, error) {
	eng, ok := m.cfg.Engines.Get(it.EngineID)
	if !ok {
		return nil, fmt.Errorf("queue: unknown engine %q", it.EngineID)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.SynthTimeout)
	defer cancel()

	audio, err := eng.Synthesize(callCtx, it.Text, it.VoiceID, it.SynthesisOptions)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("engine %s: %w", it.EngineID, domain.ErrSynthesisTimeout)
		}
		return nil, err
	}
	return audio, nil
}

func (m *Manager) playStreaming(ctx context.Context, it *domain.QueueItem) {
	eng, _ := m.cfg.Engines.Get(it.EngineID)
	streamer, ok := eng.(engine.Streamer)
	if !ok {
		m.publish(events.TopicPlaybackEnded, events.NewPlaybackEndedDTO(it.ID,
			fmt.Errorf("engine %s cannot stream", it.EngineID)))
		return
	}

	m.publish(events.TopicPlaybackStarted, events.PlaybackStartedDTO{
		ID:          it.ID,
		UserID:      it.UserID,
		Username:    it.Username,
		Text:        it.Text,
		Source:      it.Source,
		Volume:      it.Volume,
		Speed:       it.Speed,
		IsStreaming: true,
		StartedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})

	first := true
	result, err := streamer.SynthesizeStream(ctx, it.Text, it.VoiceID, it.SynthesisOptions, func(b64 string) {
		m.publish(events.TopicStreamChunk, events.StreamChunkDTO{
			ID:      it.ID,
			Chunk:   b64,
			IsFirst: first,
			Volume:  it.Volume,
			Speed:   it.Speed,
		})
		first = false
	})
	if err != nil {
		// A session failure terminates only this item; downstream gets a
		// terminal notification for cleanup.
		m.cfg.Log.Warn("streaming session failed",
			zap.String("id", it.ID),
			zap.String("engine", it.EngineID),
			zap.Error(err))
		m.publish(events.TopicPlaybackEnded, events.NewPlaybackEndedDTO(it.ID, err))
		return
	}

	m.publish(events.TopicStreamEnd, events.StreamEndDTO{ID: it.ID, Format: result.Format})

	m.mu.Lock()
	m.stats.TotalPlayed++
	m.mu.Unlock()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.IncPlayed()
	}
	m.publish(events.TopicPlaybackEnded, events.NewPlaybackEndedDTO(it.ID, nil))
}

// pregenLoop watches one item ahead of the playback cursor and synthesizes
// it early so playback finds the audio already there.
func (m *Manager) pregenLoop(ctx context.Context) {
	for {
		p, ok := m.nextPregen(ctx)
		if !ok {
			return
		}
		m.pregenerate(ctx, p)
	}
}

func (m *Manager) nextPregen(ctx context.Context) (*pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.closed {
			return nil, false
		}
		if len(m.queue) > 0 {
			p := m.queue[0]
			if !p.item.IsStreaming && len(p.item.AudioData) == 0 && !p.started {
				p.started = true
				p.done = make(chan struct{})
				return p, true
			}
		}
		m.cond.Wait()
		if ctx.Err() != nil {
			return nil, false
		}
	}
}

func (m *Manager) pregenerate(ctx context.Context, p *pending) {
	audio, err := m.synthesize(ctx, p.item)

	m.mu.Lock()
	p.finished = true
	if err != nil {
		// Recovered locally: counted and logged, the item still plays via
		// the on-demand fallback on its turn.
		p.err = err
		m.stats.PreGenerationErrors++
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.IncPregenError()
		}
		m.cfg.Log.Warn("pre-generation failed",
			zap.String("id", p.item.ID),
			zap.String("engine", p.item.EngineID),
			zap.Error(err))
	} else {
		p.item.AudioData = audio
	}
	close(p.done)
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *Manager) publish(topic string, payload any) {
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(topic, payload)
	}
}

// estimateDuration approximates playback seconds from mp3 size at the
// 128 kbit/s the engines request.
func estimateDuration(audio []byte) float64 {
	return float64(len(audio)) / 16000.0
}
