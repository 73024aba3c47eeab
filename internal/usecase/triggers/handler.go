package triggers

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/events"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

// TriggerConfig is the per-event-type announcement policy.
type TriggerConfig struct {
	Enabled  bool
	Template string
	// MinValue filters low-value events: gift coins, like count. Zero
	// disables the filter.
	MinValue int
	Cooldown time.Duration
}

// Submitter accepts the rendered announcement for queueing. Implemented by
// the speech service.
type Submitter interface {
	SubmitEvent(ctx context.Context, ev domain.LiveEvent, text string, priority domain.Priority) (string, error)
}

// DefaultConfigs returns the starting trigger table. Gift and like carry a
// value filter so spam events stay silent.
func DefaultConfigs() map[string]TriggerConfig {
	return map[string]TriggerConfig{
		domain.EventGift:      {Enabled: true, Template: "{username} sent {giftName} x{repeatCount}!", MinValue: 1, Cooldown: 10 * time.Second},
		domain.EventFollow:    {Enabled: true, Template: "{username} just followed!", Cooldown: 30 * time.Second},
		domain.EventShare:     {Enabled: true, Template: "{username} shared the stream!", Cooldown: 60 * time.Second},
		domain.EventSubscribe: {Enabled: true, Template: "{username} subscribed!"},
		domain.EventLike:      {Enabled: false, Template: "{username} sent {count} likes!", MinValue: 50, Cooldown: 60 * time.Second},
		domain.EventJoin:      {Enabled: false, Template: "{username} joined!"},
	}
}

// Handler turns live events into speech announcements: it listens on the
// per-type topics, filters and renders each event, and hands the text to
// the submitter. Rejections downstream (gate, queue bounds) are the
// submitter's business.
type Handler struct {
	bus       *events.Bus
	submitter Submitter
	log       *zap.Logger

	highPriority bool

	mu      sync.RWMutex
	configs map[string]TriggerConfig

	dedupe *deduper

	wg     sync.WaitGroup
	unsubs []func()
}

func NewHandler(bus *events.Bus, submitter Submitter, highPriority bool, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		bus:          bus,
		submitter:    submitter,
		log:          log,
		highPriority: highPriority,
		configs:      DefaultConfigs(),
		dedupe:       newDeduper(dedupeTTL),
	}
}

// Reconfigure replaces the trigger table.
func (h *Handler) Reconfigure(configs map[string]TriggerConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configs = configs
}

// Cooldowns exports the per-type cooldowns for the gate policy.
func (h *Handler) Cooldowns() map[string]time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]time.Duration, len(h.configs))
	for eventType, cfg := range h.configs {
		if cfg.Cooldown > 0 {
			out[eventType] = cfg.Cooldown
		}
	}
	return out
}

// Start subscribes one listener per known event type. Stop unsubscribes
// and waits for them.
func (h *Handler) Start(ctx context.Context) {
	for _, eventType := range []string{
		domain.EventGift, domain.EventFollow, domain.EventShare,
		domain.EventSubscribe, domain.EventLike, domain.EventJoin,
	} {
		ch, unsub := h.bus.Subscribe(events.TopicLive(eventType))
		h.unsubs = append(h.unsubs, unsub)

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					ev, ok := payload.(domain.LiveEvent)
					if !ok {
						continue
					}
					h.handle(ctx, ev)
				}
			}
		}()
	}
}

func (h *Handler) Stop() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
	h.wg.Wait()
}

func (h *Handler) handle(ctx context.Context, ev domain.LiveEvent) {
	h.mu.RLock()
	cfg, ok := h.configs[ev.Type]
	h.mu.RUnlock()

	if !ok || !cfg.Enabled {
		return
	}
	if ev.Type != domain.EventLike && h.dedupe.duplicate(signature(ev)) {
		return
	}
	if !h.passesValueFilter(ev, cfg) {
		// Below the threshold the event stays silent, no rejection anywhere.
		return
	}

	text := Render(cfg.Template, ev)
	if text == "" {
		return
	}

	priority := domain.PriorityNormal
	if h.highPriority {
		priority = domain.PriorityHigh
	}

	if _, err := h.submitter.SubmitEvent(ctx, ev, text, priority); err != nil {
		h.log.Debug("event announcement not queued",
			zap.String("event_type", ev.Type),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
	}
}

func (h *Handler) passesValueFilter(ev domain.LiveEvent, cfg TriggerConfig) bool {
	if cfg.MinValue <= 0 {
		return true
	}
	switch ev.Type {
	case domain.EventGift:
		return ev.Coins >= cfg.MinValue
	case domain.EventLike:
		return ev.Count >= cfg.MinValue
	default:
		return true
	}
}

// Render fills a trigger template from the event. Missing identity fields
// fall back to neutral placeholders so the announcement stays speakable.
func Render(template string, ev domain.LiveEvent) string {
	username := ev.Username
	if username == "" {
		username = "someone"
	}
	giftName := ev.GiftName
	if giftName == "" {
		giftName = "a gift"
	}
	repeat := ev.RepeatCount
	if repeat <= 0 {
		repeat = 1
	}

	r := strings.NewReplacer(
		"{username}", username,
		"{giftName}", giftName,
		"{coins}", strconv.Itoa(ev.Coins),
		"{repeatCount}", strconv.Itoa(repeat),
		"{count}", strconv.Itoa(ev.Count),
	)
	return strings.TrimSpace(r.Replace(template))
}
