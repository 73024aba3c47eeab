package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/metrics"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/engine"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/gate"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/voices"
)

// Requests longer than this are truncated, not rejected.
const maxTextRunes = 500

// Queue admits ordered speech items.
type Queue interface {
	Enqueue(ctx context.Context, item domain.QueueItem) (string, error)
}

// AdmissionGate is the policy check every non-preview request passes.
type AdmissionGate interface {
	Check(ctx context.Context, userID, source, eventType string) gate.Decision
}

// Service is the submission front of the pipeline: it gates a request,
// resolves the speaker's voice assignment, and hands the item to the
// queue. All sources (chat, events, previews) funnel through here.
type Service struct {
	gate    AdmissionGate
	queue   Queue
	voices  *voices.Service
	engines *engine.Registry
	metrics *metrics.Metrics
	log     *zap.Logger

	defaultLang string
}

func New(g AdmissionGate, q Queue, v *voices.Service, engines *engine.Registry, m *metrics.Metrics, defaultLang string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		gate:        g,
		queue:       q,
		voices:      v,
		engines:     engines,
		metrics:     m,
		log:         log,
		defaultLang: defaultLang,
	}
}

// SubmitChat queues a chat message for the given user at normal priority.
func (s *Service) SubmitChat(ctx context.Context, userID, username, text string) (string, error) {
	text, err := sanitize(text)
	if err != nil {
		return "", err
	}

	if d := s.gate.Check(ctx, userID, domain.SourceChat, ""); !d.Allowed {
		return "", s.reject(d.Reason)
	}

	setting, err := s.voices.Resolve(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.enqueue(ctx, domain.QueueItem{
		UserID:           userID,
		Username:         username,
		Text:             text,
		VoiceID:          setting.VoiceID,
		EngineID:         setting.Engine,
		SynthesisOptions: optionsFor(setting),
		Volume:           setting.VolumeGain,
		Priority:         domain.PriorityNormal,
		Source:           domain.SourceChat,
	})
}

// SubmitEvent queues a rendered event announcement. The trigger handler
// provides text and priority; the announcement speaks with the event
// user's assigned voice.
func (s *Service) SubmitEvent(ctx context.Context, ev domain.LiveEvent, text string, priority domain.Priority) (string, error) {
	text, err := sanitize(text)
	if err != nil {
		return "", err
	}

	if d := s.gate.Check(ctx, ev.UserID, domain.SourceEvent(ev.Type), ev.Type); !d.Allowed {
		return "", s.reject(d.Reason)
	}

	setting, err := s.voices.Resolve(ctx, ev.UserID)
	if err != nil {
		return "", err
	}
	return s.enqueue(ctx, domain.QueueItem{
		UserID:           ev.UserID,
		Username:         ev.Username,
		Text:             text,
		VoiceID:          setting.VoiceID,
		EngineID:         setting.Engine,
		SynthesisOptions: optionsFor(setting),
		Volume:           setting.VolumeGain,
		Priority:         priority,
		Source:           domain.SourceEvent(ev.Type),
	})
}

// SubmitPreview queues a test utterance on an explicit engine and voice,
// skipping the per-user policy (the master switch still applies).
func (s *Service) SubmitPreview(ctx context.Context, engineID, voiceID, text string, opts map[string]string) (string, error) {
	text, err := sanitize(text)
	if err != nil {
		return "", err
	}

	if d := s.gate.Check(ctx, "", domain.SourcePreview, ""); !d.Allowed {
		return "", s.reject(d.Reason)
	}

	eng, ok := s.engines.Get(engineID)
	if !ok {
		return "", fmt.Errorf("speech: unknown engine %q", engineID)
	}
	if voiceID == "" {
		voiceID = eng.DefaultVoiceForLanguage(s.defaultLang)
	}
	return s.enqueue(ctx, domain.QueueItem{
		Username:         "preview",
		Text:             text,
		VoiceID:          voiceID,
		EngineID:         eng.ID(),
		SynthesisOptions: opts,
		Volume:           domain.DefaultGain,
		Priority:         domain.PriorityNormal,
		Source:           domain.SourcePreview,
	})
}

func (s *Service) enqueue(ctx context.Context, item domain.QueueItem) (string, error) {
	id, err := s.queue.Enqueue(ctx, item)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			s.count(string(domain.ReasonRateLimited))
		case errors.Is(err, domain.ErrQueueFull):
			s.count("queue_full")
		}
		return "", err
	}
	return id, nil
}

func (s *Service) reject(reason domain.RejectReason) error {
	s.count(string(reason))
	switch reason {
	case domain.ReasonDisabled:
		return domain.ErrDisabled
	case domain.ReasonOnCooldown:
		return domain.ErrOnCooldown
	case domain.ReasonRateLimited:
		return domain.ErrRateLimited
	default:
		return domain.ErrPermissionDenied
	}
}

func (s *Service) count(reason string) {
	if s.metrics != nil {
		s.metrics.IncRejected(reason)
	}
}

func optionsFor(setting *domain.UserVoiceSetting) map[string]string {
	if setting.Emotion == "" {
		return nil
	}
	return map[string]string{"emotion": setting.Emotion}
}

func sanitize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("speech: empty text")
	}
	if runes := []rune(text); len(runes) > maxTextRunes {
		text = string(runes[:maxTextRunes])
	}
	return text, nil
}
