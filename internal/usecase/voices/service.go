package voices

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/events"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
	"github.com/Loggableim/ltth-desktop2-sub002/internal/usecase/engine"
)

// Service owns per-user voice assignments: which engine and voice a user
// speaks with, their gain, and their emotion hint.
type Service struct {
	repo    domain.UserVoiceRepository
	engines *engine.Registry
	bus     *events.Bus
	log     *zap.Logger

	defaultEngine string
	defaultLang   string
}

func New(repo domain.UserVoiceRepository, engines *engine.Registry, bus *events.Bus, defaultEngine, defaultLang string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		engines:       engines,
		bus:           bus,
		log:           log,
		defaultEngine: defaultEngine,
		defaultLang:   defaultLang,
	}
}

// Resolve returns the user's stored assignment, or a default one built
// from the configured engine and language. The result is always usable.
func (s *Service) Resolve(ctx context.Context, userID string) (*domain.UserVoiceSetting, error) {
	if s.repo != nil {
		setting, err := s.repo.GetUserVoice(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("voices: load %s: %w", userID, err)
		}
		if setting != nil {
			return setting, nil
		}
	}
	return s.defaultSetting(userID), nil
}

func (s *Service) defaultSetting(userID string) *domain.UserVoiceSetting {
	setting := &domain.UserVoiceSetting{
		UserID:     userID,
		Engine:     s.defaultEngine,
		VolumeGain: domain.DefaultGain,
	}
	if eng, ok := s.engines.Get(s.defaultEngine); ok {
		setting.VoiceID = eng.DefaultVoiceForLanguage(s.defaultLang)
	}
	return setting
}

// SetVoice assigns an engine and voice to a user. The engine must be
// registered; the voice must be one the engine lists, unless the engine
// publishes no fixed catalog.
func (s *Service) SetVoice(ctx context.Context, userID, engineID, voiceID, emotion string) error {
	eng, ok := s.engines.Get(engineID)
	if !ok {
		return fmt.Errorf("voices: unknown engine %q", engineID)
	}
	if catalog := eng.Voices(); len(catalog) > 0 {
		if _, ok := catalog[voiceID]; !ok {
			return fmt.Errorf("voices: engine %s has no voice %q", eng.ID(), voiceID)
		}
	}

	setting, err := s.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	setting.Engine = eng.ID()
	setting.VoiceID = voiceID
	setting.Emotion = emotion

	if err := s.repo.SaveUserVoice(ctx, setting); err != nil {
		return fmt.Errorf("voices: save %s: %w", userID, err)
	}
	return nil
}

// SetGain clamps the requested gain into the supported range, persists it,
// and notifies subscribers. The clamped value is returned.
func (s *Service) SetGain(ctx context.Context, userID string, gain float64) (float64, error) {
	clamped := domain.ClampGain(gain)

	setting, err := s.Resolve(ctx, userID)
	if err != nil {
		return 0, err
	}
	setting.VolumeGain = clamped

	if err := s.repo.SaveUserVoice(ctx, setting); err != nil {
		return 0, fmt.Errorf("voices: save gain for %s: %w", userID, err)
	}

	if s.bus != nil {
		s.bus.Publish(events.TopicGainUpdated, events.GainUpdatedDTO{
			UserID:     userID,
			VolumeGain: clamped,
		})
	}
	return clamped, nil
}
