package domain

import "time"

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Source tags where a request came from. Event-triggered requests use
// SourceEvent(<type>), e.g. "event:gift".
const (
	SourceChat    = "chat"
	SourcePreview = "preview"
)

func SourceEvent(eventType string) string { return "event:" + eventType }

// QueueItem is one utterance moving through the pipeline. Text is immutable
// after enqueue. Once playback begins exactly one of AudioData/IsStreaming
// holds the audio.
type QueueItem struct {
	ID               string
	UserID           string
	Username         string
	Text             string
	VoiceID          string
	EngineID         string
	AudioData        []byte
	IsStreaming      bool
	SynthesisOptions map[string]string
	Volume           float64
	Speed            float64
	Priority         Priority
	Source           string
	EnqueuedAt       time.Time
}

// PlaybackStats are process-wide counters, reset only on explicit queue
// clear.
type PlaybackStats struct {
	TotalPlayed         int64 `json:"total_played"`
	PreGenerationHits   int64 `json:"pre_generation_hits"`
	PreGenerationMisses int64 `json:"pre_generation_misses"`
	PreGenerationErrors int64 `json:"pre_generation_errors"`
}

const (
	MinGain     = 0.0
	MaxGain     = 3.0
	DefaultGain = 1.0
)

// ClampGain bounds a gain value to [MinGain, MaxGain].
func ClampGain(v float64) float64 {
	if v < MinGain {
		return MinGain
	}
	if v > MaxGain {
		return MaxGain
	}
	return v
}

// UserVoiceSetting is the per-user record owned by the persistence layer.
type UserVoiceSetting struct {
	UserID     string
	VoiceID    string
	Engine     string
	VolumeGain float64
	Emotion    string
}

// CooldownEntry keys the last accepted event-triggered request per
// (user, event type). Overwritten on each accepted trigger, never deleted.
type CooldownEntry struct {
	UserID          string
	EventType       string
	LastTriggeredAt time.Time
}
