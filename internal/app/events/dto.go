package events

import "time"

// Lifecycle payloads published for the downstream playback/animation
// surface. Per item the order is started → (chunk* → end, streaming only)
// → ended.

type PlaybackStartedDTO struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	Text        string  `json:"text"`
	Source      string  `json:"source"`
	Duration    float64 `json:"duration,omitempty"`
	Volume      float64 `json:"volume"`
	Speed       float64 `json:"speed"`
	IsStreaming bool    `json:"is_streaming"`
	StartedAt   string  `json:"started_at"`
}

type StreamChunkDTO struct {
	ID      string  `json:"id"`
	Chunk   string  `json:"chunk"` // base64 audio frame
	IsFirst bool    `json:"is_first"`
	Volume  float64 `json:"volume"`
	Speed   float64 `json:"speed"`
}

type StreamEndDTO struct {
	ID     string `json:"id"`
	Format string `json:"format"`
}

type PlaybackEndedDTO struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	EndedAt string `json:"ended_at"`
}

type GainUpdatedDTO struct {
	UserID     string  `json:"user_id"`
	VolumeGain float64 `json:"volume_gain"`
}

func NewPlaybackEndedDTO(id string, err error) PlaybackEndedDTO {
	dto := PlaybackEndedDTO{
		ID:      id,
		OK:      err == nil,
		EndedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		dto.Error = err.Error()
	}
	return dto
}
