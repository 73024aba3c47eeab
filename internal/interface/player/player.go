package player

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/hajimehoshi/oto/v2"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

// Player renders full-buffer mp3 audio on the local output device. It is
// the queue's sink for monitoring what goes out to the stream. One
// utterance plays at a time; the mutex serializes device access.
type Player struct {
	log     *zap.Logger
	audioMu sync.Mutex
}

func New(log *zap.Logger) *Player {
	if log == nil {
		log = zap.NewNop()
	}
	return &Player{log: log}
}

// Play blocks until the audio finishes or the context is canceled. The
// item's gain is mapped into the device's [0,1] volume range.
func (p *Player) Play(ctx context.Context, item *domain.QueueItem, audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("player: empty audio")
	}

	p.audioMu.Lock()
	defer p.audioMu.Unlock()

	decoder, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("player: mp3 decoder: %w", err)
	}

	otoCtx, readyChan, err := oto.NewContext(decoder.SampleRate(), 2, 2)
	if err != nil {
		return fmt.Errorf("player: oto context: %w", err)
	}
	<-readyChan

	pl := otoCtx.NewPlayer(decoder)
	pl.SetVolume(deviceVolume(item))
	pl.Play()
	defer pl.Close()

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !pl.IsPlaying() {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// deviceVolume folds the [MinGain, MaxGain] user gain into the device's
// unit range. Amplification beyond 1.0 is the remote client's business.
func deviceVolume(item *domain.QueueItem) float64 {
	if item == nil {
		return 1.0
	}
	gain := domain.ClampGain(item.Volume)
	if gain > 1.0 {
		return 1.0
	}
	return gain
}
