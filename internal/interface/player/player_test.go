package player

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

func TestDeviceVolumeFoldsGain(t *testing.T) {
	assert.Equal(t, 1.0, deviceVolume(nil))
	assert.Equal(t, 0.5, deviceVolume(&domain.QueueItem{Volume: 0.5}))
	// Gains above unity are clamped for the local device.
	assert.Equal(t, 1.0, deviceVolume(&domain.QueueItem{Volume: 2.5}))
	assert.Equal(t, 0.0, deviceVolume(&domain.QueueItem{Volume: -1}))
}

func TestPlayRejectsEmptyAudio(t *testing.T) {
	p := New(zap.NewNop())
	err := p.Play(context.Background(), &domain.QueueItem{}, nil)
	assert.Error(t, err)
}
