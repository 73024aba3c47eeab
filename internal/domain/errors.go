package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline. Policy outcomes (permission, cooldown,
// disabled) are expected results, not failures; callers must not log them
// as errors.
var (
	ErrInvalidCredential = errors.New("api key is required and must be non-empty")
	ErrRateLimited       = errors.New("synthesis rate limit exceeded")
	ErrQueueFull         = errors.New("speech queue is full")
	ErrSynthesisTimeout  = errors.New("synthesis timed out")
	ErrPermissionDenied  = errors.New("user is not permitted to use tts")
	ErrOnCooldown        = errors.New("event is on cooldown")
	ErrDisabled          = errors.New("tts is disabled")
)

// SynthesisError wraps a provider-side failure with the engine that
// produced it.
type SynthesisError struct {
	Engine string
	Err    error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed on %s: %v", e.Engine, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// RejectReason is the machine-readable outcome of a gate check, so callers
// can react differently to each.
type RejectReason string

const (
	ReasonPermissionDenied RejectReason = "permission_denied"
	ReasonDisabled         RejectReason = "tts_disabled"
	ReasonRateLimited      RejectReason = "rate_limited"
	ReasonOnCooldown       RejectReason = "on_cooldown"
)
