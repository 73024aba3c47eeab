package domain

import "context"

// SettingsRepository stores scalar settings (credentials, flags, engine
// selection) owned by the persistence collaborator.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// UserVoiceRepository stores the per-user voice assignment record.
type UserVoiceRepository interface {
	GetUserVoice(ctx context.Context, userID string) (*UserVoiceSetting, error)
	SaveUserVoice(ctx context.Context, setting *UserVoiceSetting) error
}

// CooldownRepository persists one timestamp per (user, event type).
type CooldownRepository interface {
	GetCooldown(ctx context.Context, userID, eventType string) (*CooldownEntry, error)
	SaveCooldown(ctx context.Context, entry *CooldownEntry) error
}

// PermissionRepository resolves the per-user permission record the gate
// consults for non-preview sources.
type PermissionRepository interface {
	GetPermission(ctx context.Context, userID string) (*PermissionRecord, error)
}
