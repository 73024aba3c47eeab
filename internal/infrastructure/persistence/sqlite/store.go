package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

// Store backs every repository of the pipeline with one sqlite database:
// settings, user voice assignments, permissions, and cooldown anchors.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: empty db path")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: creating dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const settingsTable = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at TIMESTAMP NOT NULL
);`

	if _, err := db.Exec(settingsTable); err != nil {
		return fmt.Errorf("sqlite: migrate settings: %w", err)
	}

	const userVoicesTable = `
CREATE TABLE IF NOT EXISTS user_voices (
	user_id TEXT PRIMARY KEY,
	engine TEXT NOT NULL,
	voice_id TEXT NOT NULL,
	volume_gain REAL NOT NULL DEFAULT 1.0,
	emotion TEXT,
	updated_at TIMESTAMP NOT NULL
);`

	if _, err := db.Exec(userVoicesTable); err != nil {
		return fmt.Errorf("sqlite: migrate user_voices: %w", err)
	}

	const permissionsTable = `
CREATE TABLE IF NOT EXISTS user_permissions (
	user_id TEXT PRIMARY KEY,
	allowed INTEGER NOT NULL DEFAULT 1,
	rank INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
);`

	if _, err := db.Exec(permissionsTable); err != nil {
		return fmt.Errorf("sqlite: migrate user_permissions: %w", err)
	}

	const cooldownsTable = `
CREATE TABLE IF NOT EXISTS cooldowns (
	user_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	last_triggered_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, event_type)
);`

	if _, err := db.Exec(cooldownsTable); err != nil {
		return fmt.Errorf("sqlite: migrate cooldowns: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ----- Settings -----

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("sqlite: empty setting key")
	}

	const query = `SELECT value FROM settings WHERE key = ? LIMIT 1;`
	row := s.db.QueryRowContext(ctx, query, key)

	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("sqlite: get setting: %w", err)
	}

	return value.String, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("sqlite: empty setting key")
	}

	const stmt = `
INSERT INTO settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at;
`

	if _, err := s.db.ExecContext(ctx, stmt, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: set setting: %w", err)
	}

	return nil
}

// ----- User voices -----

func (s *Store) GetUserVoice(ctx context.Context, userID string) (*domain.UserVoiceSetting, error) {
	const query = `
SELECT engine, voice_id, volume_gain, emotion
FROM user_voices
WHERE user_id = ?
LIMIT 1;
`

	row := s.db.QueryRowContext(ctx, query, userID)

	var engine, voiceID string
	var gain sql.NullFloat64
	var emotion sql.NullString

	if err := row.Scan(&engine, &voiceID, &gain, &emotion); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: get user voice: %w", err)
	}

	return &domain.UserVoiceSetting{
		UserID:     userID,
		Engine:     engine,
		VoiceID:    voiceID,
		VolumeGain: gain.Float64,
		Emotion:    emotion.String,
	}, nil
}

func (s *Store) SaveUserVoice(ctx context.Context, setting *domain.UserVoiceSetting) error {
	if setting == nil {
		return fmt.Errorf("sqlite: user voice nil")
	}

	const stmt = `
INSERT INTO user_voices (user_id, engine, voice_id, volume_gain, emotion, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	engine=excluded.engine,
	voice_id=excluded.voice_id,
	volume_gain=excluded.volume_gain,
	emotion=excluded.emotion,
	updated_at=excluded.updated_at;
`

	_, err := s.db.ExecContext(
		ctx,
		stmt,
		setting.UserID,
		setting.Engine,
		setting.VoiceID,
		setting.VolumeGain,
		nullString(setting.Emotion),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save user voice: %w", err)
	}

	return nil
}

// ----- Permissions -----

func (s *Store) GetPermission(ctx context.Context, userID string) (*domain.PermissionRecord, error) {
	const query = `
SELECT allowed, rank
FROM user_permissions
WHERE user_id = ?
LIMIT 1;
`

	row := s.db.QueryRowContext(ctx, query, userID)

	var allowed int
	var rank int

	if err := row.Scan(&allowed, &rank); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: get permission: %w", err)
	}

	return &domain.PermissionRecord{
		UserID:  userID,
		Allowed: allowed != 0,
		Rank:    domain.Rank(rank),
	}, nil
}

func (s *Store) SavePermission(ctx context.Context, rec *domain.PermissionRecord) error {
	if rec == nil {
		return fmt.Errorf("sqlite: permission nil")
	}

	const stmt = `
INSERT INTO user_permissions (user_id, allowed, rank, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	allowed=excluded.allowed,
	rank=excluded.rank,
	updated_at=excluded.updated_at;
`

	allowed := 0
	if rec.Allowed {
		allowed = 1
	}

	if _, err := s.db.ExecContext(ctx, stmt, rec.UserID, allowed, int(rec.Rank), time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: save permission: %w", err)
	}

	return nil
}

// ----- Cooldowns -----

func (s *Store) GetCooldown(ctx context.Context, userID, eventType string) (*domain.CooldownEntry, error) {
	const query = `
SELECT last_triggered_at
FROM cooldowns
WHERE user_id = ? AND event_type = ?
LIMIT 1;
`

	row := s.db.QueryRowContext(ctx, query, userID, eventType)

	var last sql.NullTime
	if err := row.Scan(&last); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: get cooldown: %w", err)
	}

	return &domain.CooldownEntry{
		UserID:          userID,
		EventType:       eventType,
		LastTriggeredAt: last.Time,
	}, nil
}

func (s *Store) SaveCooldown(ctx context.Context, entry *domain.CooldownEntry) error {
	if entry == nil {
		return fmt.Errorf("sqlite: cooldown nil")
	}

	const stmt = `
INSERT INTO cooldowns (user_id, event_type, last_triggered_at)
VALUES (?, ?, ?)
ON CONFLICT(user_id, event_type) DO UPDATE SET
	last_triggered_at=excluded.last_triggered_at;
`

	if _, err := s.db.ExecContext(ctx, stmt, entry.UserID, entry.EventType, entry.LastTriggeredAt.UTC()); err != nil {
		return fmt.Errorf("sqlite: save cooldown: %w", err)
	}

	return nil
}

func nullString(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

var _ domain.SettingsRepository = (*Store)(nil)
var _ domain.UserVoiceRepository = (*Store)(nil)
var _ domain.PermissionRepository = (*Store)(nil)
var _ domain.CooldownRepository = (*Store)(nil)
