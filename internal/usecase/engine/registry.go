package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

// Registry holds the configured engines keyed by identifier. Adding a
// provider means registering one more variant; nothing downstream changes.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
	log     *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		engines: make(map[string]Engine),
		log:     log,
	}
}

func (r *Registry) Register(e Engine) {
	if e == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.ID()] = e
	r.log.Info("engine registered",
		zap.String("engine", e.ID()),
		zap.Bool("streaming", e.SupportsStreaming()))
}

func (r *Registry) Get(id string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[strings.ToLower(strings.TrimSpace(id))]
	return e, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveCredential tries the candidate setting keys in order and returns
// the first value that is non-empty after trimming. This lets a central
// credential win over legacy per-provider keys while keeping both working.
func ResolveCredential(ctx context.Context, repo domain.SettingsRepository, keys ...string) string {
	if repo == nil {
		return ""
	}
	for _, key := range keys {
		value, err := repo.GetSetting(ctx, key)
		if err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// CredentialKeys returns the lookup order for a provider: the centralized
// credential first, then the legacy per-provider key.
func CredentialKeys(engineID string) []string {
	return []string{"credentials." + engineID, engineID + ".api_key"}
}
