package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

// Snapshot is the gate's policy at one point in time. Reconfigure replaces
// it wholesale, so a check in flight always sees one consistent policy.
type Snapshot struct {
	Enabled       bool
	MinRank       domain.Rank
	RequireRecord bool
	// Cooldowns maps an event type to the minimum gap between accepted
	// triggers per user. Absent types have no cooldown.
	Cooldowns map[string]time.Duration
}

// Decision is a policy outcome, never an error: rejections are expected
// results the caller reacts to.
type Decision struct {
	Allowed           bool
	Reason            domain.RejectReason
	CooldownRemaining time.Duration
}

// Gate decides whether a speech request may enter the queue: master
// switch, per-user permission and rank, then per-(user, event type)
// cooldown. Preview requests bypass the permission checks but not the
// master switch.
type Gate struct {
	perms     domain.PermissionRepository
	cooldowns domain.CooldownRepository
	log       *zap.Logger

	snapshot atomic.Pointer[Snapshot]

	mu    sync.Mutex
	cache map[string]time.Time // userID|eventType -> last accepted

	now func() time.Time
}

func New(perms domain.PermissionRepository, cooldowns domain.CooldownRepository, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{
		perms:     perms,
		cooldowns: cooldowns,
		log:       log,
		cache:     make(map[string]time.Time),
		now:       time.Now,
	}
	g.snapshot.Store(&Snapshot{Enabled: true})
	return g
}

// Reconfigure swaps the active policy atomically.
func (g *Gate) Reconfigure(snap Snapshot) {
	g.snapshot.Store(&snap)
}

func (g *Gate) Policy() Snapshot {
	return *g.snapshot.Load()
}

// Check runs the gate for one request. eventType is empty for chat and
// preview requests. An accepted event trigger is recorded as the new
// cooldown anchor before the decision is returned.
func (g *Gate) Check(ctx context.Context, userID, source, eventType string) Decision {
	snap := g.snapshot.Load()

	if !snap.Enabled {
		return Decision{Reason: domain.ReasonDisabled}
	}
	if source == domain.SourcePreview {
		return Decision{Allowed: true}
	}

	if d := g.checkPermission(ctx, userID, snap); !d.Allowed {
		return d
	}
	if eventType != "" {
		if d := g.checkCooldown(ctx, userID, eventType, snap); !d.Allowed {
			return d
		}
	}
	return Decision{Allowed: true}
}

func (g *Gate) checkPermission(ctx context.Context, userID string, snap *Snapshot) Decision {
	if g.perms == nil {
		return Decision{Allowed: true}
	}
	rec, err := g.perms.GetPermission(ctx, userID)
	if err != nil {
		g.log.Warn("permission lookup failed", zap.String("user_id", userID), zap.Error(err))
		return Decision{Reason: domain.ReasonPermissionDenied}
	}
	if rec == nil {
		// No record: unknown users pass as plain viewers unless the policy
		// demands an explicit grant.
		if snap.RequireRecord || snap.MinRank > domain.RankViewer {
			return Decision{Reason: domain.ReasonPermissionDenied}
		}
		return Decision{Allowed: true}
	}
	if !rec.Allowed || rec.Rank < snap.MinRank {
		return Decision{Reason: domain.ReasonPermissionDenied}
	}
	return Decision{Allowed: true}
}

func (g *Gate) checkCooldown(ctx context.Context, userID, eventType string, snap *Snapshot) Decision {
	cd, ok := snap.Cooldowns[eventType]
	if !ok || cd <= 0 {
		return Decision{Allowed: true}
	}

	now := g.now()
	key := userID + "|" + eventType

	g.mu.Lock()
	defer g.mu.Unlock()

	last, cached := g.cache[key]
	if !cached && g.cooldowns != nil {
		// Cold cache: recover the anchor persisted by a previous run.
		if entry, err := g.cooldowns.GetCooldown(ctx, userID, eventType); err == nil && entry != nil {
			last = entry.LastTriggeredAt
			g.cache[key] = last
		}
	}

	if !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < cd {
			return Decision{Reason: domain.ReasonOnCooldown, CooldownRemaining: cd - elapsed}
		}
	}

	// Accepted: this trigger becomes the new anchor, write-through.
	g.cache[key] = now
	if g.cooldowns != nil {
		entry := &domain.CooldownEntry{UserID: userID, EventType: eventType, LastTriggeredAt: now}
		if err := g.cooldowns.SaveCooldown(ctx, entry); err != nil {
			g.log.Warn("cooldown persist failed",
				zap.String("user_id", userID),
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}
	return Decision{Allowed: true}
}
