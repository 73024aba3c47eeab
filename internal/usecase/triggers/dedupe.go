package triggers

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/domain"
)

const (
	dedupeTTL        = 10 * time.Minute
	dedupeMaxEntries = 5000
)

// deduper suppresses re-delivered upstream events. Connector reconnects can
// replay recent payloads, so each event carries a signature that is remembered
// for a TTL; a signature seen twice inside the window is dropped.
type deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func newDeduper(ttl time.Duration) *deduper {
	return &deduper{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// duplicate reports whether sig was already seen inside the TTL window and
// records it otherwise. Expired entries are pruned on each call, and the map
// is bounded so a long session cannot grow it without limit.
func (d *deduper) duplicate(sig string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, expiry := range d.seen {
		if expiry.Before(now) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[sig]; ok {
		return true
	}
	if len(d.seen) >= dedupeMaxEntries {
		for k := range d.seen {
			delete(d.seen, k)
			break
		}
	}
	d.seen[sig] = now.Add(d.ttl)
	return false
}

// signature identifies an event for duplicate suppression. Gifts fold in the
// gift name and repeat count so a genuinely repeated gift still announces;
// everything else keys on type and sender. Likes are exempt because their
// counts aggregate across deliveries.
func signature(ev domain.LiveEvent) string {
	parts := []string{ev.Type, ev.UserID}
	if ev.Type == domain.EventGift {
		parts = append(parts, ev.GiftName, strconv.Itoa(ev.RepeatCount), strconv.Itoa(ev.Coins))
	}
	return strings.Join(parts, "|")
}
