package authz

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// snapshot is a workspace's rule/lease listing as of a point in time.
type snapshot struct {
	rules     []Rule
	leases    []Lease
	fetchedAt time.Time
}

// snapshotCache memoizes a workspace's ListEnabledRules/ListActiveLeases
// pair for a short TTL, keyed by workspace name via xxhash. This is a
// plain performance cache with no security role -- it never influences a
// decision's correctness, only how often the store is hit, mirroring the
// teacher's ResultCache/computeCacheKey split between the xxhash-keyed
// lookup cache and the SHA-256 token/hash contract used elsewhere.
type snapshotCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[uint64]snapshot
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{
		ttl: ttl,
		m:   make(map[uint64]snapshot),
	}
}

func workspaceCacheKey(workspace string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(workspace)
	return h.Sum64()
}

func (c *snapshotCache) get(workspace string, now time.Time) (snapshot, bool) {
	if c.ttl <= 0 {
		return snapshot{}, false
	}
	key := workspaceCacheKey(workspace)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[key]
	if !ok || now.Sub(s.fetchedAt) > c.ttl {
		return snapshot{}, false
	}
	return s, true
}

func (c *snapshotCache) put(workspace string, s snapshot) {
	if c.ttl <= 0 {
		return
	}
	key := workspaceCacheKey(workspace)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = s
}

// invalidate drops any cached snapshot for a workspace. Called whenever a
// rule or lease is saved or deleted so the evaluator never acts on a stale
// listing for longer than necessary after an explicit mutation.
func (c *snapshotCache) invalidate(workspace string) {
	key := workspaceCacheKey(workspace)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}
