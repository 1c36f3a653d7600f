// Package cache holds per-segment lead snapshots with TTL invalidation and
// write-through persistence to a durable key-value store.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/store"
)

// DefaultTTL is how long a segment snapshot stays fresh.
const DefaultTTL = 10 * time.Minute

// Cache is the single owner of cached lead snapshots. All mutation goes
// through its methods.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*model.CacheEntry
	kv      store.KV
	ttl     time.Duration
	nowFunc func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

// New creates a Cache persisting to kv. A nil kv keeps the cache in memory.
func New(kv store.KV, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*model.CacheEntry),
		kv:      kv,
		ttl:     DefaultTTL,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns a copy of the segment's entry, or nil when absent or stale.
func (c *Cache) Get(segment string) *model.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[segment]
	if !ok {
		return nil
	}
	if c.nowFunc().Sub(e.FetchedAt) > c.ttl {
		return nil
	}
	return cloneEntry(e)
}

// Peek returns the segment's entry even when stale. Used to keep showing the
// last snapshot while a refresh is in flight.
func (c *Cache) Peek(segment string) *model.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[segment]
	if !ok {
		return nil
	}
	return cloneEntry(e)
}

// Put replaces the segment's entry and stamps it with the current time.
func (c *Cache) Put(ctx context.Context, segment string, leads []model.Lead) {
	c.mu.Lock()
	e := &model.CacheEntry{
		Segment:   segment,
		Leads:     cloneLeads(leads),
		FetchedAt: c.nowFunc(),
	}
	c.entries[segment] = e
	snapshot := cloneEntry(e)
	c.mu.Unlock()

	c.persist(ctx, snapshot)
}

// AppendOne prepends lead to an existing entry unless its id is already
// present. It reports whether the lead was added. The fetch time is not
// refreshed.
func (c *Cache) AppendOne(ctx context.Context, segment string, lead model.Lead) bool {
	c.mu.Lock()
	e, ok := c.entries[segment]
	if !ok || indexOf(e.Leads, lead.ID) >= 0 {
		c.mu.Unlock()
		return false
	}
	e.Leads = append([]model.Lead{lead}, e.Leads...)
	snapshot := cloneEntry(e)
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	return true
}

// Contains reports whether the segment's entry holds a lead with id.
func (c *Cache) Contains(segment, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[segment]
	return ok && indexOf(e.Leads, id) >= 0
}

// Update replaces the lead with the same id in place. It reports whether a
// lead was replaced.
func (c *Cache) Update(ctx context.Context, segment string, lead model.Lead) bool {
	c.mu.Lock()
	e, ok := c.entries[segment]
	if !ok {
		c.mu.Unlock()
		return false
	}
	i := indexOf(e.Leads, lead.ID)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	e.Leads[i] = lead
	snapshot := cloneEntry(e)
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	return true
}

// Remove deletes the lead with id from the segment. It reports whether a
// lead was removed.
func (c *Cache) Remove(ctx context.Context, segment, id string) bool {
	c.mu.Lock()
	e, ok := c.entries[segment]
	if !ok {
		c.mu.Unlock()
		return false
	}
	i := indexOf(e.Leads, id)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	e.Leads = append(e.Leads[:i:i], e.Leads[i+1:]...)
	snapshot := cloneEntry(e)
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	return true
}

// Invalidate drops the in-memory entry immediately.
func (c *Cache) Invalidate(segment string) {
	c.mu.Lock()
	delete(c.entries, segment)
	c.mu.Unlock()
}

// Clear drops the entry and its persisted copy.
func (c *Cache) Clear(ctx context.Context, segment string) error {
	c.Invalidate(segment)
	if c.kv == nil {
		return nil
	}
	if err := c.kv.Delete(ctx, store.LeadsKey(segment)); err != nil {
		return eris.Wrapf(err, "cache: clear %s", segment)
	}
	if err := c.kv.Delete(ctx, store.TimestampKey(segment)); err != nil {
		return eris.Wrapf(err, "cache: clear %s timestamp", segment)
	}
	return nil
}

// Segments lists the segments held in memory, sorted.
func (c *Cache) Segments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.entries))
	for s := range c.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// PersistedSegments lists segments with a persisted snapshot.
func (c *Cache) PersistedSegments(ctx context.Context) ([]string, error) {
	if c.kv == nil {
		return nil, nil
	}
	keys, err := c.kv.Keys(ctx, store.LeadsKeyPrefix())
	if err != nil {
		return nil, eris.Wrap(err, "cache: list persisted segments")
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, store.LeadsKeyPrefix()))
	}
	return out, nil
}

// Restore loads a persisted snapshot into memory if it is still fresh. It
// reports whether an entry was restored.
func (c *Cache) Restore(ctx context.Context, segment string) (bool, error) {
	if c.kv == nil {
		return false, nil
	}
	tsRaw, err := c.kv.Get(ctx, store.TimestampKey(segment))
	if err != nil {
		return false, eris.Wrapf(err, "cache: restore %s timestamp", segment)
	}
	if tsRaw == nil {
		return false, nil
	}
	millis, err := strconv.ParseInt(string(tsRaw), 10, 64)
	if err != nil {
		return false, eris.Wrapf(err, "cache: parse %s timestamp", segment)
	}
	fetchedAt := time.UnixMilli(millis)
	if c.nowFunc().Sub(fetchedAt) > c.ttl {
		return false, nil
	}

	data, err := c.kv.Get(ctx, store.LeadsKey(segment))
	if err != nil {
		return false, eris.Wrapf(err, "cache: restore %s", segment)
	}
	if data == nil {
		return false, nil
	}
	var leads []model.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		return false, eris.Wrapf(err, "cache: decode %s", segment)
	}

	c.mu.Lock()
	c.entries[segment] = &model.CacheEntry{Segment: segment, Leads: leads, FetchedAt: fetchedAt}
	c.mu.Unlock()
	return true, nil
}

// Stat describes a persisted snapshot.
type Stat struct {
	Segment   string    `json:"segment"`
	Leads     int       `json:"leads"`
	FetchedAt time.Time `json:"fetched_at"`
	Fresh     bool      `json:"fresh"`
}

// Stat reads a persisted snapshot's size and age without loading it. It
// returns nil when nothing is persisted for segment.
func (c *Cache) Stat(ctx context.Context, segment string) (*Stat, error) {
	if c.kv == nil {
		return nil, nil
	}
	data, err := c.kv.Get(ctx, store.LeadsKey(segment))
	if err != nil {
		return nil, eris.Wrapf(err, "cache: stat %s", segment)
	}
	if data == nil {
		return nil, nil
	}
	var leads []json.RawMessage
	if err := json.Unmarshal(data, &leads); err != nil {
		return nil, eris.Wrapf(err, "cache: decode %s", segment)
	}

	st := &Stat{Segment: segment, Leads: len(leads)}
	tsRaw, err := c.kv.Get(ctx, store.TimestampKey(segment))
	if err != nil {
		return nil, eris.Wrapf(err, "cache: stat %s timestamp", segment)
	}
	if millis, err := strconv.ParseInt(string(tsRaw), 10, 64); err == nil {
		st.FetchedAt = time.UnixMilli(millis)
		st.Fresh = c.nowFunc().Sub(st.FetchedAt) <= c.ttl
	}
	return st, nil
}

// persist writes the snapshot through to the KV store. Failures are logged
// and swallowed; the in-memory entry stays authoritative.
func (c *Cache) persist(ctx context.Context, e *model.CacheEntry) {
	if c.kv == nil {
		return
	}
	data, err := json.Marshal(e.Leads)
	if err != nil {
		zap.L().Warn("cache: encode snapshot failed", zap.String("segment", e.Segment), zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, store.LeadsKey(e.Segment), data); err != nil {
		zap.L().Warn("cache: persist leads failed", zap.String("segment", e.Segment), zap.Error(err))
		return
	}
	ts := strconv.FormatInt(e.FetchedAt.UnixMilli(), 10)
	if err := c.kv.Set(ctx, store.TimestampKey(e.Segment), []byte(ts)); err != nil {
		zap.L().Warn("cache: persist timestamp failed", zap.String("segment", e.Segment), zap.Error(err))
	}
}

func indexOf(leads []model.Lead, id string) int {
	for i := range leads {
		if leads[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneLeads(leads []model.Lead) []model.Lead {
	out := make([]model.Lead, len(leads))
	copy(out, leads)
	return out
}

func cloneEntry(e *model.CacheEntry) *model.CacheEntry {
	return &model.CacheEntry{
		Segment:   e.Segment,
		Leads:     cloneLeads(e.Leads),
		FetchedAt: e.FetchedAt,
	}
}
