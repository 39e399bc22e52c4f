package core

import (
	"math"
	"time"
)

type sampleKey struct {
	px, py, pz int64
	dx, dy, dz int64
	bx, by, bz int64
}

func quantizeSample(in SampleInput) sampleKey {
	q := func(v, scale float64) int64 { return int64(math.Round(v * scale)) }
	d := in.Dir.Normalize()
	b := in.PrevDir.Normalize()
	return sampleKey{
		px: q(in.Tip.X, 100), py: q(in.Tip.Y, 100), pz: q(in.Tip.Z, 100),
		dx: q(d.X, 10), dy: q(d.Y, 10), dz: q(d.Z, 10),
		bx: q(b.X, 10), by: q(b.Y, 10), bz: q(b.Z, 10),
	}
}

type sampleEntry struct {
	res     SampleResult
	updated time.Time
}

// sampleCache is a bounded TTL memo evicting the oldest insertion on
// overflow. Callers hold the sampler lock.
type sampleCache struct {
	ttl      time.Duration
	limit    int
	entries  map[sampleKey]sampleEntry
	order    []sampleKey
	hits     int64
	misses   int64
	invalids int64
}

func newSampleCache(ttl time.Duration, limit int) *sampleCache {
	if ttl <= 0 {
		ttl = DefaultSampleCacheTTL
	}
	return &sampleCache{
		ttl:     ttl,
		limit:   limit,
		entries: make(map[sampleKey]sampleEntry),
	}
}

func (c *sampleCache) get(k sampleKey, now time.Time) (SampleResult, bool) {
	if c.limit <= 0 {
		c.misses++
		return SampleResult{}, false
	}
	e, ok := c.entries[k]
	if !ok || now.Sub(e.updated) > c.ttl {
		c.misses++
		return SampleResult{}, false
	}
	c.hits++
	return e.res, true
}

func (c *sampleCache) put(k sampleKey, res SampleResult, now time.Time) {
	if c.limit <= 0 {
		return
	}
	if _, ok := c.entries[k]; !ok {
		c.order = append(c.order, k)
	}
	c.entries[k] = sampleEntry{res: res, updated: now}
	for len(c.entries) > c.limit && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *sampleCache) size() int {
	return len(c.entries)
}

func (c *sampleCache) invalidateAll() {
	c.entries = make(map[sampleKey]sampleEntry)
	c.order = c.order[:0]
	c.invalids++
}
