// Package dedupe implements the duplicate-check cache of spec.md §4.4:
// "at most one delivery of a packet with the same (addresses, payload)
// fingerprint within the retention window, per digipeater." Grounded on
// original_source/trunk/dupecheck.h (dupe_record_t, 64-bucket hash table,
// addresses+payload fingerprint) and doismellburning-samoyed's dedupe.go (which
// narrowed the original's general digipeater dupe-checker into a fixed
// small ring -- this package restores the original's per-digipeater
// closed-chaining hash table instead of doismellburning-samoyed's 25-entry ring,
// because spec.md §4.4 calls for eviction by age, not by ring position).
package dedupe

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/aprx-project/aprxd/internal/pbuf"
)

// Buckets is the fixed hash-table width (spec.md §4.4).
const Buckets = 64

// Retention is how long a record survives after its timestamp.
const Retention = 30 * time.Second

// Record is one DupeRecord (spec.md §3).
type Record struct {
	next                  *Record
	hash                  uint64
	timestamp             time.Time
	addresses             []byte
	payload               []byte
	SeenDirect            int
	SeenDelayed           int
	SeenOnTransmitter     int
	Held                  *pbuf.Buf // held_pbuf, set only while viscous-delayed
}

// Cache is one digipeater's duplicate-check cache.
type Cache struct {
	mu      sync.Mutex // defensive only; engine contract is single-writer
	buckets [Buckets]*Record
	now     func() time.Time
}

// New builds an empty cache.
func New() *Cache {
	return &Cache{now: time.Now}
}

func fingerprint(addresses, payload []byte) uint64 {
	h := fnv.New64a()
	h.Write(addresses)
	h.Write(payload)
	return h.Sum64()
}

func bucketOf(hash uint64) int { return int(hash % Buckets) }

// sweep removes expired records from one bucket chain, releasing any held
// PBuf. Must be called with mu held.
func (c *Cache) sweep(idx int, now time.Time) {
	var prev *Record
	r := c.buckets[idx]
	for r != nil {
		nxt := r.next
		if now.Sub(r.timestamp) > Retention {
			if r.Held != nil {
				r.Held.Release()
				r.Held = nil
			}
			if prev == nil {
				c.buckets[idx] = nxt
			} else {
				prev.next = nxt
			}
		} else {
			prev = r
		}
		r = nxt
	}
}

func (c *Cache) find(idx int, hash uint64, addresses, payload []byte) *Record {
	for r := c.buckets[idx]; r != nil; r = r.next {
		if r.hash == hash && string(r.addresses) == string(addresses) && string(r.payload) == string(payload) {
			return r
		}
	}
	return nil
}

// CheckAPRS implements dupecheck_aprs: look up or insert a record keyed by
// (addresses, payload), incrementing SeenDirect on a hit.
func (c *Cache) CheckAPRS(addresses, payload []byte) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	hash := fingerprint(addresses, payload)
	idx := bucketOf(hash)
	c.sweep(idx, now)

	if r := c.find(idx, hash, addresses, payload); r != nil {
		r.SeenDirect++
		return r
	}
	r := &Record{
		hash:       hash,
		timestamp:  now,
		addresses:  append([]byte(nil), addresses...),
		payload:    append([]byte(nil), payload...),
		SeenDirect: 1,
		next:       c.buckets[idx],
	}
	c.buckets[idx] = r
	return r
}

// CheckPBuf implements dupecheck_pbuf: same lookup, but a viscousDelay > 0
// increments SeenDelayed instead of SeenDirect, and on first insert the
// PBuf is held (spec.md §4.4, §4.7 step 1).
func (c *Cache) CheckPBuf(pb *pbuf.Buf, addresses []byte, viscousDelay time.Duration) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	payload := pb.Info()
	hash := fingerprint(addresses, payload)
	idx := bucketOf(hash)
	c.sweep(idx, now)

	if r := c.find(idx, hash, addresses, payload); r != nil {
		if viscousDelay > 0 {
			r.SeenDelayed++
		} else {
			r.SeenDirect++
		}
		return r
	}
	r := &Record{
		hash:      hash,
		timestamp: now,
		addresses: append([]byte(nil), addresses...),
		payload:   append([]byte(nil), payload...),
		next:      c.buckets[idx],
	}
	if viscousDelay > 0 {
		r.SeenDelayed++
		pb.Hold()
		r.Held = pb
	} else {
		r.SeenDirect++
	}
	c.buckets[idx] = r
	return r
}

// ReleaseHeld drops the held PBuf reference from a record without
// removing the record itself (used when a viscous-delayed packet is
// superseded by a direct copy, spec.md §4.7 step 1 / Testable Property 4).
func (r *Record) ReleaseHeld() {
	if r.Held != nil {
		r.Held.Release()
		r.Held = nil
	}
}

// Len reports the number of live records, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.buckets {
		c.sweep(i, c.now())
		for r := c.buckets[i]; r != nil; r = r.next {
			n++
		}
	}
	return n
}
