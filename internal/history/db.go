// Package history implements the per-digipeater station-history database
// of spec.md §4.5, grounded on original_source/historydb.c
// (historydb_insert_, foldhash, lastposition_storetime) and
// doismellburning-samoyed/src/mheard.go for the "heard per interface
// group" bookkeeping idiom (its mheard table keys on callsign and
// records per-channel last-heard times the same way).
package history

import (
	"hash/fnv"
	"time"

	"github.com/aprx-project/aprxd/internal/pbuf"
)

// Buckets is the hash-table width (spec.md §4.5: "128 buckets").
const Buckets = 128

// Retention is how long a cell survives after its last update.
const Retention = time.Hour

// LookupMargin is the validity margin subtracted from Retention before a
// lookup will still return a cell (spec.md §4.5: "retention - 5min").
const LookupMargin = 5 * time.Minute

// InitialTokens is the starting token-bucket value on first insert.
const InitialTokens = 32.0

// MaxIfGroups bounds the LastHeardAt array. Index 0 is reserved for
// "heard from APRS-IS" (spec.md §4.5).
const MaxIfGroups = 32

// Cell is one HistoryCell (spec.md §3).
type Cell struct {
	Key            string
	FirstSeen      time.Time
	LastUpdate     time.Time
	LastPositionAt time.Time
	HasPos         bool
	Lat, Lon       float64
	CosLat         float64
	PacketType     pbuf.PacketType
	LastHeardAt    [MaxIfGroups]time.Time
	LastPacketLen  int
	TokenBucket    float64

	next *Cell
}

// DB is one digipeater's history database.
type DB struct {
	buckets [Buckets]*Cell
	index   map[string]*Cell
	now     func() time.Time
	lastSweep time.Time
}

// New builds an empty history database.
func New() *DB {
	return &DB{index: make(map[string]*Cell)}
}

func (db *DB) clock() time.Time {
	if db.now != nil {
		return db.now()
	}
	return time.Now()
}

func foldHash(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	h1 := h.Sum32()
	h2 := h1 ^ (h1 >> 7) ^ (h1 >> 14)
	return int(h2 % Buckets)
}

// KeyFor computes the history key for a packet per spec.md §4.5: the
// object/item name, the message-sender call, or the source call,
// depending on packet type.
func KeyFor(srcCall string, facets pbuf.Facets) (key string, dead bool) {
	switch {
	case facets.Type&pbuf.TypeObject != 0 || facets.Type&pbuf.TypeItem != 0:
		if facets.HasSrcName {
			return facets.SrcName, facets.Kill
		}
		return srcCall, facets.Kill
	case facets.Type&pbuf.TypeMessage != 0:
		return srcCall, true
	default:
		return srcCall, facets.Kill
	}
}

// Insert implements historydb_insert: records a cell only for packets
// carrying position or message/object/item/general content. Returns nil
// if the packet type doesn't warrant an entry.
func (db *DB) Insert(pb *pbuf.Buf, ifgroup int) *Cell {
	f := pb.Aprs
	const qualifies = pbuf.TypePosition | pbuf.TypeMessage | pbuf.TypeObject | pbuf.TypeItem
	if pb.IsAPRS && f.Type&qualifies == 0 {
		return nil
	}
	key, dead := KeyFor(pb.SrcCall(), f)
	if key == "" {
		return nil
	}
	now := db.clock()
	c, existing := db.index[key]
	if !existing {
		c = &Cell{Key: key, FirstSeen: now, TokenBucket: InitialTokens}
		idx := foldHash(key)
		c.next = db.buckets[idx]
		db.buckets[idx] = c
		db.index[key] = c
	}
	c.LastUpdate = now
	c.PacketType = f.Type
	if !dead && f.HasPos {
		c.HasPos = true
		c.Lat, c.Lon, c.CosLat = f.Lat, f.Lon, f.CosLat
		c.LastPositionAt = now
	}
	db.recordHeard(c, ifgroup, now, len(pb.TNC2))
	return c
}

// InsertHeard implements historydb "insert_heard": tracks LastHeardAt for
// every packet actually heard, including those with no position, and
// never overwrites a positional entry's body with a bare "heard" update.
func (db *DB) InsertHeard(pb *pbuf.Buf, ifgroup int) *Cell {
	key, _ := KeyFor(pb.SrcCall(), pb.Aprs)
	if key == "" {
		return nil
	}
	now := db.clock()
	c, existing := db.index[key]
	if !existing {
		c = &Cell{Key: key, FirstSeen: now, TokenBucket: InitialTokens}
		idx := foldHash(key)
		c.next = db.buckets[idx]
		db.buckets[idx] = c
		db.index[key] = c
	}
	db.recordHeard(c, ifgroup, now, len(pb.TNC2))
	return c
}

func (db *DB) recordHeard(c *Cell, ifgroup int, now time.Time, pktLen int) {
	if ifgroup < 0 || ifgroup >= MaxIfGroups {
		ifgroup = MaxIfGroups - 1
	}
	c.LastHeardAt[ifgroup] = now
	c.LastPacketLen = pktLen
	c.LastUpdate = now
}

// Lookup returns a cell only if it is still within the validity margin
// (spec.md §4.5: "now - timestamp < retention - 5min").
func (db *DB) Lookup(key string) (*Cell, bool) {
	c, ok := db.index[key]
	if !ok {
		return nil, false
	}
	if db.clock().Sub(c.LastUpdate) >= Retention-LookupMargin {
		return nil, false
	}
	return c, true
}

// Cleanup sweeps every bucket and drops cells past Retention. No engine
// subsystem calls it; until it runs, expired cells stay in the buckets
// (Lookup already refuses them).
func (db *DB) Cleanup() {
	now := db.clock()
	db.lastSweep = now
	for i := range db.buckets {
		var prev *Cell
		c := db.buckets[i]
		for c != nil {
			nxt := c.next
			if now.Sub(c.LastUpdate) > Retention {
				if prev == nil {
					db.buckets[i] = nxt
				} else {
					prev.next = nxt
				}
				delete(db.index, c.Key)
			} else {
				prev = c
			}
			c = nxt
		}
	}
}

// Len reports the number of live cells, for tests.
func (db *DB) Len() int { return len(db.index) }
