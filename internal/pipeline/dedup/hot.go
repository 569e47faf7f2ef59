// Package dedup suppresses replayed events on the ingest path. Hot covers the
// short horizon in memory; Long (RocksDB-backed) covers horizons that must
// survive a restart.
package dedup

// Hot is a short-horizon in-memory deduper: a key map plus an
// insertion-ordered expiry queue drained from the head, same access pattern as
// the operator cache.
type Hot struct {
	ttlSec int64

	m    map[string]int64 // key -> expire ts
	q    []hotItem
	head int
}

type hotItem struct {
	key      string
	expireTs int64
}

func NewHot(ttlSec int64, capHint int) *Hot {
	if ttlSec <= 0 {
		ttlSec = 1
	}
	if capHint < 0 {
		capHint = 0
	}
	return &Hot{
		ttlSec: ttlSec,
		m:      make(map[string]int64, capHint),
		q:      make([]hotItem, 0, capHint),
	}
}

// SeenOrAdd reports whether key was recorded within the TTL as of nowTs; if
// not, it records key with a fresh expiry.
func (d *Hot) SeenOrAdd(key string, nowTs int64) bool {
	if exp, ok := d.m[key]; ok && exp >= nowTs {
		return true
	}
	expireTs := nowTs + d.ttlSec
	d.m[key] = expireTs
	d.q = append(d.q, hotItem{key: key, expireTs: expireTs})
	return false
}

// Evict drops entries whose expiry has passed. Cost is proportional to the
// number dropped.
func (d *Hot) Evict(nowTs int64) {
	for d.head < len(d.q) {
		it := d.q[d.head]
		if it.expireTs >= nowTs {
			break
		}
		// A re-added key has a newer expiry in the map; only delete if the map
		// still points at this queue item.
		if exp, ok := d.m[it.key]; ok && exp == it.expireTs {
			delete(d.m, it.key)
		}
		d.head++
	}

	if d.head > 4096 && d.head*2 > len(d.q) {
		newQ := make([]hotItem, 0, len(d.q)-d.head)
		newQ = append(newQ, d.q[d.head:]...)
		d.q = newQ
		d.head = 0
	}
}

// Len reports the number of live (non-evicted) keys.
func (d *Hot) Len() int { return len(d.m) }
