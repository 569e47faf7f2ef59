// Package rng hands out named random streams. In Deterministic mode every
// stream is derived from one base seed, so a generator run is reproducible
// stream by stream; in Real mode the base seed comes from the clock once, at
// construction.
package rng

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"
)

type Mode int

const (
	Deterministic Mode = iota
	Real
)

type Factory struct {
	baseSeed int64
	mode     Mode

	mu      sync.Mutex
	streams map[string]*rand.Rand
}

func New(mode Mode, seed int64) *Factory {
	if mode == Real {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		baseSeed: seed,
		mode:     mode,
		streams:  make(map[string]*rand.Rand),
	}
}

// R returns the named stream, creating and caching it on first use. Hot paths
// should grab the stream once and keep it instead of calling R per draw.
func (f *Factory) R(name string) *rand.Rand {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.streams[name]; ok {
		return r
	}
	r := rand.New(rand.NewSource(deriveSeed(f.baseSeed, name)))
	f.streams[name] = r
	return r
}

func deriveSeed(base int64, name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64()) ^ base
}
