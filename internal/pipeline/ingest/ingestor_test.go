package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/chenzhangda16/streamwin/internal/pipeline/checkpoint"
	"github.com/chenzhangda16/streamwin/internal/pipeline/dedup"
	"github.com/chenzhangda16/streamwin/internal/pipeline/model"
	"github.com/chenzhangda16/streamwin/pkg/hash"
)

type collect struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *collect) OnNext(e model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collect) OnError(error) {}
func (c *collect) OnComplete()  {}

func (c *collect) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collect) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.ID)
	}
	return out
}

type fakeLong struct {
	mu    sync.Mutex
	seen  map[hash.Hash32]bool
	err   error
	adds  int
	swept int
}

func newFakeLong() *fakeLong {
	return &fakeLong{seen: make(map[hash.Hash32]bool)}
}

func (f *fakeLong) SeenOrAdd(key hash.Hash32, _, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	if f.err != nil {
		return false, f.err
	}
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func (f *fakeLong) Evict(int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept++
	return nil
}

func (f *fakeLong) Close() {}

func (f *fakeLong) addCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adds
}

// newTestIngestor builds an Ingestor around rawCh and the process loop only,
// no broker; claims are simulated by calling enqueue directly.
func newTestIngestor(t *testing.T, cfg Config, long dedup.Long) (*Ingestor, *collect) {
	t.Helper()
	if cfg.HotTTLSec == 0 {
		cfg.HotTTLSec = 3600
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = 1000
	}

	out := &collect{}
	ig := &Ingestor{
		cfg:   cfg,
		log:   zaptest.NewLogger(t),
		out:   out,
		hot:   dedup.NewHot(cfg.HotTTLSec, 16),
		long:  long,
		rawCh: make(chan rawMsg, 64),
		state: checkpoint.State{Offsets: map[int32]int64{}},
	}
	if cfg.CheckpointPath != "" {
		ck, err := checkpoint.NewFile(cfg.CheckpointPath)
		require.NoError(t, err)
		ig.ckpt = ck
	}

	ig.wg.Add(1)
	go ig.processLoop()
	return ig, out
}

func encode(t *testing.T, e model.Event) []byte {
	t.Helper()
	b, err := e.Encode()
	require.NoError(t, err)
	return b
}

// Two claim goroutines feed the ingestor at once, the way sarama drives one
// ConsumeClaim per claimed partition. All delivery still happens on the single
// process goroutine, so every event arrives and both partitions' offsets are
// tracked.
func TestIngestor_ConcurrentClaims(t *testing.T) {
	defer goleak.VerifyNone(t)

	ig, out := newTestIngestor(t, Config{}, nil)

	const perPart = 200
	var wg sync.WaitGroup
	for p := int32(0); p < 2; p++ {
		wg.Add(1)
		go func(part int32) {
			defer wg.Done()
			for i := 0; i < perPart; i++ {
				ev := model.Event{ID: fmt.Sprintf("p%d-%d", part, i), Amount: 1, Timestamp: 100}
				b, _ := ev.Encode()
				ig.enqueue(part, int64(i), b)
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return out.len() == 2*perPart },
		time.Second, 5*time.Millisecond)
	require.NoError(t, ig.Close())

	assert.Equal(t, int64(perPart), ig.state.Offsets[0])
	assert.Equal(t, int64(perPart), ig.state.Offsets[1])
}

func TestIngestor_SkipsGarbageAndMissingID(t *testing.T) {
	defer goleak.VerifyNone(t)

	ig, out := newTestIngestor(t, Config{}, nil)

	ig.enqueue(0, 1, []byte("{not json"))
	ig.enqueue(0, 2, encode(t, model.Event{Amount: 7})) // no ID
	ig.enqueue(0, 3, encode(t, model.Event{ID: "ok", Amount: 7}))

	require.Eventually(t, func() bool { return out.len() == 1 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, ig.Close())

	assert.Equal(t, []string{"ok"}, out.ids())
	// Skipped messages advance no offset.
	assert.Equal(t, int64(4), ig.state.Offsets[0])
}

func TestIngestor_HotDedupDropsRepeats(t *testing.T) {
	defer goleak.VerifyNone(t)

	long := newFakeLong()
	ig, out := newTestIngestor(t, Config{LongTTLSec: 60}, long)

	ig.enqueue(0, 1, encode(t, model.Event{ID: "x", Amount: 1}))
	ig.enqueue(0, 2, encode(t, model.Event{ID: "x", Amount: 1}))
	ig.enqueue(0, 3, encode(t, model.Event{ID: "y", Amount: 2}))

	require.Eventually(t, func() bool { return out.len() == 2 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, ig.Close())

	assert.Equal(t, []string{"x", "y"}, out.ids())
	// The hot layer answers repeats before the long store is consulted.
	assert.Equal(t, 2, long.addCalls())
}

func TestIngestor_LongDedupDropsAcrossHotMiss(t *testing.T) {
	defer goleak.VerifyNone(t)

	long := newFakeLong()
	long.seen[hash.SumString("old")] = true

	ig, out := newTestIngestor(t, Config{LongTTLSec: 60}, long)

	ig.enqueue(0, 1, encode(t, model.Event{ID: "old", Amount: 1}))
	ig.enqueue(0, 2, encode(t, model.Event{ID: "new", Amount: 2}))

	require.Eventually(t, func() bool { return out.len() == 1 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, ig.Close())

	assert.Equal(t, []string{"new"}, out.ids())
}

func TestIngestor_LongDedupFailsOpen(t *testing.T) {
	defer goleak.VerifyNone(t)

	long := newFakeLong()
	long.err = errors.New("store down")

	ig, out := newTestIngestor(t, Config{LongTTLSec: 60}, long)

	ig.enqueue(0, 1, encode(t, model.Event{ID: "a", Amount: 1}))
	ig.enqueue(0, 2, encode(t, model.Event{ID: "b", Amount: 2}))

	require.Eventually(t, func() bool { return out.len() == 2 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, ig.Close())
}

func TestIngestor_CheckpointSaves(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "ingest.ckpt")
	ig, _ := newTestIngestor(t, Config{CheckpointPath: path, CheckpointEvery: 2}, nil)

	ig.enqueue(3, 10, encode(t, model.Event{ID: "a", Amount: 1, Timestamp: 111}))
	ig.enqueue(3, 11, encode(t, model.Event{ID: "b", Amount: 2, Timestamp: 222}))

	// The every-N save lands right after the second delivery.
	ck, err := checkpoint.NewFile(path)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, ok, err := ck.Load()
		return err == nil && ok && st.Offsets[3] == 12
	}, time.Second, 5*time.Millisecond)
	st, _, err := ck.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(222), st.LastTs)

	// Close flushes the tail that fell short of the next multiple.
	ig.enqueue(3, 12, encode(t, model.Event{ID: "c", Amount: 3, Timestamp: 333}))
	require.NoError(t, ig.Close())

	st, ok, err := ck.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(13), st.Offsets[3])
	assert.Equal(t, int64(333), st.LastTs)
}
