// Package ingest consumes raw events from Kafka and pushes them, deduped,
// into the aggregation stream.
package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/chenzhangda16/streamwin/internal/pipeline/checkpoint"
	"github.com/chenzhangda16/streamwin/internal/pipeline/dedup"
	"github.com/chenzhangda16/streamwin/internal/pipeline/model"
	"github.com/chenzhangda16/streamwin/pkg/hash"
	"github.com/chenzhangda16/streamwin/pkg/stream"
)

type Config struct {
	Brokers string // csv
	Group   string
	Topic   string

	HotTTLSec  int64 // short-horizon dedup window
	LongTTLSec int64 // restart-surviving dedup window (needs a Long store)

	QueueSize       int   // raw message buffer between claims and the process loop
	CheckpointPath  string
	CheckpointEvery int64 // messages between checkpoint saves
}

// rawMsg is a claim's message copied out of sarama's buffers.
type rawMsg struct {
	partition int32
	offset    int64
	value     []byte
}

// Ingestor is a sarama consumer-group handler. ConsumeClaim runs once per
// claimed partition, concurrently, so it only copies messages into rawCh;
// decode, dedup, stream delivery, and checkpointing all happen on the single
// process goroutine. That one goroutine is what upholds the stream package's
// serialization contract for the downstream windowed scans.
type Ingestor struct {
	cfg  Config
	log  *zap.Logger
	out  stream.Observer[model.Event]
	hot  *dedup.Hot
	long dedup.Long // optional

	group sarama.ConsumerGroup
	rawCh chan rawMsg
	wg    sync.WaitGroup

	ckpt     *checkpoint.File
	stateMu  sync.Mutex // Setup reads offsets while the process loop writes them
	state    checkpoint.State
	msgCount int64

	readyOnce sync.Once

	// OnReady fires once, after the first successful session setup.
	OnReady func()
}

var _ sarama.ConsumerGroupHandler = (*Ingestor)(nil)

func New(cfg Config, out stream.Observer[model.Event], long dedup.Long, log *zap.Logger) (*Ingestor, error) {
	if cfg.Brokers == "" || cfg.Group == "" || cfg.Topic == "" {
		return nil, errors.New("ingest: brokers/group/topic required")
	}
	if cfg.HotTTLSec <= 0 {
		cfg.HotTTLSec = 3600
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8192
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 1000
	}

	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_1_0_0
	scfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	scfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	scfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(splitCSV(cfg.Brokers), cfg.Group, scfg)
	if err != nil {
		return nil, err
	}

	ig := &Ingestor{
		cfg:   cfg,
		log:   log,
		out:   out,
		hot:   dedup.NewHot(cfg.HotTTLSec, 200_000),
		long:  long,
		group: group,
		rawCh: make(chan rawMsg, cfg.QueueSize),
		state: checkpoint.State{Offsets: map[int32]int64{}},
	}

	if cfg.CheckpointPath != "" {
		ck, err := checkpoint.NewFile(cfg.CheckpointPath)
		if err != nil {
			_ = group.Close()
			return nil, err
		}
		ig.ckpt = ck
		if v, ok, err := ck.Load(); err != nil {
			_ = group.Close()
			return nil, err
		} else if ok {
			ig.state = v
			log.Info("loaded ingest checkpoint",
				zap.Int("partitions", len(v.Offsets)), zap.Int64("last_ts", v.LastTs))
		}
	}

	ig.wg.Add(1)
	go ig.processLoop()
	return ig, nil
}

// Close stops the consumer group first so no claim is left blocked on rawCh,
// then drains the process loop.
func (ig *Ingestor) Close() error {
	var err error
	if ig.group != nil {
		err = ig.group.Close()
	}
	close(ig.rawCh)
	ig.wg.Wait()
	return err
}

// Run drives the consume loop; sarama requires re-entering Consume after each
// rebalance.
func (ig *Ingestor) Run(ctx context.Context) error {
	for {
		if err := ig.group.Consume(ctx, []string{ig.cfg.Topic}, ig); err != nil {
			ig.log.Warn("consume error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(300 * time.Millisecond):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (ig *Ingestor) Setup(sess sarama.ConsumerGroupSession) error {
	claims := sess.Claims()
	ig.log.Info("session setup", zap.Any("claims", claims))

	// Resume from the checkpoint where one exists; the group offset store
	// usually agrees, but the file survives group resets.
	ig.stateMu.Lock()
	for _, p := range claims[ig.cfg.Topic] {
		if off, ok := ig.state.Offsets[p]; ok {
			sess.ResetOffset(ig.cfg.Topic, p, off, "")
		}
	}
	ig.stateMu.Unlock()

	ig.readyOnce.Do(func() {
		if ig.OnReady != nil {
			ig.OnReady()
		}
	})
	return nil
}

func (ig *Ingestor) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim only copies and delivers; per-partition goroutines must never
// touch the dedup or checkpoint state.
func (ig *Ingestor) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ig.enqueue(msg.Partition, msg.Offset, msg.Value)
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (ig *Ingestor) enqueue(partition int32, offset int64, value []byte) {
	// Copy: sarama may reuse the message buffer after the claim loop moves on.
	val := make([]byte, len(value))
	copy(val, value)

	// Blocking send is the backpressure.
	ig.rawCh <- rawMsg{partition: partition, offset: offset, value: val}
}

func (ig *Ingestor) processLoop() {
	defer ig.wg.Done()
	for rm := range ig.rawCh {
		ig.process(rm)
	}
	ig.saveCheckpoint()
}

func (ig *Ingestor) process(rm rawMsg) {
	ev, err := model.DecodeEvent(rm.value)
	if err != nil {
		// Poison messages are already marked; they would never decode on
		// redelivery either.
		ig.log.Warn("decode failed",
			zap.Int32("partition", rm.partition), zap.Int64("offset", rm.offset), zap.Error(err))
		return
	}
	if ev.ID == "" {
		ig.log.Warn("event without id dropped",
			zap.Int32("partition", rm.partition), zap.Int64("offset", rm.offset))
		return
	}

	nowTs := time.Now().Unix()
	ig.hot.Evict(nowTs)
	if ig.hot.SeenOrAdd(ev.ID, nowTs) {
		return
	}

	if ig.long != nil && ig.cfg.LongTTLSec > 0 {
		seen, err := ig.long.SeenOrAdd(hash.SumString(ev.ID), nowTs, ig.cfg.LongTTLSec)
		if err != nil {
			// Fail open: a broken dedup store must not stall ingestion.
			ig.log.Warn("long dedup failed", zap.String("id", ev.ID), zap.Error(err))
		} else if seen {
			return
		}
		if err := ig.long.Evict(nowTs); err != nil {
			ig.log.Warn("long dedup sweep failed", zap.Error(err))
		}
	}

	ig.out.OnNext(ev)

	ig.stateMu.Lock()
	ig.state.Offsets[rm.partition] = rm.offset + 1
	ig.state.LastTs = ev.Timestamp
	ig.stateMu.Unlock()

	ig.msgCount++
	if ig.msgCount%ig.cfg.CheckpointEvery == 0 {
		ig.saveCheckpoint()
	}
}

func (ig *Ingestor) saveCheckpoint() {
	if ig.ckpt == nil {
		return
	}
	ig.stateMu.Lock()
	v := checkpoint.State{Offsets: make(map[int32]int64, len(ig.state.Offsets)), LastTs: ig.state.LastTs}
	for p, off := range ig.state.Offsets {
		v.Offsets[p] = off
	}
	ig.stateMu.Unlock()

	if err := ig.ckpt.Save(v); err != nil {
		ig.log.Warn("checkpoint save failed", zap.Error(err))
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
