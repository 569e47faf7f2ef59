// Package feed produces a synthetic event stream for load and soak testing
// the aggregator without a real upstream.
package feed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/chenzhangda16/streamwin/internal/pipeline/model"
	"github.com/chenzhangda16/streamwin/pkg/rng"
)

type Config struct {
	Brokers []string
	Topic   string
	Rate    int   // events per second
	Seed    int64 // 0 = non-deterministic
}

type Generator struct {
	cfg Config
	log *zap.Logger
	p   sarama.SyncProducer

	amountR *rand.Rand
	actorR  *rand.Rand
	seq     uint64
	runID   int64
}

func NewGenerator(cfg Config, log *zap.Logger) (*Generator, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("feed: topic required")
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 50
	}

	scfg := sarama.NewConfig()
	scfg.Producer.RequiredAcks = sarama.WaitForAll
	scfg.Producer.Idempotent = true
	scfg.Net.MaxOpenRequests = 1
	scfg.Producer.Retry.Max = 10
	scfg.Producer.Retry.Backoff = 200 * time.Millisecond
	scfg.Producer.Return.Successes = true
	scfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(cfg.Brokers, scfg)
	if err != nil {
		return nil, err
	}

	mode := rng.Deterministic
	if cfg.Seed == 0 {
		mode = rng.Real
	}
	f := rng.New(mode, cfg.Seed)

	return &Generator{
		cfg:     cfg,
		log:     log,
		p:       p,
		amountR: f.R("amount"),
		actorR:  f.R("actor"),
		runID:   time.Now().Unix(),
	}, nil
}

func (g *Generator) Close() error { return g.p.Close() }

// Run pushes cfg.Rate events per second until ctx is canceled. Event IDs are
// unique per run, so the aggregator's dedup passes everything through.
func (g *Generator) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(g.cfg.Rate)
	tick := time.NewTicker(interval)
	defer tick.Stop()

	g.log.Info("feed generator running",
		zap.String("topic", g.cfg.Topic), zap.Int("rate", g.cfg.Rate))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := g.emitOne(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.log.Warn("feed emit failed", zap.Error(err))
			}
		}
	}
}

func (g *Generator) emitOne(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.seq++
	ev := model.Event{
		ID:        fmt.Sprintf("gen-%d-%d", g.runID, g.seq),
		From:      fmt.Sprintf("acct-%03d", g.actorR.Intn(500)),
		To:        fmt.Sprintf("acct-%03d", g.actorR.Intn(500)),
		Amount:    1 + g.amountR.Int63n(10_000),
		Timestamp: time.Now().Unix(),
	}
	b, err := ev.Encode()
	if err != nil {
		return err
	}

	_, _, err = g.p.SendMessage(&sarama.ProducerMessage{
		Topic: g.cfg.Topic,
		Key:   sarama.StringEncoder(ev.From),
		Value: sarama.ByteEncoder(b),
	})
	return err
}
