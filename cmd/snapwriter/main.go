// snapwriter consumes window snapshot envelopes from Kafka and persists them
// to Postgres. It runs beside the aggregator so a slow database never backs up
// the event timeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/streamwin/internal/pipeline/model"
	"github.com/chenzhangda16/streamwin/internal/pipeline/out"
	"github.com/chenzhangda16/streamwin/internal/pipeline/writer"
)

type handler struct {
	log *zap.Logger
	ch  chan<- model.WindowSnapshot
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		var env out.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			h.log.Warn("bad envelope", zap.Int64("offset", msg.Offset), zap.Error(err))
			sess.MarkMessage(msg, "")
			continue
		}
		if env.Type != out.SnapshotType {
			sess.MarkMessage(msg, "")
			continue
		}

		var snap model.WindowSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			h.log.Warn("bad snapshot", zap.Int64("offset", msg.Offset), zap.Error(err))
			sess.MarkMessage(msg, "")
			continue
		}

		select {
		case h.ch <- snap:
			sess.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func main() {
	var (
		brokers = flag.String("brokers", "127.0.0.1:9092", "kafka brokers csv")
		topic   = flag.String("topic", "events.windows", "snapshot topic")
		group   = flag.String("group", "streamwin-snapwriter", "consumer group")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pg, err := writer.NewPGWriterFromEnv()
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer func() { _ = pg.Close() }()
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal("postgres schema", zap.Error(err))
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	cg, err := sarama.NewConsumerGroup(strings.Split(*brokers, ","), *group, cfg)
	if err != nil {
		log.Fatal("consumer group", zap.Error(err))
	}
	defer func() { _ = cg.Close() }()

	snaps := make(chan model.WindowSnapshot, 256)
	h := &handler{log: log, ch: snaps}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pg.Run(ctx, snaps) })
	g.Go(func() error {
		for {
			if err := cg.Consume(ctx, []string{*topic}, h); err != nil {
				log.Warn("consume error", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(300 * time.Millisecond):
				}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	})

	log.Info("snapwriter running", zap.String("topic", *topic), zap.String("group", *group))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("snapwriter failed", zap.Error(err))
	}
	log.Info("snapwriter stopped")
}
