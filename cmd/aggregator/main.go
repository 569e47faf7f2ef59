package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/streamwin/internal/pipeline/app"
	"github.com/chenzhangda16/streamwin/internal/pipeline/dedup"
	"github.com/chenzhangda16/streamwin/internal/pipeline/ingest"
	"github.com/chenzhangda16/streamwin/internal/pipeline/out"
	"github.com/chenzhangda16/streamwin/internal/pipeline/ready"
	"github.com/chenzhangda16/streamwin/pkg/sched"
)

func main() {
	var (
		brokers  = flag.String("brokers", "127.0.0.1:9092", "kafka brokers csv")
		group    = flag.String("group", "streamwin-aggregator", "kafka consumer group")
		topic    = flag.String("topic", "events.raw", "topic to consume events")
		outTopic = flag.String("out-topic", "events.windows", "topic for window snapshots")

		windows = flag.String("windows", "1m,5m,1h", "trailing window lengths csv")

		hotTTL    = flag.Int64("hot-ttl", 3600, "in-memory dedup TTL seconds")
		rocksPath = flag.String("rocks", "", "rocksdb dedup path (empty disables long dedup)")
		rocksTTL  = flag.Int64("rocks-ttl", 86400, "rocksdb dedup TTL seconds")

		ckptPath  = flag.String("ckpt", "./data/aggregator.ckpt", "offset checkpoint path")
		readyFifo = flag.String("ready-fifo", "", "write one line to FIFO when ready")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	specs, err := parseWindows(*windows)
	if err != nil {
		log.Fatal("bad -windows", zap.Error(err))
	}

	sink, err := out.NewKafkaSink(splitCSV(*brokers), *outTopic, nil)
	if err != nil {
		log.Fatal("kafka sink", zap.Error(err))
	}
	defer func() { _ = sink.Close() }()

	var long dedup.Long
	if *rocksPath != "" {
		r, err := dedup.OpenRocks(*rocksPath, 3600)
		if err != nil {
			log.Fatal("rocksdb dedup", zap.Error(err))
		}
		defer r.Close()
		long = r
	}

	a, err := app.New(app.Config{Windows: specs}, sched.NewWall(), sink, log)
	if err != nil {
		log.Fatal("app", zap.Error(err))
	}

	ig, err := ingest.New(ingest.Config{
		Brokers:        *brokers,
		Group:          *group,
		Topic:          *topic,
		HotTTLSec:      *hotTTL,
		LongTTLSec:     *rocksTTL,
		CheckpointPath: *ckptPath,
	}, a.In(), long, log)
	if err != nil {
		log.Fatal("ingest", zap.Error(err))
	}
	defer func() { _ = ig.Close() }()

	if *readyFifo != "" {
		fifo := *readyFifo
		ig.OnReady = func() {
			go ready.SignalFifo(ctx, log, fifo, "READY\n", 8*time.Second)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(ctx) })
	g.Go(func() error { return ig.Run(ctx) })

	log.Info("aggregator running",
		zap.String("topic", *topic), zap.String("out_topic", *outTopic),
		zap.String("windows", *windows))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("aggregator failed", zap.Error(err))
	}
	log.Info("aggregator stopped")
}

func parseWindows(csv string) ([]app.WindowSpec, error) {
	var specs []app.WindowSpec
	for _, s := range splitCSV(csv) {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, app.WindowSpec{Name: s, Period: d})
	}
	return specs, nil
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
