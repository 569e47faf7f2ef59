package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/chenzhangda16/streamwin/internal/pipeline/feed"
)

func main() {
	var (
		brokers = flag.String("brokers", "127.0.0.1:9092", "kafka brokers csv")
		topic   = flag.String("topic", "events.raw", "topic to produce events")
		rate    = flag.Int("rate", 50, "events per second")
		seed    = flag.Int64("seed", 0, "deterministic seed (0 = random)")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, err := feed.NewGenerator(feed.Config{
		Brokers: splitCSV(*brokers),
		Topic:   *topic,
		Rate:    *rate,
		Seed:    *seed,
	}, log)
	if err != nil {
		log.Fatal("feed generator", zap.Error(err))
	}
	defer func() { _ = g.Close() }()

	if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("feed generator failed", zap.Error(err))
	}
	log.Info("feed generator stopped")
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
