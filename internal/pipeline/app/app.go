// Package app wires the aggregator together: one event subject fanning out to
// a windowed scan per configured window, snapshots flowing to the sink.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/streamwin/internal/pipeline/model"
	"github.com/chenzhangda16/streamwin/internal/pipeline/out"
	"github.com/chenzhangda16/streamwin/internal/pipeline/retry"
	"github.com/chenzhangda16/streamwin/pkg/sched"
	"github.com/chenzhangda16/streamwin/pkg/stream"
	"github.com/chenzhangda16/streamwin/pkg/winscan"
)

// WindowSpec names one trailing window, e.g. {"1m", time.Minute}.
type WindowSpec struct {
	Name   string
	Period time.Duration
}

type Config struct {
	Windows        []WindowSpec
	SnapshotBuffer int          // default 1024
	EmitRetry      retry.Policy // zero value = package defaults
}

// App owns the windowed scans and the snapshot publishing loop. Events enter
// through In(); each window's accumulation changes leave through the sink as
// window_snapshot envelopes.
type App struct {
	cfg  Config
	log  *zap.Logger
	sc   sched.Scheduler
	sink out.Sink

	subject   *stream.Subject[model.Event]
	snapshots chan model.WindowSnapshot
	fatal     chan error
	dropped   atomic.Int64
}

func New(cfg Config, sc sched.Scheduler, sink out.Sink, log *zap.Logger) (*App, error) {
	if len(cfg.Windows) == 0 {
		return nil, errors.New("app: at least one window required")
	}
	for _, w := range cfg.Windows {
		if w.Name == "" || w.Period <= 0 {
			return nil, fmt.Errorf("app: bad window spec %+v", w)
		}
	}
	if cfg.SnapshotBuffer <= 0 {
		cfg.SnapshotBuffer = 1024
	}
	return &App{
		cfg:       cfg,
		log:       log,
		sc:        sc,
		sink:      sink,
		subject:   stream.NewSubject[model.Event](),
		snapshots: make(chan model.WindowSnapshot, cfg.SnapshotBuffer),
		fatal:     make(chan error, 1),
	}, nil
}

// In is the observer the ingest side pushes events into. Must be fed from one
// goroutine at a time.
func (a *App) In() stream.Observer[model.Event] { return a.subject }

// Dropped reports snapshots discarded because the publish loop fell behind.
func (a *App) Dropped() int64 { return a.dropped.Load() }

// Run subscribes every window and publishes snapshots until ctx is canceled or
// a window stream fails. On return all subscriptions are released.
func (a *App) Run(ctx context.Context) error {
	subs := make([]stream.Subscription, 0, len(a.cfg.Windows))
	for _, w := range a.cfg.Windows {
		subs = append(subs, a.subscribeWindow(w))
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.publishLoop(ctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-a.fatal:
			return err
		}
	})
	return g.Wait()
}

func (a *App) subscribeWindow(w WindowSpec) stream.Subscription {
	op := winscan.Scan[model.Event, model.WindowAcc](
		a.subject, model.WindowAcc{}, addAcc, removeAcc, w.Period, a.sc)

	return op.Subscribe(stream.Callbacks[model.WindowAcc]{
		Next: func(acc model.WindowAcc) {
			snap := model.WindowSnapshot{
				Window: w.Name,
				Total:  acc.Total,
				Count:  acc.Count,
				TS:     a.sc.Now().UnixMilli(),
			}
			select {
			case a.snapshots <- snap:
			default:
				// Never block the event timeline on a slow sink.
				if a.dropped.Add(1)%1000 == 1 {
					a.log.Warn("snapshot buffer full, dropping",
						zap.String("window", w.Name), zap.Int64("dropped", a.dropped.Load()))
				}
			}
		},
		Err: func(err error) {
			a.log.Error("window stream failed", zap.String("window", w.Name), zap.Error(err))
			select {
			case a.fatal <- fmt.Errorf("window %s: %w", w.Name, err):
			default:
			}
		},
		Done: func() {
			a.log.Info("window stream completed", zap.String("window", w.Name))
		},
	})
}

func (a *App) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-a.snapshots:
			a.publishOne(ctx, snap)
		}
	}
}

func (a *App) publishOne(ctx context.Context, snap model.WindowSnapshot) {
	err := retry.Do(ctx, a.cfg.EmitRetry, func(ctx context.Context) error {
		return a.sink.Emit(ctx, out.SnapshotType, snap)
	})
	if err != nil {
		a.log.Warn("snapshot emit failed", zap.String("window", snap.Window), zap.Error(err))
	}
}

func addAcc(acc model.WindowAcc, count int, ev model.Event) model.WindowAcc {
	return model.WindowAcc{Total: acc.Total + ev.Amount, Count: count}
}

func removeAcc(acc model.WindowAcc, count int, ev model.Event) model.WindowAcc {
	return model.WindowAcc{Total: acc.Total - ev.Amount, Count: count}
}
