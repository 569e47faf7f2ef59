// Package ready signals process readiness to a supervisor through a named
// FIFO, without ever blocking the caller on a missing reader.
package ready

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// SignalFifo tries to write payload to the FIFO at path. It opens with
// O_NONBLOCK so a missing reader never wedges the goroutine, retries while the
// reader is absent (ENXIO), and gives up on ctx cancellation or timeout. Safe
// to call from its own goroutine.
func SignalFifo(ctx context.Context, log *zap.Logger, path, payload string, timeout time.Duration) {
	if path == "" {
		return
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if payload == "" {
		payload = "READY\n"
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	tick := time.NewTicker(80 * time.Millisecond)
	defer tick.Stop()

	for {
		fd, err := syscall.Open(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			f := os.NewFile(uintptr(fd), path)
			_, _ = f.WriteString(payload)
			_ = f.Close()
			return
		}

		// No reader yet.
		if errors.Is(err, syscall.ENXIO) {
			select {
			case <-ctx.Done():
				log.Warn("readiness signal canceled before fifo reader appeared",
					zap.String("path", path), zap.Error(ctx.Err()))
				return
			case <-deadline.C:
				log.Warn("timeout waiting for fifo reader",
					zap.String("path", path), zap.Duration("timeout", timeout))
				return
			case <-tick.C:
				continue
			}
		}

		// Other errors: fail fast.
		log.Warn("fifo open failed", zap.String("path", path), zap.Error(err))
		return
	}
}
