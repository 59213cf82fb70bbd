// Package shutdown implements the Shutdown Coordinator (spec.md §4.7):
// cross-process cooperative cancellation driven by a rendezvous file plus
// in-process OS signal handling, both firing the same cancel event exactly
// once.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Coordinator watches a rendezvous file and OS signals, exposing a single
// context that is cancelled the first time either fires.
type Coordinator struct {
	flagPath string
	poll     time.Duration
	log      *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New builds a Coordinator. flagPath is the well-known rendezvous file
// (e.g. "./shutdown_load_january.flag"); poll bounds how often it is
// checked and must be ≤ 1s per spec.md §4.7.
func New(flagPath string, poll time.Duration, log *logrus.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{flagPath: flagPath, poll: poll, log: log, ctx: ctx, cancel: cancel}
}

// Context returns the cancellation context observed by workers/runners.
func (c *Coordinator) Context() context.Context { return c.ctx }

// Watch starts the background file-poll and signal-handling loops. It
// returns immediately. Both loops end once the Coordinator's context is
// cancelled; the Coordinator has no separate stop method.
func (c *Coordinator) Watch() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if c.Requested() {
					c.fire("shutdown flag detected")
					return
				}
			}
		}
	}()

	go func() {
		select {
		case <-c.ctx.Done():
			signal.Stop(sigCh)
			return
		case sig := <-sigCh:
			c.fire("received signal " + sig.String())
		}
	}()
}

func (c *Coordinator) fire(reason string) {
	c.once.Do(func() {
		c.log.WithField("reason", reason).Warn("shutdown requested, will stop at next safe point")
		c.cancel()
	})
}

// Requested reports whether the rendezvous file currently exists.
func (c *Coordinator) Requested() bool {
	_, err := os.Stat(c.flagPath)
	return err == nil
}

// CreateFlag creates the rendezvous file if it does not already exist.
// Idempotent: creating it twice is not an error.
func (c *Coordinator) CreateFlag() error {
	f, err := os.OpenFile(c.flagPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// RemoveFlag clears the rendezvous file. Per spec.md §4.7, only an explicit
// resume command does this; a running worker never removes it on its own.
func (c *Coordinator) RemoveFlag() error {
	err := os.Remove(c.flagPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
