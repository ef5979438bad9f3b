// Package safeguards serializes mutations of shared system configuration
// files.
//
// The mount table and the hdparm configuration are rewritten by atomic
// replace-by-rename, which prevents torn files but not lost updates when two
// requests rewrite the same file concurrently. The guard closes that gap
// in-process: every persistent mutation acquires the writer slot for its
// target path first.
package safeguards

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// PathGuard hands out single-writer slots keyed by file path. Reads do not go
// through the guard; replace-by-rename keeps them consistent on their own.
type PathGuard struct {
	mu     sync.Mutex
	slots  map[string]chan struct{}
	logger logrus.FieldLogger
}

// NewPathGuard creates a PathGuard.
func NewPathGuard(logger logrus.FieldLogger) *PathGuard {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PathGuard{
		slots:  make(map[string]chan struct{}),
		logger: logger.WithField("component", "path-guard"),
	}
}

func (g *PathGuard) slot(path string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[path]
	if !ok {
		s = make(chan struct{}, 1)
		g.slots[path] = s
	}
	return s
}

// Acquire takes the writer slot for path, blocking until it is free or ctx is
// done.
func (g *PathGuard) Acquire(ctx context.Context, path string) error {
	select {
	case g.slot(path) <- struct{}{}:
		g.logger.WithField("path", path).Debug("acquired writer slot")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cancelled while waiting for writer slot on %s: %w", path, ctx.Err())
	}
}

// Release frees the writer slot for path.
func (g *PathGuard) Release(path string) {
	<-g.slot(path)
	g.logger.WithField("path", path).Debug("released writer slot")
}

// WithPath runs fn while holding the writer slot for path.
func (g *PathGuard) WithPath(ctx context.Context, path string, fn func() error) error {
	if err := g.Acquire(ctx, path); err != nil {
		return err
	}
	defer g.Release(path)
	return fn()
}

// Recoverable wraps a function with panic recovery so a bug in one operation
// cannot take down the whole service.
func Recoverable(logger logrus.FieldLogger, opName string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.WithFields(logrus.Fields{
				"operation": opName,
				"panic":     r,
				"stack":     string(stack),
			}).Error("recovered from panic in operation")
			err = fmt.Errorf("panic in operation %s: %v", opName, r)
		}
	}()
	return fn()
}
