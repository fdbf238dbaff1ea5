package storage

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// AccessCoordinator widens an area's access level at most once.
type AccessCoordinator struct {
	widened atomic.Bool
	widens  atomic.Int32
	log     *zap.Logger
}

var processAccess = NewAccessCoordinator(nil)

// ProcessAccessCoordinator returns the coordinator shared by every cache in
// the process.
func ProcessAccessCoordinator() *AccessCoordinator {
	return processAccess
}

func NewAccessCoordinator(log *zap.Logger) *AccessCoordinator {
	if log == nil {
		log = zap.NewNop()
	}

	return &AccessCoordinator{log: log}
}

// EnsureSessionAccessWidened lets content scripts reach the area. Only a
// missing area is reported; a failed widen is logged so the area stays
// usable.
//
// The flag is claimed before the widen is attempted, so exactly one caller
// issues it. Concurrent callers return as soon as the flag is claimed and
// may do so before that widen has completed.
func (c *AccessCoordinator) EnsureSessionAccessWidened(ctx context.Context, host *Host, name AreaName) error {
	if c.widened.Load() {
		return nil
	}

	if err := host.CheckPermission(name); err != nil {
		return err
	}

	if !c.widened.CompareAndSwap(false, true) {
		return nil
	}

	log := c.log.With(zap.String("area", string(name)))

	area, ok := Resolve(host, name, log)
	if !ok || !area.SupportsAccessLevel() {
		log.Debug("Host cannot change the access level of this area")
		return nil
	}

	c.widens.Add(1)

	if !area.SetAccessLevel(ctx, ExtensionPagesAndContentScripts) {
		log.Warn("Please call SetAccessLevel from a different context, like a background worker")
	}

	return nil
}

// Widened reports whether the coordinator has already run.
func (c *AccessCoordinator) Widened() bool {
	return c.widened.Load()
}

// WidenCount reports how many widen calls were issued.
func (c *AccessCoordinator) WidenCount() int {
	return int(c.widens.Load())
}
