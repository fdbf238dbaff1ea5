package storage

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// backend is the strategy an Area settles on when it is resolved.
type backend interface {
	get(ctx context.Context, keys []string) (Record, error)
	set(ctx context.Context, items Record) error

	// accessLeveler returns nil when the area has no access levels
	accessLeveler() func(ctx context.Context, level AccessLevel) error
}

// Area is the normalized view of one host area, whichever shape the host
// offers it in.
type Area struct {
	name    AreaName
	backend backend
	watcher Watcher
	log     *zap.Logger
}

// Resolve picks the surface backing name. The native surface wins over the
// callback surface. It returns false when neither exposes the area.
func Resolve(host *Host, name AreaName, log *zap.Logger) (*Area, bool) {
	if log == nil {
		log = zap.NewNop()
	}

	if host == nil {
		return nil, false
	}

	if host.Native != nil {
		if native, ok := host.Native.Area(name); ok {
			return &Area{
				name:    name,
				backend: &nativeBackend{area: native},
				watcher: surfaceWatcher(host.Native),
				log:     log,
			}, true
		}
	}

	if host.Callback != nil {
		if callback, ok := host.Callback.Area(name); ok {
			b := &callbackBackend{area: callback}

			// Dual-mode hosts answer natively when they can
			if native, ok := callback.(NativeArea); ok {
				b.native = native
			}

			return &Area{
				name:    name,
				backend: b,
				watcher: surfaceWatcher(host.Callback),
				log:     log,
			}, true
		}
	}

	return nil, false
}

func surfaceWatcher(surface interface{}) Watcher {
	w, _ := surface.(Watcher)
	return w
}

func (a *Area) Name() AreaName {
	return a.name
}

// Get reads keys from the area. It never returns a nil record on success.
func (a *Area) Get(ctx context.Context, keys ...string) (Record, error) {
	record, err := a.backend.get(ctx, keys)
	if err != nil {
		return nil, err
	}

	if record == nil {
		record = Record{}
	}

	return record, nil
}

func (a *Area) Set(ctx context.Context, items Record) error {
	return a.backend.set(ctx, items)
}

func (a *Area) SupportsAccessLevel() bool {
	return a.backend.accessLeveler() != nil
}

// SetAccessLevel is best-effort. Failures are logged and reported as false,
// not every host implements access levels.
func (a *Area) SetAccessLevel(ctx context.Context, level AccessLevel) bool {
	fn := a.backend.accessLeveler()
	if fn == nil {
		a.log.Debug("Area does not support access levels", zap.String("area", string(a.name)))
		return false
	}

	if err := fn(ctx, level); err != nil {
		a.log.Warn("Failed to set access level",
			zap.String("area", string(a.name)),
			zap.String("accessLevel", string(level)),
			zap.Error(err))
		return false
	}

	return true
}

// Watch returns the host's change stream. ok is false when the surface that
// backs this area has no watch primitive.
func (a *Area) Watch() (changes <-chan *ChangeSet, stop func(), ok bool) {
	if a.watcher == nil {
		return nil, func() {}, false
	}

	changes, stop = a.watcher.Watch()
	if changes == nil {
		stop()
		return nil, func() {}, false
	}

	return changes, stop, true
}

type nativeBackend struct {
	area NativeArea
}

func (n *nativeBackend) get(ctx context.Context, keys []string) (Record, error) {
	return n.area.Get(ctx, keys...)
}

func (n *nativeBackend) set(ctx context.Context, items Record) error {
	return n.area.Set(ctx, items)
}

func (n *nativeBackend) accessLeveler() func(ctx context.Context, level AccessLevel) error {
	if leveler, ok := n.area.(AccessLeveler); ok {
		return leveler.SetAccessLevel
	}

	return nil
}

type callbackBackend struct {
	area CallbackArea

	// native is set for dual-mode areas
	native NativeArea
}

type getResult struct {
	record Record
	err    error
}

func (c *callbackBackend) get(ctx context.Context, keys []string) (Record, error) {
	if c.native != nil {
		record, err := c.native.Get(ctx, keys...)
		if !errors.Is(err, ErrUnsupported) {
			return record, err
		}
	}

	done := make(chan getResult, 1)
	c.area.GetAsync(keys, func(record Record, err error) {
		select {
		case done <- getResult{record: record, err: err}:
		default:
			// done was already called
		}
	})

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}

		if res.record == nil {
			return Record{}, nil
		}

		return res.record, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *callbackBackend) set(ctx context.Context, items Record) error {
	if c.native != nil {
		err := c.native.Set(ctx, items)
		if !errors.Is(err, ErrUnsupported) {
			return err
		}
	}

	return waitCallback(ctx, func(done func(error)) {
		c.area.SetAsync(items, done)
	})
}

func (c *callbackBackend) accessLeveler() func(ctx context.Context, level AccessLevel) error {
	nativeLeveler, hasNative := c.native.(AccessLeveler)
	callbackLeveler, hasCallback := c.area.(CallbackAccessLeveler)

	if !hasNative && !hasCallback {
		return nil
	}

	return func(ctx context.Context, level AccessLevel) error {
		if hasNative {
			err := nativeLeveler.SetAccessLevel(ctx, level)
			if !errors.Is(err, ErrUnsupported) || !hasCallback {
				return err
			}
		}

		return waitCallback(ctx, func(done func(error)) {
			callbackLeveler.SetAccessLevelAsync(level, done)
		})
	}
}

func waitCallback(ctx context.Context, call func(done func(error))) error {
	done := make(chan error, 1)
	call(func(err error) {
		select {
		case done <- err:
		default:
			// done was already called
		}
	})

	select {
	case err := <-done:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}
