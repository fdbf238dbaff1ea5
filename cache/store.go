// Package cache keeps an in-memory mirror of one persisted key and tells
// subscribers whenever it changes, whether the change came from this
// process or from the host.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/luma/stash/storage"
)

// UpdateFunc derives a new value from the previous one. It may block.
type UpdateFunc[D any] func(ctx context.Context, prev D) (D, error)

type Config[D any] struct {
	// Area backing the store. Defaults to storage.Local
	Area storage.AreaName

	// LiveUpdate mirrors changes made to the key outside this store
	LiveUpdate bool

	// SessionAccessForContentScripts widens the session area's access level
	// once per process. Only meaningful with Area == storage.Session
	SessionAccessForContentScripts bool

	// Serializer defaults to JSON
	Serializer Serializer[D]

	// Coordinator defaults to storage.ProcessAccessCoordinator()
	Coordinator *storage.AccessCoordinator

	Log *zap.Logger
}

type subscription struct {
	id uint64
	fn func()
}

// Store mirrors a single key of a host area.
type Store[D any] struct {
	key        string
	fallback   D
	areaName   storage.AreaName
	area       *storage.Area
	serializer Serializer[D]
	log        *zap.Logger

	// writes is a single slot queue. Every read-modify-write of the mirror
	// holds it, so update functions always see the latest value.
	writes *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// dispatching counts listener fan-outs running on the store's own
	// goroutines, which Close cannot wait for.
	dispatching atomic.Int32

	mu          sync.RWMutex
	cache       D
	raw         []byte
	initialized bool
	listeners   []subscription
	nextID      uint64

	// bridged is true while the bridge runs. pending then holds the raw
	// values this store persisted whose echoes have not arrived yet, oldest
	// first.
	bridged bool
	pending [][]byte
}

// New creates a store for key and starts loading its value. The store is
// usable even when the host lacks the area: its operations then fail with a
// *storage.CapabilityError. New itself only fails when the session access
// level has to be widened for an area the host does not have.
func New[D any](ctx context.Context, host *storage.Host, key string, fallback D, config Config[D]) (*Store[D], error) {
	if config.Area == "" {
		config.Area = storage.Local
	}

	if config.Serializer == nil {
		config.Serializer = JSON[D]{}
	}

	if config.Coordinator == nil {
		config.Coordinator = storage.ProcessAccessCoordinator()
	}

	if config.Log == nil {
		config.Log = zap.NewNop()
	}

	log := config.Log.Named("cache").With(
		zap.String("area", string(config.Area)),
		zap.String("key", key))

	if config.Area == storage.Session && config.SessionAccessForContentScripts {
		if err := config.Coordinator.EnsureSessionAccessWidened(ctx, host, config.Area); err != nil {
			return nil, err
		}
	}

	area, _ := storage.Resolve(host, config.Area, log)

	storeCtx, cancel := context.WithCancel(context.Background())

	s := &Store[D]{
		key:        key,
		fallback:   fallback,
		areaName:   config.Area,
		area:       area,
		serializer: config.Serializer,
		log:        log,
		writes:     semaphore.NewWeighted(1),
		ctx:        storeCtx,
		cancel:     cancel,
	}

	s.wg.Add(1)
	go s.load()

	if config.LiveUpdate {
		s.startBridge()
	}

	return s, nil
}

func (s *Store[D]) Key() string {
	return s.key
}

func (s *Store[D]) Area() storage.AreaName {
	return s.areaName
}

// Get reads the persisted value. It returns the fallback when the host has
// nothing for the key. The mirror is not touched.
func (s *Store[D]) Get(ctx context.Context) (D, error) {
	value, _, err := s.read(ctx)
	return value, err
}

// Set persists v, updates the mirror and notifies subscribers.
func (s *Store[D]) Set(ctx context.Context, v D) error {
	return s.commit(ctx, func(context.Context, D) (D, error) {
		return v, nil
	})
}

// Update persists fn's result. fn receives the mirrored value, or the
// persisted one when the first load has not completed yet.
func (s *Store[D]) Update(ctx context.Context, fn UpdateFunc[D]) error {
	return s.commit(ctx, fn)
}

// Snapshot returns the mirrored value without any I/O. ok is false until
// the first load or write completes.
func (s *Store[D]) Snapshot() (v D, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return v, false
	}

	return s.cache, true
}

// Subscribe registers listener. Every call is a separate registration, the
// returned func removes exactly this one and may be called more than once.
func (s *Store[D]) Subscribe(listener func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++

	listeners := make([]subscription, len(s.listeners), len(s.listeners)+1)
	copy(listeners, s.listeners)
	s.listeners = append(listeners, subscription{id: id, fn: listener})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		listeners := make([]subscription, 0, len(s.listeners))
		for _, sub := range s.listeners {
			if sub.id != id {
				listeners = append(listeners, sub)
			}
		}

		s.listeners = listeners
	}
}

// Close stops live updates and any pending first load, and waits for them
// to finish. While a live update or the first load is notifying listeners it
// returns without waiting, so listeners may call it. The notifying goroutine
// exits after that fan-out.
func (s *Store[D]) Close() error {
	s.cancel()

	if s.dispatching.Load() > 0 {
		return nil
	}

	s.wg.Wait()
	return nil
}

func (s *Store[D]) read(ctx context.Context) (value D, raw []byte, err error) {
	if s.area == nil {
		return value, nil, &storage.CapabilityError{Area: s.areaName}
	}

	record, err := s.area.Get(ctx, s.key)
	if err != nil {
		return value, nil, fmt.Errorf("Failed to get %q: %w", s.key, err)
	}

	raw, ok := record[s.key]
	if !ok {
		return s.fallback, nil, nil
	}

	value, ok, err = s.serializer.Deserialize(raw)
	if err != nil {
		return value, nil, fmt.Errorf("Failed to deserialize %q: %w", s.key, err)
	}

	if !ok {
		return s.fallback, raw, nil
	}

	return value, raw, nil
}

func (s *Store[D]) commit(ctx context.Context, fn UpdateFunc[D]) error {
	if err := s.writes.Acquire(ctx, 1); err != nil {
		return err
	}

	listeners, err := s.write(ctx, fn)
	s.writes.Release(1)

	if err != nil {
		return err
	}

	notify(listeners)
	return nil
}

// write must hold the write slot. It returns the listeners to notify.
func (s *Store[D]) write(ctx context.Context, fn UpdateFunc[D]) ([]subscription, error) {
	if s.area == nil {
		return nil, &storage.CapabilityError{Area: s.areaName}
	}

	prev, ok := s.Snapshot()
	if !ok {
		var err error
		if prev, _, err = s.read(ctx); err != nil {
			return nil, err
		}
	}

	next, err := fn(ctx, prev)
	if err != nil {
		return nil, err
	}

	raw, err := s.serializer.Serialize(next)
	if err != nil {
		return nil, fmt.Errorf("Failed to serialize %q: %w", s.key, err)
	}

	if err := s.area.Set(ctx, storage.Record{s.key: raw}); err != nil {
		return nil, fmt.Errorf("Failed to set %q: %w", s.key, err)
	}

	s.mu.Lock()
	if s.bridged {
		s.pending = append(s.pending, raw)
	}
	s.mu.Unlock()

	return s.mirror(next, raw), nil
}

// load seeds the mirror, unless a write got there first.
func (s *Store[D]) load() {
	defer s.wg.Done()

	if err := s.writes.Acquire(s.ctx, 1); err != nil {
		return
	}

	if s.isInitialized() {
		s.writes.Release(1)
		return
	}

	value, raw, err := s.read(s.ctx)
	if err != nil {
		s.writes.Release(1)

		if s.ctx.Err() == nil {
			s.log.Error("Failed to load initial value", zap.Error(err))
		}

		return
	}

	listeners := s.mirror(value, raw)
	s.writes.Release(1)

	s.dispatch(listeners)
}

// mirror stores a new value and returns the listeners registered at that
// moment. Later registrations are not told about this value.
func (s *Store[D]) mirror(value D, raw []byte) []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = value
	s.raw = raw
	s.initialized = true

	return s.listeners
}

func (s *Store[D]) isInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.initialized
}

// dispatch notifies from one of the store's own goroutines.
func (s *Store[D]) dispatch(listeners []subscription) {
	s.dispatching.Add(1)
	defer s.dispatching.Add(-1)

	notify(listeners)
}

// notify calls listeners in registration order. The slice is never
// mutated, Subscribe and unsubscribe replace it.
func notify(listeners []subscription) {
	for _, sub := range listeners {
		sub.fn()
	}
}
