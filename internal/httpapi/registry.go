package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/stash/cache"
	"github.com/luma/stash/storage"
)

// DefaultMaxStores bounds how many live stores a registry keeps open.
const DefaultMaxStores = 1024

var knownAreas = map[storage.AreaName]struct{}{
	storage.Local:   {},
	storage.Session: {},
	storage.Sync:    {},
	storage.Managed: {},
}

type storeKey struct {
	area storage.AreaName
	key  string
}

// Registry lazily creates one live cache store per area and key. Once it
// holds maxStores stores, the least recently used one is closed to make
// room.
type Registry struct {
	host *storage.Host
	log  *zap.Logger

	mu       sync.Mutex
	stores   *lru.Cache
	closeErr error
}

func NewRegistry(host *storage.Host, maxStores int, log *zap.Logger) (*Registry, error) {
	if maxStores <= 0 {
		maxStores = DefaultMaxStores
	}

	if log == nil {
		log = zap.NewNop()
	}

	r := &Registry{host: host, log: log}

	stores, err := lru.NewWithEvict(maxStores, r.evicted)
	if err != nil {
		return nil, err
	}

	r.stores = stores
	return r, nil
}

// evicted runs with r.mu held, from Add or Purge.
func (r *Registry) evicted(key, value interface{}) {
	sk := key.(storeKey)

	r.log.Debug("Closing store",
		zap.String("area", string(sk.area)),
		zap.String("key", sk.key))

	r.closeErr = multierr.Append(r.closeErr, value.(*cache.Store[json.RawMessage]).Close())
}

func (r *Registry) Store(ctx context.Context, area storage.AreaName, key string) (*cache.Store[json.RawMessage], error) {
	if _, ok := knownAreas[area]; !ok {
		return nil, fmt.Errorf("unknown area %q: %w", area, storage.ErrAreaUnavailable)
	}

	if err := r.host.CheckPermission(area); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sk := storeKey{area: area, key: key}
	if store, ok := r.stores.Get(sk); ok {
		return store.(*cache.Store[json.RawMessage]), nil
	}

	store, err := cache.New(ctx, r.host, key, json.RawMessage(nil), cache.Config[json.RawMessage]{
		Area:       area,
		LiveUpdate: true,
		Log:        r.log,
	})
	if err != nil {
		return nil, err
	}

	r.stores.Add(sk, store)

	if err := r.takeCloseErr(); err != nil {
		r.log.Warn("Failed to close evicted store", zap.Error(err))
	}

	return store, nil
}

// Len returns the number of open stores.
func (r *Registry) Len() int {
	return r.stores.Len()
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stores.Purge()
	return r.takeCloseErr()
}

func (r *Registry) takeCloseErr() error {
	err := r.closeErr
	r.closeErr = nil
	return err
}
