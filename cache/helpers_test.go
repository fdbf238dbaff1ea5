package cache_test

import (
	"context"
	"sync/atomic"

	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	"github.com/luma/stash/cache"
	"github.com/luma/stash/storage"
)

type fixture struct {
	feed    *storage.Feed
	local   *storage.InmemoryArea
	session *storage.InmemoryArea

	closers []func() error
	ignore  goleak.Option
}

func newFixture() *fixture {
	feed := storage.NewFeed()

	return &fixture{
		feed:    feed,
		local:   storage.NewInmemoryArea(storage.Local, feed),
		session: storage.NewInmemoryArea(storage.Session, feed),
		ignore:  goleak.IgnoreCurrent(),
	}
}

func (f *fixture) areas() map[storage.AreaName]storage.NativeArea {
	return map[storage.AreaName]storage.NativeArea{
		storage.Local:   f.local,
		storage.Session: f.session,
	}
}

func (f *fixture) nativeHost() *storage.Host {
	return &storage.Host{Native: storage.NewNativeHost(f.feed, f.areas())}
}

func (f *fixture) callbackHost() *storage.Host {
	return &storage.Host{Callback: storage.NewCallbackHost(f.feed, f.areas())}
}

// track closes the store when the test ends.
func (f *fixture) track(closer func() error) {
	f.closers = append(f.closers, closer)
}

// teardown closes everything and checks no goroutine outlived the test.
func (f *fixture) teardown() {
	for _, closer := range f.closers {
		Expect(closer()).To(Succeed())
	}

	Expect(f.feed.Close()).To(Succeed())
	Expect(goleak.Find(f.ignore)).To(Succeed())
}

func newStore[D any](f *fixture, host *storage.Host, key string, fallback D, config cache.Config[D]) *cache.Store[D] {
	if config.Coordinator == nil {
		config.Coordinator = storage.NewAccessCoordinator(nil)
	}

	store, err := cache.New(context.Background(), host, key, fallback, config)
	Expect(err).To(Succeed())

	f.track(store.Close)
	return store
}

func waitLoaded[D any](store *cache.Store[D]) {
	Eventually(func() bool {
		_, ok := store.Snapshot()
		return ok
	}).Should(BeTrue())
}

func snapshot[D any](store *cache.Store[D]) func() D {
	return func() D {
		v, _ := store.Snapshot()
		return v
	}
}

type counter struct {
	n int32
}

func (c *counter) inc() {
	atomic.AddInt32(&c.n, 1)
}

func (c *counter) count() int32 {
	return atomic.LoadInt32(&c.n)
}

// gatedArea holds every Get until the gate opens.
type gatedArea struct {
	*storage.InmemoryArea

	gate chan struct{}
}

func (g *gatedArea) Get(ctx context.Context, keys ...string) (storage.Record, error) {
	select {
	case <-g.gate:
		return g.InmemoryArea.Get(ctx, keys...)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
