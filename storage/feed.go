package storage

import (
	"sync"
)

const (
	// FeedBufferSize is the capacity of a watcher's channel. Change sets
	// beyond it queue up in memory, publishers never wait on a watcher.
	FeedBufferSize = 255
)

type feedWatcher struct {
	ch     chan *ChangeSet
	done   chan struct{}
	exited chan struct{}
	wake   chan struct{}

	mu      sync.Mutex
	pending []*ChangeSet
}

func newFeedWatcher() *feedWatcher {
	return &feedWatcher{
		ch:     make(chan *ChangeSet, FeedBufferSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
}

func (w *feedWatcher) push(cs *ChangeSet) {
	w.mu.Lock()
	w.pending = append(w.pending, cs)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *feedWatcher) pop() (*ChangeSet, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil, false
	}

	cs := w.pending[0]
	w.pending[0] = nil
	w.pending = w.pending[1:]

	return cs, true
}

// pump moves queued change sets into the channel, in publish order.
func (w *feedWatcher) pump(stop <-chan struct{}) {
	defer close(w.exited)

	for {
		select {
		case <-w.wake:
		case <-w.done:
			return
		case <-stop:
			return
		}

		for {
			cs, ok := w.pop()
			if !ok {
				break
			}

			select {
			case w.ch <- cs:
			case <-w.done:
				return
			case <-stop:
				return
			}
		}
	}
}

// Feed fans change sets out to every watcher. It implements Watcher.
type Feed struct {
	mu       sync.Mutex
	watchers map[int]*feedWatcher
	nextID   int

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewFeed() *Feed {
	return &Feed{
		watchers: make(map[int]*feedWatcher),
		stop:     make(chan struct{}),
	}
}

// Watch registers a watcher. The channel is never closed, consumers stop
// with the returned func and their own cancellation.
func (f *Feed) Watch() (<-chan *ChangeSet, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := newFeedWatcher()

	if !f.isRunning() {
		close(w.done)
		close(w.exited)
		return w.ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.watchers[id] = w

	go w.pump(f.stop)

	var once sync.Once

	return w.ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()

			close(w.done)
			<-w.exited
		})
	}
}

// Publish queues cs for every current watcher and returns without waiting
// for any of them. Watchers see change sets in the order they were
// published. It is a no-op after Close.
func (f *Feed) Publish(cs *ChangeSet) {
	if cs == nil || len(cs.Changes) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isRunning() {
		return
	}

	for id := 0; id < f.nextID; id++ {
		if w, ok := f.watchers[id]; ok {
			w.push(cs)
		}
	}
}

// Watchers returns the number of registered watchers.
func (f *Feed) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.watchers)
}

// Close stops every watcher and waits for their queues to shut down.
func (f *Feed) Close() error {
	f.mu.Lock()

	if !f.isRunning() {
		f.mu.Unlock()
		return nil
	}

	close(f.stop)

	watchers := make([]*feedWatcher, 0, len(f.watchers))
	for id, w := range f.watchers {
		watchers = append(watchers, w)
		delete(f.watchers, id)
	}
	f.mu.Unlock()

	for _, w := range watchers {
		<-w.exited
	}

	return nil
}

// isRunning returns true if Close has not been called
func (f *Feed) isRunning() bool {
	select {
	case <-f.stop:
		return false

	default:
		return true
	}
}

var _ Watcher = (*Feed)(nil)
