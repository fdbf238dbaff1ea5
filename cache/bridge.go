package cache

import (
	"bytes"

	"go.uber.org/zap"

	"github.com/luma/stash/storage"
)

// startBridge follows the host's change stream for this store's key.
func (s *Store[D]) startBridge() {
	if s.area == nil {
		s.log.Warn("Live updates are unavailable, the host does not have this area")
		return
	}

	changes, stop, ok := s.area.Watch()
	if !ok {
		s.log.Warn("Live updates are unavailable, the host cannot watch this area")
		return
	}

	s.mu.Lock()
	s.bridged = true
	s.mu.Unlock()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer stop()
		defer s.unbridge()

		for {
			select {
			case <-s.ctx.Done():
				return

			case cs, ok := <-changes:
				if !ok {
					return
				}

				s.onChanged(cs)
			}
		}
	}()
}

func (s *Store[D]) onChanged(cs *storage.ChangeSet) {
	if cs == nil || cs.Area != s.areaName {
		return
	}

	change, ok := cs.Changes[s.key]
	if !ok {
		return
	}

	if err := s.writes.Acquire(s.ctx, 1); err != nil {
		return
	}

	listeners, changed, err := s.applyExternal(change.NewValue)
	s.writes.Release(1)

	if err != nil {
		s.log.Warn("Ignoring change that could not be deserialized", zap.Error(err))
		return
	}

	if changed {
		s.dispatch(listeners)
	}
}

func (s *Store[D]) unbridge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bridged = false
	s.pending = nil
}

// applyExternal must hold the write slot. The feed delivers changes in the
// order the area applied them, so while this store has writes in flight
// every change is either the echo of the oldest one or was persisted before
// it. Neither touches the mirror, which already holds a newer value.
func (s *Store[D]) applyExternal(raw []byte) ([]subscription, bool, error) {
	s.mu.Lock()

	if len(s.pending) > 0 {
		if bytes.Equal(s.pending[0], raw) {
			s.pending[0] = nil
			s.pending = s.pending[1:]
		}

		s.mu.Unlock()
		return nil, false, nil
	}

	// Content identical to the mirror changes nothing
	same := s.initialized && bytes.Equal(s.raw, raw)
	s.mu.Unlock()

	if same {
		return nil, false, nil
	}

	value := s.fallback

	if raw != nil {
		v, ok, err := s.serializer.Deserialize(raw)
		if err != nil {
			return nil, false, err
		}

		if ok {
			value = v
		}
	}

	return s.mirror(value, raw), true, nil
}
