package storage

import (
	"context"
)

// NativeHost is a NativeSurface over a fixed set of areas. It watches through
// its feed when one is given.
type NativeHost struct {
	areas map[AreaName]NativeArea
	feed  *Feed
}

func NewNativeHost(feed *Feed, areas map[AreaName]NativeArea) *NativeHost {
	return &NativeHost{areas: areas, feed: feed}
}

func (h *NativeHost) Area(name AreaName) (NativeArea, bool) {
	area, ok := h.areas[name]
	return area, ok
}

func (h *NativeHost) Watch() (<-chan *ChangeSet, func()) {
	if h.feed == nil {
		return nil, func() {}
	}

	return h.feed.Watch()
}

// CallbackHost exposes native areas in the callback shape. Each call runs
// on its own goroutine and reports through done.
//
// A CallbackHost built without a feed has no watch primitive, and its
// Watch method reports a nil channel.
type CallbackHost struct {
	areas map[AreaName]*CallbackAreaAdapter
	feed  *Feed
}

func NewCallbackHost(feed *Feed, areas map[AreaName]NativeArea) *CallbackHost {
	adapted := make(map[AreaName]*CallbackAreaAdapter, len(areas))
	for name, area := range areas {
		adapted[name] = &CallbackAreaAdapter{area: area}
	}

	return &CallbackHost{areas: adapted, feed: feed}
}

func (h *CallbackHost) Area(name AreaName) (CallbackArea, bool) {
	area, ok := h.areas[name]
	if !ok {
		return nil, false
	}

	return area, true
}

func (h *CallbackHost) Watch() (<-chan *ChangeSet, func()) {
	if h.feed == nil {
		return nil, func() {}
	}

	return h.feed.Watch()
}

// CallbackAreaAdapter drives a NativeArea through callbacks.
type CallbackAreaAdapter struct {
	area NativeArea
}

func (c *CallbackAreaAdapter) GetAsync(keys []string, done func(Record, error)) {
	go func() {
		done(c.area.Get(context.Background(), keys...))
	}()
}

func (c *CallbackAreaAdapter) SetAsync(items Record, done func(error)) {
	go func() {
		done(c.area.Set(context.Background(), items))
	}()
}

// SetAccessLevelAsync reports ErrUnsupported when the wrapped area has no
// access levels.
func (c *CallbackAreaAdapter) SetAccessLevelAsync(level AccessLevel, done func(error)) {
	leveler, ok := c.area.(AccessLeveler)
	if !ok {
		done(ErrUnsupported)
		return
	}

	go func() {
		done(leveler.SetAccessLevel(context.Background(), level))
	}()
}

var _ NativeSurface = (*NativeHost)(nil)
var _ CallbackSurface = (*CallbackHost)(nil)
var _ CallbackArea = (*CallbackAreaAdapter)(nil)
var _ CallbackAccessLeveler = (*CallbackAreaAdapter)(nil)
