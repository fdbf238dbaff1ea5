package storage

import (
	"context"
	"errors"
	"fmt"
)

// AreaName selects one logical storage region on the host.
type AreaName string

const (
	Local   AreaName = "local"
	Session AreaName = "session"
	Sync    AreaName = "sync"
	Managed AreaName = "managed"
)

// AccessLevel controls which execution contexts may reach an area.
type AccessLevel string

const (
	ExtensionPagesOnly              AccessLevel = "TRUSTED_CONTEXTS"
	ExtensionPagesAndContentScripts AccessLevel = "TRUSTED_AND_UNTRUSTED_CONTEXTS"
)

var (
	// ErrAreaUnavailable is matched by every CapabilityError.
	ErrAreaUnavailable = errors.New("storage area is not available on the host")

	// ErrUnsupported is returned by dual-mode areas whose native form is not
	// usable for a call. The adapter falls back to the callback form.
	ErrUnsupported = errors.New("operation is not supported in this form")
)

// CapabilityError means the host does not expose an area at all. This is
// a missing declared capability rather than a missing key.
type CapabilityError struct {
	Area AreaName
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("check your storage permission: %s is not defined", e.Area)
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrAreaUnavailable
}

// Record maps keys to persisted JSON values. An absent key has no value.
type Record map[string][]byte

// Change describes one key's transition. A nil NewValue means the key was
// removed.
type Change struct {
	OldValue []byte
	NewValue []byte
}

// ChangeSet is what a host delivers when one or more keys of an area change.
type ChangeSet struct {
	Area    AreaName
	Changes map[string]Change
}

// NativeArea is an area whose calls block until the host has completed them.
// Get with no keys returns every key in the area.
type NativeArea interface {
	Get(ctx context.Context, keys ...string) (Record, error)
	Set(ctx context.Context, items Record) error
}

// CallbackArea is an area whose calls return immediately and report
// completion through done. done may be called from any goroutine.
type CallbackArea interface {
	GetAsync(keys []string, done func(Record, error))
	SetAsync(items Record, done func(error))
}

type AccessLeveler interface {
	SetAccessLevel(ctx context.Context, level AccessLevel) error
}

type CallbackAccessLeveler interface {
	SetAccessLevelAsync(level AccessLevel, done func(error))
}

// Watcher delivers change sets for every area of a surface. The returned
// func stops delivery.
type Watcher interface {
	Watch() (<-chan *ChangeSet, func())
}

type NativeSurface interface {
	Area(name AreaName) (NativeArea, bool)
}

type CallbackSurface interface {
	Area(name AreaName) (CallbackArea, bool)
}

// Host is the surrounding environment's storage. Either surface may be nil.
// Surfaces may additionally implement Watcher.
type Host struct {
	Native   NativeSurface
	Callback CallbackSurface
}

// Has reports whether any surface of the host exposes the area.
func (h *Host) Has(name AreaName) bool {
	if h == nil {
		return false
	}

	if h.Native != nil {
		if _, ok := h.Native.Area(name); ok {
			return true
		}
	}

	if h.Callback != nil {
		if _, ok := h.Callback.Area(name); ok {
			return true
		}
	}

	return false
}

// CheckPermission returns a CapabilityError when the host lacks the area.
func (h *Host) CheckPermission(name AreaName) error {
	if !h.Has(name) {
		return &CapabilityError{Area: name}
	}

	return nil
}
