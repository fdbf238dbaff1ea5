package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	ErrInvalidValue = errors.New("value is not valid JSON")
	ErrAreaClosed   = errors.New("storage area is closed")
)

// InmemoryArea holds an area as a single JSON document. Writes are published
// to the feed it was created with, if any.
type InmemoryArea struct {
	name AreaName
	feed *Feed

	mu          sync.RWMutex
	values      []byte
	accessLevel AccessLevel

	// stop willl be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryArea(name AreaName, feed *Feed) *InmemoryArea {
	return &InmemoryArea{
		name:        name,
		feed:        feed,
		values:      []byte("{}"),
		accessLevel: ExtensionPagesOnly,
		stop:        make(chan struct{}),
	}
}

func (i *InmemoryArea) Name() AreaName {
	return i.name
}

func (i *InmemoryArea) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.isRunning() {
		close(i.stop)
	}

	return nil
}

func (i *InmemoryArea) Get(ctx context.Context, keys ...string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	record := make(Record)

	if len(keys) == 0 {
		gjson.ParseBytes(i.values).ForEach(func(key, value gjson.Result) bool {
			record[key.String()] = []byte(value.Raw)
			return true
		})

		return record, nil
	}

	for _, key := range keys {
		result := gjson.GetBytes(i.values, escapePath(key))
		if !result.Exists() {
			continue
		}

		record[key] = []byte(result.Raw)
	}

	return record, nil
}

// Set writes every item of the record. A nil value removes the key.
func (i *InmemoryArea) Set(ctx context.Context, items Record) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()

	if !i.isRunning() {
		i.mu.Unlock()
		return ErrAreaClosed
	}

	values := i.values
	changes := make(map[string]Change, len(items))

	for key, value := range items {
		path := escapePath(key)

		var old []byte
		if result := gjson.GetBytes(values, path); result.Exists() {
			old = []byte(result.Raw)
		}

		if value == nil {
			values, err = sjson.DeleteBytes(values, path)
		} else {
			if !gjson.ValidBytes(value) {
				i.mu.Unlock()
				return fmt.Errorf("Failed to set %q: %w", key, ErrInvalidValue)
			}

			values, err = sjson.SetRawBytes(values, path, value)
		}

		if err != nil {
			i.mu.Unlock()
			return fmt.Errorf("Failed to set %q: %w", key, err)
		}

		changes[key] = Change{OldValue: old, NewValue: cloneBytes(value)}
	}

	i.values = values

	// Published under the lock so watchers see writes in the order they
	// were applied.
	if i.feed != nil {
		i.feed.Publish(&ChangeSet{Area: i.name, Changes: changes})
	}

	i.mu.Unlock()

	return nil
}

func (i *InmemoryArea) SetAccessLevel(ctx context.Context, level AccessLevel) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	i.accessLevel = level
	i.mu.Unlock()

	return nil
}

func (i *InmemoryArea) AccessLevel() AccessLevel {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.accessLevel
}

// Restore replaces the whole document without publishing changes.
func (i *InmemoryArea) Restore(values []byte) error {
	if !gjson.ValidBytes(values) {
		return ErrInvalidValue
	}

	i.mu.Lock()
	i.values = cloneBytes(values)
	i.mu.Unlock()

	return nil
}

func (i *InmemoryArea) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return cloneBytes(i.values), nil
}

// isRunning returns true if Close has not been called
func (i *InmemoryArea) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

// escapePath turns a key into a literal gjson/sjson path component.
func escapePath(key string) string {
	var b strings.Builder
	b.Grow(len(key))

	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}

var _ NativeArea = (*InmemoryArea)(nil)
var _ AccessLeveler = (*InmemoryArea)(nil)
