// Package properties defines the durable key-value contract used to persist
// migration progress between invocations, with SQLite and in-memory backends.
package properties

import (
	"context"
	"errors"
)

// ErrStoreClosed reports use of a store after Close.
var ErrStoreClosed = errors.New("property store closed")

// Store persists string properties across process restarts.
// Get reports false for absent keys. Set and Delete are durable once they return nil.
type Store interface {
	Get(executionContext context.Context, key string) (string, bool, error)
	Set(executionContext context.Context, key string, value string) error
	Delete(executionContext context.Context, key string) error
}

// Namespaced prefixes every key of the wrapped store, isolating the state of one migration target.
type Namespaced struct {
	store  Store
	prefix string
}

// NewNamespaced wraps store so every key is stored as "<namespace>/<key>".
func NewNamespaced(store Store, namespace string) Namespaced {
	return Namespaced{store: store, prefix: namespace + "/"}
}

// Get reads a namespaced property.
func (namespaced Namespaced) Get(executionContext context.Context, key string) (string, bool, error) {
	return namespaced.store.Get(executionContext, namespaced.prefix+key)
}

// Set writes a namespaced property.
func (namespaced Namespaced) Set(executionContext context.Context, key string, value string) error {
	return namespaced.store.Set(executionContext, namespaced.prefix+key, value)
}

// Delete removes a namespaced property.
func (namespaced Namespaced) Delete(executionContext context.Context, key string) error {
	return namespaced.store.Delete(executionContext, namespaced.prefix+key)
}

// ConditionalSetter is implemented by stores able to create a key atomically.
type ConditionalSetter interface {
	SetIfAbsent(executionContext context.Context, key string, value string) (bool, error)
}

// SetIfAbsent stores value only when key is absent and reports whether it did.
// Stores without ConditionalSetter fall back to a read followed by a write.
func SetIfAbsent(executionContext context.Context, store Store, key string, value string) (bool, error) {
	if conditionalStore, supported := store.(ConditionalSetter); supported {
		return conditionalStore.SetIfAbsent(executionContext, key, value)
	}

	_, exists, getError := store.Get(executionContext, key)
	if getError != nil {
		return false, getError
	}
	if exists {
		return false, nil
	}
	if setError := store.Set(executionContext, key, value); setError != nil {
		return false, setError
	}
	return true, nil
}

// SetIfAbsent creates a namespaced property only when it is absent.
func (namespaced Namespaced) SetIfAbsent(executionContext context.Context, key string, value string) (bool, error) {
	return SetIfAbsent(executionContext, namespaced.store, namespaced.prefix+key, value)
}
