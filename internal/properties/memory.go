package properties

import (
	"context"
	"sync"
)

// Operation names recorded by MemoryStore.
const (
	OperationSet    = "set"
	OperationDelete = "delete"
)

// Write records a single mutation applied to a MemoryStore.
type Write struct {
	Operation string
	Key       string
	Value     string
}

// MemoryStore keeps properties in process memory and records every mutation in order.
// FailSet, when set, is consulted before each Set and aborts it on a non-nil error.
type MemoryStore struct {
	mutex   sync.Mutex
	values  map[string]string
	writes  []Write
	FailSet func(key string, value string) error
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the stored value.
func (store *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	value, exists := store.values[key]
	return value, exists, nil
}

// Set stores value under key.
func (store *MemoryStore) Set(_ context.Context, key string, value string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.FailSet != nil {
		if failure := store.FailSet(key, value); failure != nil {
			return failure
		}
	}
	store.values[key] = value
	store.writes = append(store.writes, Write{Operation: OperationSet, Key: key, Value: value})
	return nil
}

// SetIfAbsent stores value only when key is absent.
func (store *MemoryStore) SetIfAbsent(_ context.Context, key string, value string) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.values[key]; exists {
		return false, nil
	}
	if store.FailSet != nil {
		if failure := store.FailSet(key, value); failure != nil {
			return false, failure
		}
	}
	store.values[key] = value
	store.writes = append(store.writes, Write{Operation: OperationSet, Key: key, Value: value})
	return true, nil
}

// Delete removes key. Deleting an absent key succeeds.
func (store *MemoryStore) Delete(_ context.Context, key string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.values, key)
	store.writes = append(store.writes, Write{Operation: OperationDelete, Key: key})
	return nil
}

// Writes returns a copy of the recorded mutations.
func (store *MemoryStore) Writes() []Write {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return append([]Write(nil), store.writes...)
}

// ResetWrites clears the mutation record while keeping stored values.
func (store *MemoryStore) ResetWrites() {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.writes = nil
}

// Snapshot returns a copy of the stored values.
func (store *MemoryStore) Snapshot() map[string]string {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	snapshot := make(map[string]string, len(store.values))
	for key, value := range store.values {
		snapshot[key] = value
	}
	return snapshot
}
