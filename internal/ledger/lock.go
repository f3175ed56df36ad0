package ledger

import (
	"context"
	"fmt"

	"github.com/temirov/drivemigrate/internal/properties"
)

const (
	acquireLockErrorTemplateConstant = "unable to acquire run lock: %w"
	releaseLockErrorTemplateConstant = "unable to release run lock: %w"
	readLockErrorTemplateConstant    = "unable to read run lock: %w"
)

// RunLock is a durable flag held by at most one migration run per target.
// A second run is rejected, never queued.
type RunLock struct {
	store properties.Store
}

// NewRunLock constructs a RunLock over store.
func NewRunLock(store properties.Store) RunLock {
	return RunLock{store: store}
}

// TryAcquire sets the lock to holder and reports false when it was already held.
func (lock RunLock) TryAcquire(executionContext context.Context, holder string) (bool, error) {
	acquired, acquireError := properties.SetIfAbsent(executionContext, lock.store, runInProgressKeyConstant, holder)
	if acquireError != nil {
		return false, fmt.Errorf(acquireLockErrorTemplateConstant, acquireError)
	}
	return acquired, nil
}

// Holder returns the identifier of the run holding the lock.
func (lock RunLock) Holder(executionContext context.Context) (string, bool, error) {
	holder, held, getError := lock.store.Get(executionContext, runInProgressKeyConstant)
	if getError != nil {
		return "", false, fmt.Errorf(readLockErrorTemplateConstant, getError)
	}
	return holder, held, nil
}

// Release clears the lock unconditionally, whoever holds it.
func (lock RunLock) Release(executionContext context.Context) error {
	if deleteError := lock.store.Delete(executionContext, runInProgressKeyConstant); deleteError != nil {
		return fmt.Errorf(releaseLockErrorTemplateConstant, deleteError)
	}
	return nil
}
