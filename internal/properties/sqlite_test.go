package properties_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/properties"
)

const (
	testStateDatabaseNameConstant = "state.db"
	testLedgerKeyConstant         = "processedIds"
	testLedgerValueConstant       = `{"P":true}`
)

func TestSQLiteStorePersistsAcrossReopen(testInstance *testing.T) {
	executionContext := context.Background()
	databasePath := filepath.Join(testInstance.TempDir(), "nested", testStateDatabaseNameConstant)

	store, openError := properties.OpenSQLiteStore(executionContext, databasePath, zap.NewNop())
	require.NoError(testInstance, openError)

	_, exists, getError := store.Get(executionContext, testLedgerKeyConstant)
	require.NoError(testInstance, getError)
	require.False(testInstance, exists)

	require.NoError(testInstance, store.Set(executionContext, testLedgerKeyConstant, "{}"))
	require.NoError(testInstance, store.Set(executionContext, testLedgerKeyConstant, testLedgerValueConstant))
	require.NoError(testInstance, store.Close())
	require.NoError(testInstance, store.Close())

	reopened, reopenError := properties.OpenSQLiteStore(executionContext, databasePath, nil)
	require.NoError(testInstance, reopenError)
	testInstance.Cleanup(func() { _ = reopened.Close() })

	value, exists, getError := reopened.Get(executionContext, testLedgerKeyConstant)
	require.NoError(testInstance, getError)
	require.True(testInstance, exists)
	require.Equal(testInstance, testLedgerValueConstant, value)

	require.NoError(testInstance, reopened.Delete(executionContext, testLedgerKeyConstant))
	require.NoError(testInstance, reopened.Delete(executionContext, testLedgerKeyConstant))

	_, exists, getError = reopened.Get(executionContext, testLedgerKeyConstant)
	require.NoError(testInstance, getError)
	require.False(testInstance, exists)
}

func TestSQLiteStoreRejectsUseAfterClose(testInstance *testing.T) {
	executionContext := context.Background()
	store, openError := properties.OpenSQLiteStore(executionContext, filepath.Join(testInstance.TempDir(), testStateDatabaseNameConstant), nil)
	require.NoError(testInstance, openError)
	require.NoError(testInstance, store.Close())

	_, _, getError := store.Get(executionContext, testLedgerKeyConstant)
	require.ErrorIs(testInstance, getError, properties.ErrStoreClosed)
	require.ErrorIs(testInstance, store.Set(executionContext, testLedgerKeyConstant, "{}"), properties.ErrStoreClosed)
}

func TestSQLiteStoreSetIfAbsent(testInstance *testing.T) {
	executionContext := context.Background()
	store, openError := properties.OpenSQLiteStore(executionContext, filepath.Join(testInstance.TempDir(), testStateDatabaseNameConstant), nil)
	require.NoError(testInstance, openError)
	testInstance.Cleanup(func() { _ = store.Close() })

	created, createError := store.SetIfAbsent(executionContext, "migrationRunning", "run-1")
	require.NoError(testInstance, createError)
	require.True(testInstance, created)

	created, createError = store.SetIfAbsent(executionContext, "migrationRunning", "run-2")
	require.NoError(testInstance, createError)
	require.False(testInstance, created)

	value, _, getError := store.Get(executionContext, "migrationRunning")
	require.NoError(testInstance, getError)
	require.Equal(testInstance, "run-1", value)
}
