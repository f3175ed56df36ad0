package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/drivemigrate/internal/ledger"
	"github.com/temirov/drivemigrate/internal/properties"
)

const (
	testLeafIdentifierConstant      = "leaf-1"
	testContainerIdentifierConstant = "container-1"
	testDestinationIdentifierConst  = "destination-1"
)

func TestLedgerLoadDefaultsToEmpty(testInstance *testing.T) {
	loaded, loadError := ledger.Load(context.Background(), properties.NewMemoryStore())
	require.NoError(testInstance, loadError)
	require.Zero(testInstance, loaded.DoneCount())
	require.False(testInstance, loaded.IsDone(testLeafIdentifierConstant))
}

func TestLedgerMarkDoneWritesThrough(testInstance *testing.T) {
	executionContext := context.Background()
	store := properties.NewMemoryStore()

	loaded, loadError := ledger.Load(executionContext, store)
	require.NoError(testInstance, loadError)

	require.NoError(testInstance, loaded.MarkDone(executionContext, testLeafIdentifierConstant))
	require.NoError(testInstance, loaded.MarkDone(executionContext, testLeafIdentifierConstant))
	require.True(testInstance, loaded.IsDone(testLeafIdentifierConstant))

	require.Equal(testInstance, []properties.Write{
		{Operation: properties.OperationSet, Key: "processedIds", Value: `{"leaf-1":true}`},
	}, store.Writes())

	reloaded, reloadError := ledger.Load(executionContext, store)
	require.NoError(testInstance, reloadError)
	require.True(testInstance, reloaded.IsDone(testLeafIdentifierConstant))
	require.Equal(testInstance, 1, reloaded.DoneCount())
}

func TestLedgerMarkDoneRollsBackOnWriteFailure(testInstance *testing.T) {
	executionContext := context.Background()
	store := properties.NewMemoryStore()
	loaded, loadError := ledger.Load(executionContext, store)
	require.NoError(testInstance, loadError)

	injectedFailure := errors.New("property write failed")
	store.FailSet = func(string, string) error { return injectedFailure }

	require.ErrorIs(testInstance, loaded.MarkDone(executionContext, testLeafIdentifierConstant), injectedFailure)
	require.False(testInstance, loaded.IsDone(testLeafIdentifierConstant))
}

func TestLedgerLoadRejectsCorruptState(testInstance *testing.T) {
	executionContext := context.Background()
	store := properties.NewMemoryStore()
	require.NoError(testInstance, store.Set(executionContext, "processedIds", "{not json"))

	_, loadError := ledger.Load(executionContext, store)
	require.Error(testInstance, loadError)
}

func TestLedgerJournals(testInstance *testing.T) {
	executionContext := context.Background()
	store := properties.NewMemoryStore()
	loaded, loadError := ledger.Load(executionContext, store)
	require.NoError(testInstance, loadError)

	require.NoError(testInstance, loaded.RecordCreatedContainer(executionContext, testContainerIdentifierConstant, testDestinationIdentifierConst))
	journaledCopy := ledger.CopyJournalEntry{DestinationIdentifier: testDestinationIdentifierConst, PriorIdentifiers: []string{"sibling"}}
	require.NoError(testInstance, loaded.RecordPendingCopy(executionContext, testLeafIdentifierConstant, journaledCopy))

	reloaded, reloadError := ledger.Load(executionContext, store)
	require.NoError(testInstance, reloadError)

	createdIdentifier, created := reloaded.CreatedContainer(testContainerIdentifierConstant)
	require.True(testInstance, created)
	require.Equal(testInstance, testDestinationIdentifierConst, createdIdentifier)

	pendingEntry, pending := reloaded.PendingCopy(testLeafIdentifierConstant)
	require.True(testInstance, pending)
	require.Equal(testInstance, journaledCopy, pendingEntry)

	require.NoError(testInstance, reloaded.ClearPendingCopy(executionContext, testLeafIdentifierConstant))
	require.NoError(testInstance, reloaded.ClearPendingCopy(executionContext, testLeafIdentifierConstant))
	_, pending = reloaded.PendingCopy(testLeafIdentifierConstant)
	require.False(testInstance, pending)
}
