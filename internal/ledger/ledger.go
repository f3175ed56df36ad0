package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/temirov/drivemigrate/internal/properties"
)

const (
	decodeStateErrorTemplateConstant  = "unable to decode %s: %w"
	encodeStateErrorTemplateConstant  = "unable to encode %s: %w"
	readStateErrorTemplateConstant    = "unable to read %s: %w"
	persistStateErrorTemplateConstant = "unable to persist %s: %w"
)

// CopyJournalEntry records a copy issued into a destination container together
// with the same-named leaves that container held before the copy. Only a leaf
// outside PriorIdentifiers proves the copy happened.
type CopyJournalEntry struct {
	DestinationIdentifier string   `json:"destinationId"`
	PriorIdentifiers      []string `json:"priorIds,omitempty"`
}

// Ledger tracks processed node identifiers together with the creation and copy journals.
type Ledger struct {
	store             properties.Store
	processed         map[string]bool
	createdContainers map[string]string
	pendingCopies     map[string]CopyJournalEntry
}

// Load reads the ledger from store. Absent entries start empty.
func Load(executionContext context.Context, store properties.Store) (*Ledger, error) {
	ledger := &Ledger{
		store:             store,
		processed:         map[string]bool{},
		createdContainers: map[string]string{},
		pendingCopies:     map[string]CopyJournalEntry{},
	}

	decodeTargets := map[string]any{
		processedIdentifiersKeyConstant: &ledger.processed,
		createdContainersKeyConstant:    &ledger.createdContainers,
		pendingCopiesKeyConstant:        &ledger.pendingCopies,
	}
	for key, target := range decodeTargets {
		if loadError := loadJSON(executionContext, store, key, target); loadError != nil {
			return nil, loadError
		}
	}

	return ledger, nil
}

// IsDone reports whether identifier completed in this or an earlier run.
func (ledger *Ledger) IsDone(identifier string) bool {
	return ledger.processed[identifier]
}

// MarkDone records identifier as done and writes the ledger through to the store.
// When the write fails the in-memory marker is rolled back so memory never runs ahead of durable state.
func (ledger *Ledger) MarkDone(executionContext context.Context, identifier string) error {
	if ledger.processed[identifier] {
		return nil
	}
	ledger.processed[identifier] = true
	if persistError := saveJSON(executionContext, ledger.store, processedIdentifiersKeyConstant, ledger.processed); persistError != nil {
		delete(ledger.processed, identifier)
		return persistError
	}
	return nil
}

// DoneCount returns the number of identifiers marked done.
func (ledger *Ledger) DoneCount() int {
	return len(ledger.processed)
}

// CreatedContainer returns the destination container created earlier for a source container.
func (ledger *Ledger) CreatedContainer(sourceIdentifier string) (string, bool) {
	destinationIdentifier, exists := ledger.createdContainers[sourceIdentifier]
	return destinationIdentifier, exists
}

// RecordCreatedContainer journals the destination container created for a source container.
func (ledger *Ledger) RecordCreatedContainer(executionContext context.Context, sourceIdentifier string, destinationIdentifier string) error {
	previous, existed := ledger.createdContainers[sourceIdentifier]
	ledger.createdContainers[sourceIdentifier] = destinationIdentifier
	if persistError := saveJSON(executionContext, ledger.store, createdContainersKeyConstant, ledger.createdContainers); persistError != nil {
		if existed {
			ledger.createdContainers[sourceIdentifier] = previous
		} else {
			delete(ledger.createdContainers, sourceIdentifier)
		}
		return persistError
	}
	return nil
}

// PendingCopy returns the journal entry of a copy that started but was never marked done.
func (ledger *Ledger) PendingCopy(sourceIdentifier string) (CopyJournalEntry, bool) {
	entry, exists := ledger.pendingCopies[sourceIdentifier]
	return entry, exists
}

// RecordPendingCopy journals a copy before it is issued.
func (ledger *Ledger) RecordPendingCopy(executionContext context.Context, sourceIdentifier string, entry CopyJournalEntry) error {
	previous, existed := ledger.pendingCopies[sourceIdentifier]
	ledger.pendingCopies[sourceIdentifier] = entry
	if persistError := saveJSON(executionContext, ledger.store, pendingCopiesKeyConstant, ledger.pendingCopies); persistError != nil {
		if existed {
			ledger.pendingCopies[sourceIdentifier] = previous
		} else {
			delete(ledger.pendingCopies, sourceIdentifier)
		}
		return persistError
	}
	return nil
}

// ClearPendingCopy removes a copy from the journal once it is marked done.
func (ledger *Ledger) ClearPendingCopy(executionContext context.Context, sourceIdentifier string) error {
	entry, exists := ledger.pendingCopies[sourceIdentifier]
	if !exists {
		return nil
	}
	delete(ledger.pendingCopies, sourceIdentifier)
	if persistError := saveJSON(executionContext, ledger.store, pendingCopiesKeyConstant, ledger.pendingCopies); persistError != nil {
		ledger.pendingCopies[sourceIdentifier] = entry
		return persistError
	}
	return nil
}

func loadJSON(executionContext context.Context, store properties.Store, key string, target any) error {
	encoded, exists, getError := store.Get(executionContext, key)
	if getError != nil {
		return fmt.Errorf(readStateErrorTemplateConstant, key, getError)
	}
	if !exists || len(encoded) == 0 {
		return nil
	}
	if decodeError := json.Unmarshal([]byte(encoded), target); decodeError != nil {
		return fmt.Errorf(decodeStateErrorTemplateConstant, key, decodeError)
	}
	return nil
}

func saveJSON(executionContext context.Context, store properties.Store, key string, value any) error {
	encoded, encodeError := json.Marshal(value)
	if encodeError != nil {
		return fmt.Errorf(encodeStateErrorTemplateConstant, key, encodeError)
	}
	if setError := store.Set(executionContext, key, string(encoded)); setError != nil {
		return fmt.Errorf(persistStateErrorTemplateConstant, key, setError)
	}
	return nil
}
