package ledger

import (
	"context"
	"fmt"

	"github.com/temirov/drivemigrate/internal/properties"
)

const (
	readFlagErrorTemplateConstant  = "unable to read flag %s: %w"
	writeFlagErrorTemplateConstant = "unable to set flag %s: %w"
)

// Flag names a one-time finalization marker.
type Flag string

// Finalization markers.
const (
	FlagOriginalRetired    Flag = originalRetiredKeyConstant
	FlagDestinationRenamed Flag = destinationRenamedKeyConstant
)

// Flags reads and sets finalization markers. A set flag is never cleared by the engine.
type Flags struct {
	store properties.Store
}

// NewFlags constructs Flags over store.
func NewFlags(store properties.Store) Flags {
	return Flags{store: store}
}

// IsSet reports whether flag has been set.
func (flags Flags) IsSet(executionContext context.Context, flag Flag) (bool, error) {
	value, exists, getError := flags.store.Get(executionContext, string(flag))
	if getError != nil {
		return false, fmt.Errorf(readFlagErrorTemplateConstant, flag, getError)
	}
	return exists && value == flagSetValueConstant, nil
}

// Set marks flag as set.
func (flags Flags) Set(executionContext context.Context, flag Flag) error {
	if setError := flags.store.Set(executionContext, string(flag), flagSetValueConstant); setError != nil {
		return fmt.Errorf(writeFlagErrorTemplateConstant, flag, setError)
	}
	return nil
}
