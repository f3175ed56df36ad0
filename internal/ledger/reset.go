package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/temirov/drivemigrate/internal/properties"
)

const resetKeyErrorTemplateConstant = "unable to clear %s: %w"

// Reset deletes every migration property so the next run starts from scratch.
// All keys are attempted; failures are joined.
func Reset(executionContext context.Context, store properties.Store) error {
	var resetErrors []error
	for _, key := range AllKeys() {
		if deleteError := store.Delete(executionContext, key); deleteError != nil {
			resetErrors = append(resetErrors, fmt.Errorf(resetKeyErrorTemplateConstant, key, deleteError))
		}
	}
	return errors.Join(resetErrors...)
}
