package migrate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/ledger"
	"github.com/temirov/drivemigrate/internal/storage"
)

const (
	retireStepNameConstant                 = "retire_original"
	renameStepNameConstant                 = "rename_destination"
	retireErrorTemplateConstant            = "unable to retire original: %w"
	renameErrorTemplateConstant            = "unable to rename destination: %w"
	flagErrorTemplateConstant              = "unable to record %s: %w"
	finalizationStepSkippedMessageConstant = "Finalization step already completed"
	finalizationStepDoneMessageConstant    = "Finalization step completed"
	finalizationStepFailedMessageConstant  = "Finalization step failed"
	originalAlreadyGoneMessageConstant     = "Original container already detached from its parent"
	logFieldStepConstant                   = "step"
	logFieldParentIdentifierConstant       = "parent_id"
	logFieldNameConstant                   = "name"
)

// FinalizationOutcome reports the state of both finalization steps after a run.
type FinalizationOutcome struct {
	OriginalRetired    bool
	DestinationRenamed bool
	RetiredThisRun     bool
	RenamedThisRun     bool
}

// finalizationCoordinator retires the original root and renames the destination
// into its place. Each step runs at most once across runs, gated by its own flag.
type finalizationCoordinator struct {
	provider storage.Provider
	flags    ledger.Flags
	logger   *zap.Logger
	result   *MigrationResult
}

func (coordinator finalizationCoordinator) finalize(executionContext context.Context, manifest ledger.Manifest) (FinalizationOutcome, error) {
	var outcome FinalizationOutcome

	retired, retireChanged, retireError := coordinator.runStep(executionContext, ledger.FlagOriginalRetired, retireStepNameConstant, manifest.SourceIdentifier, func() error {
		return coordinator.retireOriginal(executionContext, manifest)
	})
	if retireError != nil {
		return outcome, retireError
	}
	outcome.OriginalRetired = retired
	outcome.RetiredThisRun = retireChanged

	renamed, renameChanged, renameError := coordinator.runStep(executionContext, ledger.FlagDestinationRenamed, renameStepNameConstant, manifest.DestinationIdentifier, func() error {
		return coordinator.renameDestination(executionContext, manifest)
	})
	if renameError != nil {
		return outcome, renameError
	}
	outcome.DestinationRenamed = renamed
	outcome.RenamedThisRun = renameChanged

	return outcome, nil
}

// runStep reports whether the flag ends set and whether this call set it. Step
// failures are logged and recorded; only context cancellation is returned.
func (coordinator finalizationCoordinator) runStep(executionContext context.Context, flag ledger.Flag, stepName string, nodeIdentifier string, step func() error) (bool, bool, error) {
	alreadySet, readError := coordinator.flags.IsSet(executionContext, flag)
	if readError != nil {
		return false, false, coordinator.stepFailure(executionContext, stepName, nodeIdentifier, readError)
	}
	if alreadySet {
		coordinator.logger.Info(finalizationStepSkippedMessageConstant, zap.String(logFieldStepConstant, stepName))
		return true, false, nil
	}

	if stepError := step(); stepError != nil {
		return false, false, coordinator.stepFailure(executionContext, stepName, nodeIdentifier, stepError)
	}
	if setError := coordinator.flags.Set(context.WithoutCancel(executionContext), flag); setError != nil {
		return false, false, coordinator.stepFailure(executionContext, stepName, nodeIdentifier, fmt.Errorf(flagErrorTemplateConstant, flag, setError))
	}
	coordinator.logger.Info(finalizationStepDoneMessageConstant, zap.String(logFieldStepConstant, stepName), zap.String(logFieldNodeIdentifierConstant, nodeIdentifier))
	return true, true, nil
}

// retireOriginal detaches the original root from its parent. An original that
// is no longer under that parent counts as retired, so a lost flag write does
// not turn into a permanent failure.
func (coordinator finalizationCoordinator) retireOriginal(executionContext context.Context, manifest ledger.Manifest) error {
	parent, parentError := coordinator.parentContainer(executionContext, manifest)
	if parentError != nil {
		return fmt.Errorf(retireErrorTemplateConstant, parentError)
	}
	original, originalError := coordinator.provider.ContainerByID(executionContext, manifest.SourceIdentifier)
	if originalError != nil {
		if errors.Is(originalError, storage.ErrNotFound) {
			coordinator.logger.Info(originalAlreadyGoneMessageConstant, zap.String(logFieldNodeIdentifierConstant, manifest.SourceIdentifier))
			return nil
		}
		return fmt.Errorf(retireErrorTemplateConstant, originalError)
	}

	removeError := coordinator.provider.RemoveContainer(executionContext, parent, original)
	if removeError == nil {
		return nil
	}
	if errors.Is(removeError, storage.ErrNotFound) {
		currentParent, hasParent, lookupError := coordinator.provider.Parent(executionContext, original)
		if lookupError == nil && (!hasParent || currentParent.Identifier != parent.Identifier) {
			coordinator.logger.Info(
				originalAlreadyGoneMessageConstant,
				zap.String(logFieldNodeIdentifierConstant, original.Identifier),
				zap.String(logFieldParentIdentifierConstant, parent.Identifier),
			)
			return nil
		}
	}
	return fmt.Errorf(retireErrorTemplateConstant, removeError)
}

// renameDestination gives the destination root the original's name. A
// destination already carrying that name is left untouched.
func (coordinator finalizationCoordinator) renameDestination(executionContext context.Context, manifest ledger.Manifest) error {
	destination, lookupError := coordinator.provider.ContainerByID(executionContext, manifest.DestinationIdentifier)
	if lookupError != nil {
		return fmt.Errorf(renameErrorTemplateConstant, lookupError)
	}
	if destination.Name == manifest.SourceName {
		return nil
	}
	if renameError := coordinator.provider.RenameContainer(executionContext, destination, manifest.SourceName); renameError != nil {
		return fmt.Errorf(renameErrorTemplateConstant, renameError)
	}
	coordinator.logger.Debug(finalizationStepDoneMessageConstant, zap.String(logFieldStepConstant, renameStepNameConstant), zap.String(logFieldNameConstant, manifest.SourceName))
	return nil
}

func (coordinator finalizationCoordinator) parentContainer(executionContext context.Context, manifest ledger.Manifest) (storage.Node, error) {
	if len(manifest.ParentIdentifier) == 0 {
		return coordinator.provider.RootContainer(executionContext)
	}
	return coordinator.provider.ContainerByID(executionContext, manifest.ParentIdentifier)
}

func (coordinator finalizationCoordinator) stepFailure(executionContext context.Context, stepName string, nodeIdentifier string, failure error) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	coordinator.logger.Warn(
		finalizationStepFailedMessageConstant,
		zap.String(logFieldStepConstant, stepName),
		zap.String(logFieldNodeIdentifierConstant, nodeIdentifier),
		zap.Error(failure),
	)
	coordinator.result.Failures = append(coordinator.result.Failures, NodeFailure{
		NodeIdentifier: nodeIdentifier,
		Reference:      storage.Reference(coordinator.provider, storage.Node{Identifier: nodeIdentifier, Kind: storage.KindContainer}),
		Step:           stepName,
		Err:            failure,
	})
	return nil
}
