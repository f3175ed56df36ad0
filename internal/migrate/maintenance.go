package migrate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/ledger"
	"github.com/temirov/drivemigrate/internal/properties"
)

const (
	unlockCommandUseConstant              = "unlock <folder-reference>"
	unlockCommandShortDescriptionConstant = "Clear a stuck run lock"
	unlockCommandLongDescriptionConstant  = "unlock clears only the run lock of the referenced folder so an interrupted migration can resume. Progress is kept."
	resetCommandUseConstant               = "reset <folder-reference>"
	resetCommandShortDescriptionConstant  = "Forget all migration progress"
	resetCommandLongDescriptionConstant   = "reset deletes the progress ledger, finalization flags, journals and run lock of the referenced folder so the next migration starts from scratch. Storage is not touched."
	unlockErrorTemplateConstant           = "unlock failed: %w"
	resetErrorTemplateConstant            = "reset failed: %w"
	runLockClearedMessageConstant         = "Cleared run lock - ready to resume"
	stateClearedMessageConstant           = "Cleared all migration data - starting fresh"
	logFieldPreviousHolderConstant        = "previous_holder"
)

// BuildUnlock constructs the unlock command.
func (builder *CommandBuilder) BuildUnlock() (*cobra.Command, error) {
	return builder.buildMaintenanceCommand(unlockCommandUseConstant, unlockCommandShortDescriptionConstant, unlockCommandLongDescriptionConstant, builder.unlock), nil
}

// BuildReset constructs the reset command.
func (builder *CommandBuilder) BuildReset() (*cobra.Command, error) {
	return builder.buildMaintenanceCommand(resetCommandUseConstant, resetCommandShortDescriptionConstant, resetCommandLongDescriptionConstant, builder.reset), nil
}

type maintenanceOperation func(executionContext context.Context, store properties.Store, sourceIdentifier string, logger *zap.Logger) error

func (builder *CommandBuilder) buildMaintenanceCommand(use string, short string, long string, operation maintenanceOperation) *cobra.Command {
	flagValues := &commandFlagValues{}
	command := &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          long,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) (runError error) {
			options := builder.parseOptions(command, arguments, flagValues)
			sourceIdentifier, parseError := ParseReference(options.reference)
			if parseError != nil {
				return parseError
			}

			logger := builder.resolveLogger()
			store, storeError := builder.openStore(command.Context(), options.configuration, logger)
			if storeError != nil {
				return storeError
			}
			defer func() {
				if closeError := store.Close(); closeError != nil && runError == nil {
					runError = fmt.Errorf(closeEnvironmentErrorTemplateConstant, closeError)
				}
			}()

			return operation(command.Context(), properties.NewNamespaced(store, sourceIdentifier), sourceIdentifier, logger)
		},
	}
	builder.registerStateFlags(command, flagValues, builder.resolveConfiguration())
	return command
}

func (builder *CommandBuilder) unlock(executionContext context.Context, store properties.Store, sourceIdentifier string, logger *zap.Logger) error {
	lock := ledger.NewRunLock(store)
	holder, _, holderError := lock.Holder(executionContext)
	if holderError != nil {
		return fmt.Errorf(unlockErrorTemplateConstant, holderError)
	}
	if releaseError := lock.Release(executionContext); releaseError != nil {
		return fmt.Errorf(unlockErrorTemplateConstant, releaseError)
	}
	logger.Info(runLockClearedMessageConstant, zap.String(logFieldSourceIdentifierConstant, sourceIdentifier), zap.String(logFieldPreviousHolderConstant, holder))
	return nil
}

func (builder *CommandBuilder) reset(executionContext context.Context, store properties.Store, sourceIdentifier string, logger *zap.Logger) error {
	if resetError := ledger.Reset(executionContext, store); resetError != nil {
		return fmt.Errorf(resetErrorTemplateConstant, resetError)
	}
	logger.Info(stateClearedMessageConstant, zap.String(logFieldSourceIdentifierConstant, sourceIdentifier))
	return nil
}
