package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/identity"
	"github.com/temirov/drivemigrate/internal/storage"
	"github.com/temirov/drivemigrate/internal/ui"
	"github.com/temirov/drivemigrate/internal/utils"
	"github.com/temirov/drivemigrate/internal/utils/flags"
)

const (
	commandUseConstant              = "migrate <folder-reference>"
	commandShortDescriptionConstant = "Migrate a folder tree into its replacement"
	commandLongDescriptionConstant  = "migrate moves or copies every node of the referenced folder into a sibling <name>.MIGRATED folder according to ownership, then retires the original and renames the replacement. Interrupted runs resume where they stopped."

	identityFlagNameConstant  = "identity"
	identityFlagUsageConstant = "Acting identity (email) the migration runs as"
	stateFlagNameConstant     = "state"
	stateFlagUsageConstant    = "Path to the SQLite state database"
	finalizeFlagNameConstant  = "finalize"
	finalizeFlagUsageConstant = "Retire the original and rename the replacement once traversal completes"
	providerFlagNameConstant  = "provider"
	providerFlagUsageConstant = "Storage provider"
	rootFlagNameConstant      = "root"
	rootFlagUsageConstant     = "Root directory of the filesystem provider"
	treeFlagNameConstant      = "tree"
	treeFlagUsageConstant     = "YAML tree file of the memory provider"
	suffixFlagNameConstant    = "suffix"
	suffixFlagUsageConstant   = "Suffix of the replacement folder name"
	maxDepthFlagNameConstant  = "max-depth"
	maxDepthFlagUsageConstant = "Maximum container nesting depth to traverse"

	migrationCommandErrorTemplateConstant = "migration failed: %w"
	storeOpenErrorTemplateConstant        = "unable to open state database: %w"
	storageProviderErrorTemplateConstant  = "unable to open storage provider: %w"
	serviceCreationErrorTemplateConstant  = "unable to construct migration service: %w"
	closeEnvironmentErrorTemplateConstant = "unable to close migration environment: %w"
	migrationSummaryMessageConstant       = "Migration summary"
	logFieldActionsConstant               = "actions"
	logFieldTraversalCompleteConstant     = "traversal_complete"
	logFieldOriginalRetiredConstant       = "original_retired"
	logFieldDestinationRenamedConstant    = "destination_renamed"
	logFieldAlreadyFinalizedConstant      = "already_finalized"
)

// MigrationExecutor runs one migration.
type MigrationExecutor interface {
	Execute(executionContext context.Context, options MigrationOptions) (MigrationResult, error)
}

// ServiceProvider constructs a migration executor from dependencies.
type ServiceProvider func(dependencies ServiceDependencies) (MigrationExecutor, error)

// LoggerProvider supplies a zap logger instance.
type LoggerProvider func() *zap.Logger

// CommandBuilder assembles the migrate, unlock, reset and simulate commands.
type CommandBuilder struct {
	LoggerProvider               LoggerProvider
	HumanReadableLoggingProvider func() bool
	ConfigurationProvider        func() CommandConfiguration
	ServiceProvider              ServiceProvider
	StoreOpener                  StoreOpener
	StorageProviderFactory       StorageProviderFactory
}

type commandOptions struct {
	configuration CommandConfiguration
	reference     string
	runIdentifier string
}

// commandFlagValues holds flag targets of one command instance.
type commandFlagValues struct {
	identity string
	state    string
	finalize bool
	provider string
	root     string
	tree     string
	suffix   string
	maxDepth int
}

// Build constructs the migrate command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	flagValues := &commandFlagValues{}
	command := &cobra.Command{
		Use:           commandUseConstant,
		Short:         commandShortDescriptionConstant,
		Long:          commandLongDescriptionConstant,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return builder.runMigrate(command, arguments, flagValues)
		},
	}

	defaults := builder.resolveConfiguration()
	builder.registerStateFlags(command, flagValues, defaults)
	builder.registerProviderFlags(command, flagValues, defaults)
	command.Flags().StringVar(&flagValues.identity, identityFlagNameConstant, defaults.ActingIdentity, identityFlagUsageConstant)
	command.Flags().StringVar(&flagValues.suffix, suffixFlagNameConstant, defaults.DestinationSuffix, suffixFlagUsageConstant)
	command.Flags().IntVar(&flagValues.maxDepth, maxDepthFlagNameConstant, defaults.MaxDepth, maxDepthFlagUsageConstant)
	flags.AddToggleFlag(command.Flags(), &flagValues.finalize, finalizeFlagNameConstant, "", defaults.Finalize, finalizeFlagUsageConstant)

	return command, nil
}

func (builder *CommandBuilder) runMigrate(command *cobra.Command, arguments []string, flagValues *commandFlagValues) (runError error) {
	options := builder.parseOptions(command, arguments, flagValues)
	logger := builder.resolveLogger()

	environment, environmentError := builder.openEnvironment(command.Context(), options.configuration, logger)
	if environmentError != nil {
		return environmentError
	}
	defer func() {
		if closeError := environment.close(); closeError != nil && runError == nil {
			runError = fmt.Errorf(closeEnvironmentErrorTemplateConstant, closeError)
		}
	}()

	service, serviceError := builder.resolveService(ServiceDependencies{
		Logger:           logger,
		Provider:         environment.provider,
		Store:            environment.store,
		IdentityProvider: identity.StaticProvider{Identity: options.configuration.ActingIdentity},
	})
	if serviceError != nil {
		return fmt.Errorf(serviceCreationErrorTemplateConstant, serviceError)
	}

	result, migrationError := service.Execute(command.Context(), MigrationOptions{
		Reference:         options.reference,
		RunIdentifier:     options.runIdentifier,
		DestinationSuffix: options.configuration.DestinationSuffix,
		MaxDepth:          options.configuration.MaxDepth,
		SkipFinalization:  !options.configuration.Finalize,
	})
	builder.logSummary(logger, result)
	if migrationError != nil {
		if errors.Is(migrationError, context.Canceled) || errors.Is(migrationError, context.DeadlineExceeded) {
			return migrationError
		}
		return fmt.Errorf(migrationCommandErrorTemplateConstant, migrationError)
	}
	return nil
}

func (builder *CommandBuilder) registerStateFlags(command *cobra.Command, flagValues *commandFlagValues, defaults CommandConfiguration) {
	command.Flags().StringVar(&flagValues.state, stateFlagNameConstant, defaults.StateDatabase, stateFlagUsageConstant)
}

func (builder *CommandBuilder) registerProviderFlags(command *cobra.Command, flagValues *commandFlagValues, defaults CommandConfiguration) {
	flags.AddChoiceFlag(command.Flags(), &flagValues.provider, providerFlagNameConstant, defaults.Provider, []string{ProviderLocalFilesystem, ProviderMemory}, providerFlagUsageConstant)
	command.Flags().StringVar(&flagValues.root, rootFlagNameConstant, defaults.LocalFilesystem.Root, rootFlagUsageConstant)
	command.Flags().StringVar(&flagValues.tree, treeFlagNameConstant, defaults.Memory.Tree, treeFlagUsageConstant)
}

// parseOptions overlays explicitly set flags on the configuration.
func (builder *CommandBuilder) parseOptions(command *cobra.Command, arguments []string, flagValues *commandFlagValues) commandOptions {
	configuration := builder.resolveConfiguration()
	changed := command.Flags().Changed

	if changed(identityFlagNameConstant) {
		configuration.ActingIdentity = flagValues.identity
	}
	if changed(stateFlagNameConstant) {
		configuration.StateDatabase = flagValues.state
	}
	if changed(finalizeFlagNameConstant) {
		configuration.Finalize = flagValues.finalize
	}
	if changed(providerFlagNameConstant) {
		configuration.Provider = flagValues.provider
	}
	if changed(rootFlagNameConstant) {
		configuration.LocalFilesystem.Root = flagValues.root
	}
	if changed(treeFlagNameConstant) {
		configuration.Memory.Tree = flagValues.tree
	}
	if changed(suffixFlagNameConstant) {
		configuration.DestinationSuffix = flagValues.suffix
	}
	if changed(maxDepthFlagNameConstant) {
		configuration.MaxDepth = flagValues.maxDepth
	}

	options := commandOptions{configuration: configuration.Sanitize()}
	if len(arguments) > 0 {
		options.reference = strings.TrimSpace(arguments[0])
	}
	if runIdentifier, available := utils.NewCommandContextAccessor().RunIdentifier(command.Context()); available {
		options.runIdentifier = runIdentifier
	}
	return options
}

type commandEnvironment struct {
	store    ClosableStore
	provider storage.Provider
	persist  func() error
}

func (environment commandEnvironment) close() error {
	var closeErrors []error
	if environment.persist != nil {
		closeErrors = append(closeErrors, environment.persist())
	}
	if environment.store != nil {
		closeErrors = append(closeErrors, environment.store.Close())
	}
	return errors.Join(closeErrors...)
}

func (builder *CommandBuilder) openEnvironment(executionContext context.Context, configuration CommandConfiguration, logger *zap.Logger) (commandEnvironment, error) {
	store, storeError := builder.openStore(executionContext, configuration, logger)
	if storeError != nil {
		return commandEnvironment{}, storeError
	}

	factory := builder.StorageProviderFactory
	if factory == nil {
		factory = NewStorageProvider
	}
	provider, persist, providerError := factory(configuration, logger)
	if providerError != nil {
		store.Close()
		return commandEnvironment{}, fmt.Errorf(storageProviderErrorTemplateConstant, providerError)
	}
	return commandEnvironment{store: store, provider: provider, persist: persist}, nil
}

func (builder *CommandBuilder) openStore(executionContext context.Context, configuration CommandConfiguration, logger *zap.Logger) (ClosableStore, error) {
	opener := builder.StoreOpener
	if opener == nil {
		opener = openSQLiteStore
	}
	store, openError := opener(executionContext, configuration.StateDatabase, logger)
	if openError != nil {
		return nil, fmt.Errorf(storeOpenErrorTemplateConstant, openError)
	}
	return store, nil
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	var logger *zap.Logger
	if builder.LoggerProvider != nil {
		logger = builder.LoggerProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

func (builder *CommandBuilder) resolveService(dependencies ServiceDependencies) (MigrationExecutor, error) {
	if builder.ServiceProvider != nil {
		return builder.ServiceProvider(dependencies)
	}
	return NewService(dependencies)
}

func (builder *CommandBuilder) resolveConfiguration() CommandConfiguration {
	if builder.ConfigurationProvider == nil {
		return DefaultCommandConfiguration()
	}

	provided := builder.ConfigurationProvider()
	return provided.Sanitize()
}

func (builder *CommandBuilder) logSummary(logger *zap.Logger, result MigrationResult) {
	if len(result.RunIdentifier) == 0 {
		return
	}
	if builder.HumanReadableLoggingProvider != nil && builder.HumanReadableLoggingProvider() {
		ui.NewConsoleMigrationReporter(logger).Report(consoleSummary(result))
		return
	}
	actionFields := make(map[string]int, len(result.Actions))
	for action, count := range result.Actions {
		actionFields[string(action)] = count
	}
	logger.Info(
		migrationSummaryMessageConstant,
		zap.String(logFieldRunIdentifierConstant, result.RunIdentifier),
		zap.String(logFieldSourceIdentifierConstant, result.SourceIdentifier),
		zap.String(logFieldDestinationIdentifierConstant, result.DestinationIdentifier),
		zap.Any(logFieldActionsConstant, actionFields),
		zap.Int(logFieldFailureCountConstant, len(result.Failures)),
		zap.Bool(logFieldTraversalCompleteConstant, result.TraversalComplete),
		zap.Bool(logFieldOriginalRetiredConstant, result.Finalization.OriginalRetired),
		zap.Bool(logFieldDestinationRenamedConstant, result.Finalization.DestinationRenamed),
		zap.Bool(logFieldAlreadyFinalizedConstant, result.AlreadyFinalized),
	)
}

func consoleSummary(result MigrationResult) ui.MigrationSummary {
	summary := ui.MigrationSummary{
		SourceName:         result.SourceName,
		DestinationName:    result.DestinationName,
		Actions:            make(map[string]int, len(result.Actions)),
		TraversalComplete:  result.TraversalComplete,
		OriginalRetired:    result.Finalization.OriginalRetired,
		DestinationRenamed: result.Finalization.DestinationRenamed,
		AlreadyFinalized:   result.AlreadyFinalized,
	}
	if len(summary.SourceName) == 0 {
		summary.SourceName = result.SourceIdentifier
	}
	for action, count := range result.Actions {
		summary.Actions[string(action)] = count
	}
	for _, failure := range result.Failures {
		consoleFailure := ui.MigrationFailure{NodeName: failure.NodeName, Reference: failure.Reference, Step: failure.Step}
		if failure.Err != nil {
			consoleFailure.Message = failure.Err.Error()
		}
		summary.Failures = append(summary.Failures, consoleFailure)
	}
	return summary
}
