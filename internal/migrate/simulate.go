package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/temirov/drivemigrate/internal/identity"
	"github.com/temirov/drivemigrate/internal/properties"
	"github.com/temirov/drivemigrate/internal/utils/flags"
)

const (
	simulateCommandUseConstant              = "simulate <tree.yaml> <folder-reference>"
	simulateCommandShortDescriptionConstant = "Dry-run a migration against a YAML tree"
	simulateCommandLongDescriptionConstant  = "simulate loads a storage tree from YAML, migrates the referenced folder in memory with throwaway state, and prints the resulting tree. The tree's creator acts as the migrating identity unless --identity is given. Nothing on disk is changed."
	runsFlagNameConstant                    = "runs"
	runsFlagUsageConstant                   = "Number of consecutive runs to perform against the same state"
	defaultSimulationRunsConstant           = 1
	simulationErrorTemplateConstant         = "simulation run %d failed: %w"
	invalidRunsMessageConstant              = "runs must be at least 1"
	runsFieldNameConstant                   = "runs"
)

// BuildSimulate constructs the simulate command.
func (builder *CommandBuilder) BuildSimulate() (*cobra.Command, error) {
	flagValues := &commandFlagValues{}
	var runs int
	command := &cobra.Command{
		Use:           simulateCommandUseConstant,
		Short:         simulateCommandShortDescriptionConstant,
		Long:          simulateCommandLongDescriptionConstant,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			if runs < 1 {
				return InvalidInputError{FieldName: runsFieldNameConstant, Message: invalidRunsMessageConstant}
			}
			options := builder.parseOptions(command, arguments[1:], flagValues)
			logger := builder.resolveLogger()

			provider, loadError := loadTree(resolveConfiguredPath(arguments[0]))
			if loadError != nil {
				return loadError
			}

			actingIdentity := options.configuration.ActingIdentity
			if len(actingIdentity) == 0 {
				actingIdentity = provider.CreatorIdentity()
			}

			service, serviceError := builder.resolveService(ServiceDependencies{
				Logger:           logger,
				Provider:         provider,
				Store:            properties.NewMemoryStore(),
				IdentityProvider: identity.StaticProvider{Identity: actingIdentity},
			})
			if serviceError != nil {
				return fmt.Errorf(serviceCreationErrorTemplateConstant, serviceError)
			}

			for run := 1; run <= runs; run++ {
				result, migrationError := service.Execute(command.Context(), MigrationOptions{
					Reference:         options.reference,
					DestinationSuffix: options.configuration.DestinationSuffix,
					MaxDepth:          options.configuration.MaxDepth,
					SkipFinalization:  !options.configuration.Finalize,
				})
				builder.logSummary(logger, result)
				if migrationError != nil {
					return fmt.Errorf(simulationErrorTemplateConstant, run, migrationError)
				}
			}

			return provider.WriteManifest(command.OutOrStdout())
		},
	}

	defaults := builder.resolveConfiguration()
	command.Flags().StringVar(&flagValues.identity, identityFlagNameConstant, defaults.ActingIdentity, identityFlagUsageConstant)
	command.Flags().StringVar(&flagValues.suffix, suffixFlagNameConstant, defaults.DestinationSuffix, suffixFlagUsageConstant)
	command.Flags().IntVar(&flagValues.maxDepth, maxDepthFlagNameConstant, defaults.MaxDepth, maxDepthFlagUsageConstant)
	command.Flags().IntVar(&runs, runsFlagNameConstant, defaultSimulationRunsConstant, runsFlagUsageConstant)
	flags.AddToggleFlag(command.Flags(), &flagValues.finalize, finalizeFlagNameConstant, "", defaults.Finalize, finalizeFlagUsageConstant)

	return command, nil
}
