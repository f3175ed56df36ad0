package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/drivemigrate/internal/migrate"
	"github.com/temirov/drivemigrate/internal/migrate/testsupport"
	"github.com/temirov/drivemigrate/internal/storage/memory"
)

const (
	testRunIdentifierConstant     = "run-under-test"
	testConfigurationFileConstant = "config.yaml"
	testTreeFileConstant          = "tree.yaml"
	testStateFileConstant         = "state.db"
	testConfigurationContent      = "common:\n  log_level: warn\nmigration:\n  acting_identity: file@example.com\n  provider: memory\n  memory:\n    tree: /tmp/tree.yaml\n  max_depth: 9\n"
)

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	application := NewApplication()
	application.runIdentifierGenerator = func() string { return testRunIdentifierConstant }
	return application
}

func TestInitializeConfigurationLoadsEmbeddedDefaults(t *testing.T) {
	t.Setenv("DRIVEMIGRATE_MIGRATION_ACTING_IDENTITY", "env@example.com")
	application := newTestApplication(t)
	rootCommand := application.rootCommand
	rootCommand.SetContext(context.Background())

	require.NoError(t, application.initializeConfiguration(rootCommand))

	migration := application.configuration.Migration
	require.Equal(t, "env@example.com", migration.ActingIdentity)
	require.Equal(t, migrate.ProviderLocalFilesystem, migration.Provider)
	require.Equal(t, ".MIGRATED", migration.DestinationSuffix)
	require.Equal(t, 512, migration.MaxDepth)
	require.True(t, migration.Finalize)
	require.Equal(t, ".retired", migration.LocalFilesystem.RetiredDirectory)
	require.Equal(t, "info", application.configuration.Common.LogLevel)

	runIdentifier, available := application.commandContextAccessor.RunIdentifier(rootCommand.Context())
	require.True(t, available)
	require.Equal(t, testRunIdentifierConstant, runIdentifier)
}

func TestInitializeConfigurationAppliesFileAndFlags(t *testing.T) {
	configurationPath := filepath.Join(t.TempDir(), testConfigurationFileConstant)
	require.NoError(t, os.WriteFile(configurationPath, []byte(testConfigurationContent), 0o600))

	application := newTestApplication(t)
	rootCommand := application.rootCommand
	rootCommand.SetContext(context.Background())
	require.NoError(t, rootCommand.PersistentFlags().Set(configFileFlagNameConstant, configurationPath))
	require.NoError(t, rootCommand.PersistentFlags().Set(logLevelFlagNameConstant, "debug"))

	require.NoError(t, application.initializeConfiguration(rootCommand))

	require.Equal(t, "debug", application.configuration.Common.LogLevel)
	require.Equal(t, "structured", application.configuration.Common.LogFormat)
	require.Equal(t, "file@example.com", application.configuration.Migration.ActingIdentity)
	require.Equal(t, migrate.ProviderMemory, application.configuration.Migration.Provider)
	require.Equal(t, "/tmp/tree.yaml", application.configuration.Migration.Memory.Tree)
	require.Equal(t, 9, application.configuration.Migration.MaxDepth)
	require.Equal(t, ".MIGRATED", application.configuration.Migration.DestinationSuffix)

	configurationFile, available := application.commandContextAccessor.ConfigurationFilePath(rootCommand.Context())
	require.True(t, available)
	require.Equal(t, configurationPath, configurationFile)
}

func TestInitializeConfigurationRejectsUnknownLogLevel(t *testing.T) {
	application := newTestApplication(t)
	rootCommand := application.rootCommand
	require.NoError(t, rootCommand.PersistentFlags().Set(logLevelFlagNameConstant, "verbose"))

	require.Error(t, application.initializeConfiguration(rootCommand))
}

func TestApplicationRegistersMigrationCommands(t *testing.T) {
	application := newTestApplication(t)

	registered := map[string]bool{}
	for _, subcommand := range application.rootCommand.Commands() {
		registered[subcommand.Name()] = true
	}
	for _, expectedName := range []string{"migrate", "unlock", "reset", "simulate"} {
		require.True(t, registered[expectedName], expectedName)
	}
}

func TestApplicationSimulateNormalizesToggleArguments(t *testing.T) {
	treePath := writeTestTree(t)
	application := newTestApplication(t)
	output := &bytes.Buffer{}
	application.rootCommand.SetOut(output)

	executionError := application.ExecuteWithArguments(context.Background(), []string{
		"simulate", treePath, "P",
		"--identity", testsupport.ActingIdentity,
		"--finalize", "no",
		"--log-level", "error",
	})
	require.NoError(t, executionError)

	simulated, loadError := memory.LoadManifest(output)
	require.NoError(t, loadError)
	tree := simulated.Manifest()
	require.Len(t, tree.Root.Children, 2)
	require.Equal(t, "Projects", tree.Root.Children[0].Name)
	require.Equal(t, "Projects.MIGRATED", tree.Root.Children[1].Name)
}

func TestApplicationMigratesMemoryTreeWithDurableState(t *testing.T) {
	temporaryDirectory := t.TempDir()
	treePath := writeTestTree(t)
	statePath := filepath.Join(temporaryDirectory, testStateFileConstant)
	arguments := []string{
		"migrate", "P",
		"--provider", migrate.ProviderMemory,
		"--tree", treePath,
		"--state", statePath,
		"--identity", testsupport.ActingIdentity,
		"--log-level", "error",
	}

	require.NoError(t, newTestApplication(t).ExecuteWithArguments(context.Background(), arguments))
	firstTree := readTestTree(t, treePath)
	require.Len(t, firstTree.Root.Children, 1)
	require.Equal(t, "Projects", firstTree.Root.Children[0].Name)
	require.NotEqual(t, "P", firstTree.Root.Children[0].Identifier)
	require.Len(t, firstTree.Root.Children[0].Children, 2)
	require.FileExists(t, statePath)

	require.NoError(t, newTestApplication(t).ExecuteWithArguments(context.Background(), arguments))
	require.Equal(t, firstTree, readTestTree(t, treePath))

	require.NoError(t, newTestApplication(t).ExecuteWithArguments(context.Background(), []string{"reset", "P", "--state", statePath, "--log-level", "error"}))
	require.NoError(t, newTestApplication(t).ExecuteWithArguments(context.Background(), []string{"unlock", "P", "--state", statePath, "--log-level", "error"}))
}

func TestApplicationMigrateRejectsMissingReference(t *testing.T) {
	application := newTestApplication(t)
	require.Error(t, application.ExecuteWithArguments(context.Background(), []string{"migrate"}))
}

func writeTestTree(t *testing.T) string {
	t.Helper()
	treePath := filepath.Join(t.TempDir(), testTreeFileConstant)
	buffer := &bytes.Buffer{}
	require.NoError(t, testsupport.NewProjectsTree().WriteManifest(buffer))
	require.NoError(t, os.WriteFile(treePath, buffer.Bytes(), 0o600))
	return treePath
}

func readTestTree(t *testing.T, treePath string) memory.TreeManifest {
	t.Helper()
	content, readError := os.ReadFile(treePath)
	require.NoError(t, readError)
	provider, loadError := memory.LoadManifest(bytes.NewReader(content))
	require.NoError(t, loadError)
	return provider.Manifest()
}
