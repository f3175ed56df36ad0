package migrate_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	migrate "github.com/temirov/drivemigrate/internal/migrate"
	"github.com/temirov/drivemigrate/internal/migrate/testsupport"
	"github.com/temirov/drivemigrate/internal/properties"
	"github.com/temirov/drivemigrate/internal/storage"
	"github.com/temirov/drivemigrate/internal/storage/memory"
	"github.com/temirov/drivemigrate/internal/utils"
)

const (
	configuredIdentityConstant      = "configured@example.com"
	overrideIdentityConstant        = "override@example.com"
	stateDatabasePathConstant       = "/tmp/drivemigrate-state.db"
	treeFileNameConstant            = "tree.yaml"
	migrationSummaryMessageConstant = "Migration summary"
	commandRunIdentifierConstant    = "command-run"
)

type closableMemoryStore struct {
	*properties.MemoryStore
	closed int
}

func (store *closableMemoryStore) Close() error {
	store.closed++
	return nil
}

type commandHarness struct {
	builder       *migrate.CommandBuilder
	store         *closableMemoryStore
	executor      *testsupport.MigrationExecutorStub
	openedPaths   []string
	persistCalls  int
	logs          *observer.ObservedLogs
	configuration migrate.CommandConfiguration
}

func newCommandHarness(configuration migrate.CommandConfiguration) *commandHarness {
	core, logs := observer.New(zapcore.InfoLevel)
	harness := &commandHarness{
		store:         &closableMemoryStore{MemoryStore: properties.NewMemoryStore()},
		executor:      &testsupport.MigrationExecutorStub{},
		logs:          logs,
		configuration: configuration,
	}
	logger := zap.New(core)
	harness.builder = &migrate.CommandBuilder{
		LoggerProvider:        func() *zap.Logger { return logger },
		ConfigurationProvider: func() migrate.CommandConfiguration { return harness.configuration },
		ServiceProvider:       harness.executor.Provider(),
		StoreOpener: func(_ context.Context, path string, _ *zap.Logger) (migrate.ClosableStore, error) {
			harness.openedPaths = append(harness.openedPaths, path)
			return harness.store, nil
		},
		StorageProviderFactory: func(_ migrate.CommandConfiguration, _ *zap.Logger) (storage.Provider, func() error, error) {
			return testsupport.NewProjectsTree(), func() error {
				harness.persistCalls++
				return nil
			}, nil
		},
	}
	return harness
}

func baseConfiguration() migrate.CommandConfiguration {
	configuration := migrate.DefaultCommandConfiguration()
	configuration.ActingIdentity = configuredIdentityConstant
	configuration.StateDatabase = stateDatabasePathConstant
	return configuration
}

func TestMigrateCommandAppliesConfigurationAndFlags(testInstance *testing.T) {
	testCases := []struct {
		name               string
		arguments          []string
		expectedIdentity   string
		expectedSuffix     string
		expectedMaxDepth   int
		expectSkipFinalize bool
		expectedReference  string
	}{
		{
			name:              "configuration defaults",
			arguments:         []string{"P"},
			expectedIdentity:  configuredIdentityConstant,
			expectedSuffix:    ".MIGRATED",
			expectedMaxDepth:  512,
			expectedReference: "P",
		},
		{
			name: "flag overrides",
			arguments: []string{
				"https://drive.google.com/drive/folders/1AbCdEfGhIjKlMnOpQrStUvWxYz",
				"--identity", overrideIdentityConstant,
				"--suffix", ".NEW",
				"--max-depth", "7",
				"--finalize=no",
			},
			expectedIdentity:   overrideIdentityConstant,
			expectedSuffix:     ".NEW",
			expectedMaxDepth:   7,
			expectSkipFinalize: true,
			expectedReference:  "https://drive.google.com/drive/folders/1AbCdEfGhIjKlMnOpQrStUvWxYz",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			harness := newCommandHarness(baseConfiguration())
			command, buildError := harness.builder.Build()
			require.NoError(subtest, buildError)
			command.SetArgs(testCase.arguments)
			command.SetContext(context.Background())

			require.NoError(subtest, command.Execute())
			require.Len(subtest, harness.executor.ExecutedOptions, 1)

			executed := harness.executor.ExecutedOptions[0]
			require.Equal(subtest, testCase.expectedReference, executed.Reference)
			require.Equal(subtest, testCase.expectedSuffix, executed.DestinationSuffix)
			require.Equal(subtest, testCase.expectedMaxDepth, executed.MaxDepth)
			require.Equal(subtest, testCase.expectSkipFinalize, executed.SkipFinalization)
			require.Equal(subtest, testCase.expectedIdentity, harness.executor.ReceivedIdentity)
			require.Equal(subtest, []string{stateDatabasePathConstant}, harness.openedPaths)
			require.Equal(subtest, 1, harness.store.closed)
			require.Equal(subtest, 1, harness.persistCalls)
		})
	}
}

func TestMigrateCommandReportsServiceErrors(testInstance *testing.T) {
	testCases := []struct {
		name            string
		serviceError    error
		expectedMessage string
	}{
		{
			name:            "lock held",
			serviceError:    migrate.ErrAlreadyRunning,
			expectedMessage: "migration failed: " + migrate.ErrAlreadyRunning.Error(),
		},
		{
			name:            "cancelled",
			serviceError:    context.Canceled,
			expectedMessage: context.Canceled.Error(),
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			harness := newCommandHarness(baseConfiguration())
			harness.executor.Outcome = testsupport.ServiceOutcome{Error: testCase.serviceError}
			command, buildError := harness.builder.Build()
			require.NoError(subtest, buildError)
			command.SetArgs([]string{"P"})
			command.SetContext(context.Background())

			executeError := command.Execute()
			require.ErrorIs(subtest, executeError, testCase.serviceError)
			require.EqualError(subtest, executeError, testCase.expectedMessage)
			require.Equal(subtest, 1, harness.store.closed)
		})
	}
}

func TestMigrateCommandLogsSummaryWithRunIdentifier(testInstance *testing.T) {
	harness := newCommandHarness(baseConfiguration())
	harness.executor.Outcome = testsupport.ServiceOutcome{Result: migrate.MigrationResult{
		RunIdentifier:     commandRunIdentifierConstant,
		SourceIdentifier:  "P",
		TraversalComplete: true,
		Actions:           map[migrate.TransferAction]int{migrate.ActionMove: 2},
	}}
	command, buildError := harness.builder.Build()
	require.NoError(testInstance, buildError)
	command.SetArgs([]string{"P"})
	command.SetContext(utils.NewCommandContextAccessor().WithRunIdentifier(context.Background(), commandRunIdentifierConstant))

	require.NoError(testInstance, command.Execute())
	require.Equal(testInstance, commandRunIdentifierConstant, harness.executor.ExecutedOptions[0].RunIdentifier)

	summaries := harness.logs.FilterMessage(migrationSummaryMessageConstant).All()
	require.Len(testInstance, summaries, 1)
	require.Equal(testInstance, commandRunIdentifierConstant, summaries[0].ContextMap()["run_id"])
	require.Equal(testInstance, true, summaries[0].ContextMap()["traversal_complete"])
}

func TestMigrateCommandFailsWhenStoreCannotOpen(testInstance *testing.T) {
	harness := newCommandHarness(baseConfiguration())
	openFailure := errors.New("disk full")
	harness.builder.StoreOpener = func(context.Context, string, *zap.Logger) (migrate.ClosableStore, error) {
		return nil, openFailure
	}
	command, buildError := harness.builder.Build()
	require.NoError(testInstance, buildError)
	command.SetArgs([]string{"P"})
	command.SetContext(context.Background())

	executeError := command.Execute()
	require.ErrorIs(testInstance, executeError, openFailure)
	require.Empty(testInstance, harness.executor.ExecutedOptions)
}

func TestMigrateCommandMigratesMemoryTreeFile(testInstance *testing.T) {
	treePath := writeProjectsTree(testInstance)
	configuration := baseConfiguration()
	configuration.ActingIdentity = testsupport.ActingIdentity
	configuration.Provider = migrate.ProviderMemory
	configuration.Memory.Tree = treePath

	harness := newCommandHarness(configuration)
	harness.builder.ServiceProvider = nil
	harness.builder.StorageProviderFactory = nil
	command, buildError := harness.builder.Build()
	require.NoError(testInstance, buildError)
	command.SetArgs([]string{"P"})
	command.SetContext(context.Background())

	require.NoError(testInstance, command.Execute())

	migrated := readTree(testInstance, treePath)
	require.Len(testInstance, migrated.Root.Children, 1)
	require.Equal(testInstance, "Projects", migrated.Root.Children[0].Name)
	require.Equal(testInstance, "A", migrated.Root.Children[0].Children[0].Identifier)
	require.Equal(testInstance, "Sub", migrated.Root.Children[0].Children[1].Name)
	require.Equal(testInstance, "true", harness.store.Snapshot()["P/originalRetired"])
}

func TestMaintenanceCommands(testInstance *testing.T) {
	testCases := []struct {
		name          string
		build         func(builder *migrate.CommandBuilder) (commandRunner, error)
		expectedState map[string]string
	}{
		{
			name: "unlock keeps progress",
			build: func(builder *migrate.CommandBuilder) (commandRunner, error) {
				return builder.BuildUnlock()
			},
			expectedState: map[string]string{
				"P/processedIds": `{"A":true}`,
				"Q/processedIds": `{"Z":true}`,
			},
		},
		{
			name: "reset clears the target only",
			build: func(builder *migrate.CommandBuilder) (commandRunner, error) {
				return builder.BuildReset()
			},
			expectedState: map[string]string{
				"Q/processedIds": `{"Z":true}`,
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			harness := newCommandHarness(baseConfiguration())
			executionContext := context.Background()
			require.NoError(subtest, harness.store.Set(executionContext, "P/migrationRunning", "stale-run"))
			require.NoError(subtest, harness.store.Set(executionContext, "P/processedIds", `{"A":true}`))
			require.NoError(subtest, harness.store.Set(executionContext, "Q/processedIds", `{"Z":true}`))

			command, buildError := testCase.build(harness.builder)
			require.NoError(subtest, buildError)
			command.SetArgs([]string{"P", "--state", "/tmp/other.db"})
			command.SetContext(executionContext)

			require.NoError(subtest, command.Execute())
			require.Equal(subtest, testCase.expectedState, harness.store.Snapshot())
			require.Equal(subtest, []string{"/tmp/other.db"}, harness.openedPaths)
			require.Equal(subtest, 1, harness.store.closed)
			require.Empty(subtest, harness.executor.ExecutedOptions)
		})
	}
}

func TestSimulateCommandPrintsResultingTree(testInstance *testing.T) {
	testCases := []struct {
		name      string
		arguments []string
		expectErr error
		verify    func(subtest *testing.T, tree memory.TreeManifest)
	}{
		{
			name:      "single run finalizes",
			arguments: []string{"P", "--identity", testsupport.ActingIdentity},
			verify: func(subtest *testing.T, tree memory.TreeManifest) {
				require.Len(subtest, tree.Root.Children, 1)
				require.Equal(subtest, "Projects", tree.Root.Children[0].Name)
				require.Len(subtest, tree.Detached, 1)
				require.Equal(subtest, "P", tree.Detached[0].Identifier)
			},
		},
		{
			name:      "repeated runs stay idempotent",
			arguments: []string{"P", "--identity", testsupport.ActingIdentity, "--runs", "3"},
			verify: func(subtest *testing.T, tree memory.TreeManifest) {
				require.Len(subtest, tree.Root.Children, 1)
				require.Len(subtest, tree.Root.Children[0].Children, 2)
			},
		},
		{
			name:      "finalization disabled",
			arguments: []string{"P", "--identity", testsupport.ActingIdentity, "--finalize=false"},
			verify: func(subtest *testing.T, tree memory.TreeManifest) {
				require.Len(subtest, tree.Root.Children, 2)
				require.Equal(subtest, "Projects.MIGRATED", tree.Root.Children[1].Name)
				require.Empty(subtest, tree.Detached)
			},
		},
		{
			name:      "zero runs rejected",
			arguments: []string{"P", "--runs", "0"},
			expectErr: migrate.ErrInputInvalid,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			treePath := writeProjectsTree(subtest)
			harness := newCommandHarness(baseConfiguration())
			harness.builder.ServiceProvider = nil
			command, buildError := harness.builder.BuildSimulate()
			require.NoError(subtest, buildError)

			output := &bytes.Buffer{}
			command.SetOut(output)
			command.SetArgs(append([]string{treePath}, testCase.arguments...))
			command.SetContext(context.Background())

			executeError := command.Execute()
			if testCase.expectErr != nil {
				require.ErrorIs(subtest, executeError, testCase.expectErr)
				return
			}
			require.NoError(subtest, executeError)
			require.Empty(subtest, harness.openedPaths)

			simulated, loadError := memory.LoadManifest(output)
			require.NoError(subtest, loadError)
			testCase.verify(subtest, simulated.Manifest())

			unchanged := readTree(subtest, treePath)
			require.Equal(subtest, "Projects", unchanged.Root.Children[0].Name)
			require.Len(subtest, unchanged.Root.Children, 1)
			require.Equal(subtest, "P", unchanged.Root.Children[0].Identifier)
		})
	}
}

func TestSimulateCommandDefaultsIdentityToTreeCreator(testInstance *testing.T) {
	treePath := writeProjectsTree(testInstance)
	configuration := baseConfiguration()
	configuration.ActingIdentity = ""
	harness := newCommandHarness(configuration)
	harness.builder.ServiceProvider = nil
	command, buildError := harness.builder.BuildSimulate()
	require.NoError(testInstance, buildError)

	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetArgs([]string{treePath, "P"})
	command.SetContext(context.Background())
	require.NoError(testInstance, command.Execute())

	simulated, loadError := memory.LoadManifest(output)
	require.NoError(testInstance, loadError)
	tree := simulated.Manifest()
	require.Len(testInstance, tree.Root.Children, 1)
	require.Equal(testInstance, "Projects", tree.Root.Children[0].Name)
	require.NotEqual(testInstance, "P", tree.Root.Children[0].Identifier)
}

type commandRunner interface {
	SetArgs(arguments []string)
	SetContext(executionContext context.Context)
	Execute() error
}

func writeProjectsTree(testInstance *testing.T) string {
	testInstance.Helper()
	treePath := filepath.Join(testInstance.TempDir(), treeFileNameConstant)
	buffer := &bytes.Buffer{}
	require.NoError(testInstance, testsupport.NewProjectsTree().WriteManifest(buffer))
	require.NoError(testInstance, os.WriteFile(treePath, buffer.Bytes(), 0o644))
	return treePath
}

func readTree(testInstance *testing.T, treePath string) memory.TreeManifest {
	testInstance.Helper()
	treeFile, openError := os.Open(treePath)
	require.NoError(testInstance, openError)
	defer treeFile.Close()
	provider, loadError := memory.LoadManifest(treeFile)
	require.NoError(testInstance, loadError)
	return provider.Manifest()
}

func TestMigrateCommandRendersConsoleSummary(testInstance *testing.T) {
	harness := newCommandHarness(baseConfiguration())
	harness.builder.HumanReadableLoggingProvider = func() bool { return true }
	harness.executor.Outcome = testsupport.ServiceOutcome{Result: migrate.MigrationResult{
		RunIdentifier:    commandRunIdentifierConstant,
		SourceIdentifier: "P",
		SourceName:       "Projects",
		Actions:          map[migrate.TransferAction]int{migrate.ActionCopy: 1},
		Failures: []migrate.NodeFailure{{
			NodeIdentifier: "C2",
			NodeName:       "c2.txt",
			Reference:      "memory://C2",
			Err:            errors.New("quota exceeded"),
		}},
	}}
	command, buildError := harness.builder.Build()
	require.NoError(testInstance, buildError)
	command.SetArgs([]string{"P"})
	command.SetContext(context.Background())

	require.NoError(testInstance, command.Execute())
	require.Zero(testInstance, harness.logs.FilterMessage(migrationSummaryMessageConstant).Len())

	messages := make([]string, 0, harness.logs.Len())
	for _, entry := range harness.logs.All() {
		messages = append(messages, entry.Message)
	}
	require.Equal(testInstance, []string{
		"Could not transfer c2.txt (memory://C2): quota exceeded",
		"Migration of Projects paused with 1 failed node(s) (1 copy); run again to resume",
	}, messages)
}
