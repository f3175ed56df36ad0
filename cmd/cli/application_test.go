package cli_test

import (
	"bytes"
	"testing"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/temirov/drivemigrate/cmd/cli"
	"github.com/temirov/drivemigrate/internal/migrate"
)

func TestEmbeddedDefaultsMatchMigrationDefaults(t *testing.T) {
	configuration := decodeEmbeddedApplicationConfiguration(t)

	require.Equal(t, "info", configuration.Common.LogLevel)
	require.Equal(t, "structured", configuration.Common.LogFormat)
	require.Equal(t, migrate.DefaultCommandConfiguration().Sanitize(), configuration.Migration.Sanitize())
}

func TestMigrationOptionsDecode(t *testing.T) {
	testCases := []struct {
		name     string
		options  map[string]any
		expected func(configuration migrate.CommandConfiguration) bool
	}{
		{
			name: "filesystem owners",
			options: map[string]any{
				"provider": "localfs",
				"localfs": map[string]any{
					"root":           "/srv/shared",
					"default_domain": "example.com",
					"owners":         map[string]any{"alice": "alice@example.com"},
				},
			},
			expected: func(configuration migrate.CommandConfiguration) bool {
				return configuration.LocalFilesystem.Owners["alice"] == "alice@example.com" &&
					configuration.LocalFilesystem.DefaultDomain == "example.com"
			},
		},
		{
			name: "memory tree without finalization",
			options: map[string]any{
				"provider":  "memory",
				"memory":    map[string]any{"tree": "/tmp/tree.yaml"},
				"finalize":  false,
				"max_depth": 3,
			},
			expected: func(configuration migrate.CommandConfiguration) bool {
				return configuration.Memory.Tree == "/tmp/tree.yaml" && !configuration.Finalize && configuration.MaxDepth == 3
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configuration := migrate.DefaultCommandConfiguration()
			decodeOperationOptions(t, testCase.options, &configuration)
			require.True(t, testCase.expected(configuration))
			require.Equal(t, ".MIGRATED", configuration.DestinationSuffix)
		})
	}
}

func decodeEmbeddedApplicationConfiguration(testingInstance testing.TB) cli.ApplicationConfiguration {
	testingInstance.Helper()

	configurationData, configurationType := cli.EmbeddedDefaultConfiguration()
	viperInstance := viper.New()
	viperInstance.SetConfigType(configurationType)

	readError := viperInstance.ReadConfig(bytes.NewReader(configurationData))
	require.NoError(testingInstance, readError)

	var configuration cli.ApplicationConfiguration
	unmarshalError := viperInstance.Unmarshal(&configuration)
	require.NoError(testingInstance, unmarshalError)

	return configuration
}

func decodeOperationOptions(testingInstance testing.TB, options map[string]any, target any) {
	testingInstance.Helper()

	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", Result: target})
	require.NoError(testingInstance, decoderError)

	decodeError := decoder.Decode(options)
	require.NoError(testingInstance, decodeError)
}
