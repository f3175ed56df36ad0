package utils_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/drivemigrate/internal/utils"
)

func TestCommandContextAccessorRoundTrip(testInstance *testing.T) {
	accessor := utils.NewCommandContextAccessor()

	executionContext := accessor.WithConfigurationFilePath(context.Background(), "/etc/drivemigrate/config.yaml")
	executionContext = accessor.WithRunIdentifier(executionContext, "run-1")

	configurationFilePath, configurationAvailable := accessor.ConfigurationFilePath(executionContext)
	require.True(testInstance, configurationAvailable)
	require.Equal(testInstance, "/etc/drivemigrate/config.yaml", configurationFilePath)

	runIdentifier, runAvailable := accessor.RunIdentifier(executionContext)
	require.True(testInstance, runAvailable)
	require.Equal(testInstance, "run-1", runIdentifier)

	_, missingAvailable := accessor.RunIdentifier(context.Background())
	require.False(testInstance, missingAvailable)
}
