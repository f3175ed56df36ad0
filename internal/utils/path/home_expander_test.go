package pathutils_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pathutils "github.com/temirov/drivemigrate/internal/utils/path"
)

const (
	testHomeDirectoryConstant = "/home/migrator"
	testStateFileConstant     = "state.db"
)

func TestHomeExpanderExpand(testInstance *testing.T) {
	expander := pathutils.NewHomeExpanderWithProvider(func() (string, error) {
		return testHomeDirectoryConstant, nil
	})

	testCases := []struct {
		name         string
		input        string
		expectedPath string
	}{
		{name: "bare_tilde", input: "~", expectedPath: testHomeDirectoryConstant},
		{name: "tilde_prefix", input: "~/.drivemigrate/" + testStateFileConstant, expectedPath: filepath.Join(testHomeDirectoryConstant, ".drivemigrate", testStateFileConstant)},
		{name: "absolute_unchanged", input: "/var/lib/" + testStateFileConstant, expectedPath: "/var/lib/" + testStateFileConstant},
		{name: "other_user_unchanged", input: "~other/file", expectedPath: "~other/file"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expectedPath, expander.Expand(testCase.input))
		})
	}
}

func TestHomeExpanderFallsBackOnLookupFailure(testInstance *testing.T) {
	expander := pathutils.NewHomeExpanderWithProvider(func() (string, error) {
		return "", errors.New("no home")
	})
	require.Equal(testInstance, "~/"+testStateFileConstant, expander.Expand("~/"+testStateFileConstant))
}

func TestHomeExpanderResolve(testInstance *testing.T) {
	expander := pathutils.NewHomeExpanderWithProvider(func() (string, error) {
		return testHomeDirectoryConstant, nil
	})

	resolvedPath, resolveError := expander.Resolve("  ~/" + testStateFileConstant + " ")
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, filepath.Join(testHomeDirectoryConstant, testStateFileConstant), resolvedPath)

	emptyPath, emptyError := expander.Resolve("   ")
	require.NoError(testInstance, emptyError)
	require.Empty(testInstance, emptyPath)
}
