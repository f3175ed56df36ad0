package shortcut_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/drivemigrate/internal/shortcut"
	"github.com/temirov/drivemigrate/internal/storage"
	"github.com/temirov/drivemigrate/internal/storage/memory"
)

const testOwnerConstant = "me@example.com"

func TestResolverResolve(testInstance *testing.T) {
	provider := memory.NewProvider("root", "My Drive", testOwnerConstant)
	provider.AddDetachedContainer("T", "Shared", "partner@elsewhere.org")
	provider.AddDetachedLeaf("F", "report.pdf", "partner@elsewhere.org")
	resolver := shortcut.NewResolver(provider)

	testCases := []struct {
		name               string
		indirection        storage.Node
		expectedIdentifier string
		expectedKind       storage.Kind
		expectedError      error
	}{
		{
			name:               "container target",
			indirection:        storage.Node{Identifier: "s1", Kind: storage.KindIndirection, TargetIdentifier: "T", TargetKind: storage.KindContainer},
			expectedIdentifier: "T",
			expectedKind:       storage.KindContainer,
		},
		{
			name:               "leaf target",
			indirection:        storage.Node{Identifier: "s2", Kind: storage.KindIndirection, TargetIdentifier: "F", TargetKind: storage.KindLeaf},
			expectedIdentifier: "F",
			expectedKind:       storage.KindLeaf,
		},
		{
			name:          "not an indirection",
			indirection:   storage.Node{Identifier: "F", Kind: storage.KindLeaf},
			expectedError: shortcut.ErrNotIndirection,
		},
		{
			name:          "missing target",
			indirection:   storage.Node{Identifier: "s3", Kind: storage.KindIndirection},
			expectedError: shortcut.ErrTargetUnavailable,
		},
		{
			name:          "deleted target",
			indirection:   storage.Node{Identifier: "s4", Kind: storage.KindIndirection, TargetIdentifier: "gone", TargetKind: storage.KindLeaf},
			expectedError: storage.ErrNotFound,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			target, resolveError := resolver.Resolve(context.Background(), testCase.indirection)
			if testCase.expectedError != nil {
				require.ErrorIs(subtest, resolveError, testCase.expectedError)
				return
			}
			require.NoError(subtest, resolveError)
			require.Equal(subtest, testCase.expectedIdentifier, target.Identifier)
			require.Equal(subtest, testCase.expectedKind, target.Kind)
		})
	}
}
