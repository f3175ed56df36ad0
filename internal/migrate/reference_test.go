package migrate_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/drivemigrate/internal/migrate"
)

const testDriveFolderIdentifierConstant = "1YlGF8xF8QCbmM20dC62RuXgfLAjQHlQb"

func TestParseReference(testInstance *testing.T) {
	testCases := []struct {
		name               string
		reference          string
		expectedIdentifier string
		expectInvalid      bool
	}{
		{
			name:               "folder url",
			reference:          "https://drive.google.com/drive/u/0/folders/" + testDriveFolderIdentifierConstant,
			expectedIdentifier: testDriveFolderIdentifierConstant,
		},
		{
			name:               "folder url with query",
			reference:          "https://drive.google.com/drive/folders/" + testDriveFolderIdentifierConstant + "?usp=sharing",
			expectedIdentifier: testDriveFolderIdentifierConstant,
		},
		{
			name:               "embedded identifier",
			reference:          "https://drive.google.com/open?id=" + testDriveFolderIdentifierConstant,
			expectedIdentifier: testDriveFolderIdentifierConstant,
		},
		{
			name:               "bare long identifier",
			reference:          "  " + testDriveFolderIdentifierConstant + " ",
			expectedIdentifier: testDriveFolderIdentifierConstant,
		},
		{
			name:               "bare short identifier",
			reference:          "P",
			expectedIdentifier: "P",
		},
		{
			name:          "empty",
			reference:     "   ",
			expectInvalid: true,
		},
		{
			name:          "url without identifier",
			reference:     "https://drive.google.com/drive/my-drive",
			expectInvalid: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			identifier, parseError := migrate.ParseReference(testCase.reference)
			if testCase.expectInvalid {
				var invalidInput migrate.InvalidInputError
				require.True(subtest, errors.As(parseError, &invalidInput))
				require.ErrorIs(subtest, parseError, migrate.ErrInputInvalid)
				return
			}
			require.NoError(subtest, parseError)
			require.Equal(subtest, testCase.expectedIdentifier, identifier)
		})
	}
}
