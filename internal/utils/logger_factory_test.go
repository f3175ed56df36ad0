package utils_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/utils"
)

const (
	testNodeTransferredMessageConstant = "Node transferred"
	testNodeIdentifierFieldConstant    = "node_id"
)

func TestLoggerFactoryCreateLogger(testInstance *testing.T) {
	testCases := []struct {
		name                string
		requestedLogLevel   utils.LogLevel
		requestedLogFormat  utils.LogFormat
		expectError         bool
		expectStructuredLog bool
	}{
		{name: "structured debug", requestedLogLevel: utils.LogLevelDebug, requestedLogFormat: utils.LogFormatStructured, expectStructuredLog: true},
		{name: "console info", requestedLogLevel: utils.LogLevelInfo, requestedLogFormat: utils.LogFormatConsole},
		{name: "mixed case values", requestedLogLevel: utils.LogLevel(" INFO "), requestedLogFormat: utils.LogFormat("Structured"), expectStructuredLog: true},
		{name: "unsupported level", requestedLogLevel: utils.LogLevel("verbose"), requestedLogFormat: utils.LogFormatStructured, expectError: true},
		{name: "unsupported format", requestedLogLevel: utils.LogLevelInfo, requestedLogFormat: utils.LogFormat("xml"), expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			outputBuffer := &bytes.Buffer{}
			logger, creationError := utils.NewLoggerFactoryWithWriter(outputBuffer).CreateLogger(testCase.requestedLogLevel, testCase.requestedLogFormat)
			if testCase.expectError {
				require.Error(subtest, creationError)
				require.Nil(subtest, logger)
				return
			}
			require.NoError(subtest, creationError)

			logger.Info(testNodeTransferredMessageConstant, zap.String(testNodeIdentifierFieldConstant, "A"))

			trimmedOutput := bytes.TrimSpace(outputBuffer.Bytes())
			require.Contains(subtest, string(trimmedOutput), testNodeTransferredMessageConstant)
			require.Equal(subtest, testCase.expectStructuredLog, json.Valid(trimmedOutput))
			if testCase.expectStructuredLog {
				var record map[string]any
				require.NoError(subtest, json.Unmarshal(trimmedOutput, &record))
				require.Equal(subtest, "A", record[testNodeIdentifierFieldConstant])
				require.Contains(subtest, record, "ts")
			}
		})
	}
}

func TestLoggerFactoryHonorsLevel(testInstance *testing.T) {
	outputBuffer := &bytes.Buffer{}
	logger, creationError := utils.NewLoggerFactoryWithWriter(outputBuffer).CreateLogger(utils.LogLevelWarn, utils.LogFormatStructured)
	require.NoError(testInstance, creationError)

	logger.Info(testNodeTransferredMessageConstant)
	require.Empty(testInstance, outputBuffer.String())

	logger.Warn(testNodeTransferredMessageConstant)
	require.Contains(testInstance, outputBuffer.String(), testNodeTransferredMessageConstant)
}
