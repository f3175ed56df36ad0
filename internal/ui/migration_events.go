package ui

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	migrationCompletedMessageTemplateConstant  = "Migrated %s into %s (%s)"
	migrationIncompleteMessageTemplateConstant = "Migration of %s paused with %d failed node(s) (%s); run again to resume"
	migrationFinalizedMessageTemplateConstant  = "%s was already migrated; nothing to do"
	finalizationPendingMessageTemplateConstant = "Migrated %s into %s (%s); finalization pending"
	nodeFailureMessageTemplateConstant         = "Could not transfer %s: %s"
	stepFailureMessageTemplateConstant         = "Could not %s for %s: %s"
	actionCountTemplateConstant                = "%d %s"
	actionSeparatorConstant                    = ", "
	noActionsMessageConstant                   = "no changes"
	unknownFailureMessageConstant              = "unknown error"
	stepLabelReplacementOldConstant            = "_"
	stepLabelReplacementNewConstant            = " "
	nodeLabelTemplateConstant                  = "%s (%s)"
	emptyStringConstant                        = ""
)

// MigrationFailure describes one failed node or finalization step.
type MigrationFailure struct {
	NodeName  string
	Reference string
	Step      string
	Message   string
}

// MigrationSummary describes the outcome of one migration run.
type MigrationSummary struct {
	SourceName         string
	DestinationName    string
	Actions            map[string]int
	Failures           []MigrationFailure
	TraversalComplete  bool
	OriginalRetired    bool
	DestinationRenamed bool
	AlreadyFinalized   bool
}

// MigrationEventFormatter builds human-readable messages for migration outcomes.
type MigrationEventFormatter struct{}

// BuildSummaryMessage formats the one-line outcome of a run.
func (formatter MigrationEventFormatter) BuildSummaryMessage(summary MigrationSummary) string {
	switch {
	case summary.AlreadyFinalized:
		return fmt.Sprintf(migrationFinalizedMessageTemplateConstant, summary.SourceName)
	case !summary.TraversalComplete:
		return fmt.Sprintf(migrationIncompleteMessageTemplateConstant, summary.SourceName, len(summary.Failures), formatter.formatActions(summary.Actions))
	case summary.OriginalRetired && summary.DestinationRenamed:
		return fmt.Sprintf(migrationCompletedMessageTemplateConstant, summary.SourceName, summary.DestinationName, formatter.formatActions(summary.Actions))
	default:
		return fmt.Sprintf(finalizationPendingMessageTemplateConstant, summary.SourceName, summary.DestinationName, formatter.formatActions(summary.Actions))
	}
}

// BuildFailureMessage formats a failure so the user can locate the node.
func (formatter MigrationEventFormatter) BuildFailureMessage(failure MigrationFailure) string {
	message := strings.TrimSpace(failure.Message)
	if len(message) == 0 {
		message = unknownFailureMessageConstant
	}
	nodeLabel := formatter.formatNodeLabel(failure)
	if len(failure.Step) > 0 {
		stepLabel := strings.ReplaceAll(failure.Step, stepLabelReplacementOldConstant, stepLabelReplacementNewConstant)
		return fmt.Sprintf(stepFailureMessageTemplateConstant, stepLabel, nodeLabel, message)
	}
	return fmt.Sprintf(nodeFailureMessageTemplateConstant, nodeLabel, message)
}

func (formatter MigrationEventFormatter) formatNodeLabel(failure MigrationFailure) string {
	trimmedReference := strings.TrimSpace(failure.Reference)
	if len(trimmedReference) == 0 {
		return failure.NodeName
	}
	if len(failure.NodeName) == 0 {
		return trimmedReference
	}
	return fmt.Sprintf(nodeLabelTemplateConstant, failure.NodeName, trimmedReference)
}

func (formatter MigrationEventFormatter) formatActions(actions map[string]int) string {
	actionNames := make([]string, 0, len(actions))
	for actionName, count := range actions {
		if count > 0 {
			actionNames = append(actionNames, actionName)
		}
	}
	if len(actionNames) == 0 {
		return noActionsMessageConstant
	}
	sort.Strings(actionNames)

	parts := make([]string, 0, len(actionNames))
	for _, actionName := range actionNames {
		parts = append(parts, fmt.Sprintf(actionCountTemplateConstant, actions[actionName], actionName))
	}
	return strings.Join(parts, actionSeparatorConstant)
}

// ConsoleMigrationReporter renders migration outcomes using a zap logger configured for human-readable output.
type ConsoleMigrationReporter struct {
	logger    *zap.Logger
	formatter MigrationEventFormatter
}

// NewConsoleMigrationReporter constructs a console reporter backed by the provided zap logger.
func NewConsoleMigrationReporter(logger *zap.Logger) *ConsoleMigrationReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleMigrationReporter{logger: logger, formatter: MigrationEventFormatter{}}
}

// Report logs one warning per failure followed by the summary line.
func (reporter *ConsoleMigrationReporter) Report(summary MigrationSummary) {
	if reporter == nil {
		return
	}
	for _, failure := range summary.Failures {
		reporter.logger.Warn(reporter.formatter.BuildFailureMessage(failure))
	}
	summaryMessage := reporter.formatter.BuildSummaryMessage(summary)
	if summary.TraversalComplete {
		reporter.logger.Info(summaryMessage)
		return
	}
	reporter.logger.Warn(summaryMessage)
}
