package migrate

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/identity"
	"github.com/temirov/drivemigrate/internal/ledger"
	"github.com/temirov/drivemigrate/internal/policy"
	"github.com/temirov/drivemigrate/internal/shortcut"
	"github.com/temirov/drivemigrate/internal/storage"
)

const (
	depthExceededErrorTemplateConstant         = "%w: depth %d exceeds %d"
	indirectionCycleErrorTemplateConstant      = "%w: %s is already being traversed"
	listLeavesErrorTemplateConstant            = "unable to list leaves: %w"
	listContainersErrorTemplateConstant        = "unable to list containers: %w"
	ownerLookupErrorTemplateConstant           = "unable to read owner: %w"
	markDoneErrorTemplateConstant              = "unable to record completion: %w"
	journalErrorTemplateConstant               = "unable to journal operation: %w"
	transferErrorTemplateConstant              = "%s failed: %w"
	createdContainerLookupTemplateConstant     = "unable to reopen created container %s: %w"
	nodeFailureMessageConstant                 = "Node transfer failed"
	policyAppliedMessageConstant               = "Ownership policy applied"
	indirectionResolvedMessageConstant         = "Indirection resolved"
	actionAppliedMessageConstant               = "Node transferred"
	pendingCopyRecoveredMessageConstant        = "Copy from an interrupted run found in destination"
	createdContainerReusedMessageConstant      = "Reusing container created by an earlier run"
	pendingCopyClearFailedMessageConstant      = "Unable to clear copy journal entry"
	createdContainerUnjournaledMessageConstant = "Created container could not be journaled; an interrupted run may create it again"
	containerIncompleteMessageConstant         = "Container left open for retry"
	logFieldNodeIdentifierConstant             = "node_id"
	logFieldNodeNameConstant                   = "node_name"
	logFieldNodeReferenceConstant              = "node_reference"
	logFieldActionConstant                     = "action"
	logFieldDestinationIdentifierConstant      = "destination_id"
	logFieldDecisionConstant                   = "decision"
	logFieldOwnerConstant                      = "owner"
	logFieldTargetIdentifierConstant           = "target_id"
)

var (
	// ErrDepthExceeded reports a container nested deeper than the configured maximum.
	ErrDepthExceeded = errors.New("maximum traversal depth exceeded")
	// ErrIndirectionCycle reports an indirection leading back into a container under traversal.
	ErrIndirectionCycle = errors.New("indirection cycle")
)

// traversalEngine walks a source tree in lock-step with its destination tree,
// applying at most one transfer per unprocessed node.
type traversalEngine struct {
	provider  storage.Provider
	ledger    *ledger.Ledger
	resolver  shortcut.Resolver
	principal identity.Principal
	maxDepth  int
	logger    *zap.Logger
	result    *MigrationResult
	visiting  map[string]bool
}

func newTraversalEngine(provider storage.Provider, progress *ledger.Ledger, principal identity.Principal, maxDepth int, logger *zap.Logger, result *MigrationResult) *traversalEngine {
	return &traversalEngine{
		provider:  provider,
		ledger:    progress,
		resolver:  shortcut.NewResolver(provider),
		principal: principal,
		maxDepth:  maxDepth,
		logger:    logger,
		result:    result,
		visiting:  map[string]bool{},
	}
}

// walk processes source into destination and reports whether source ended
// marked done. The returned error is non-nil only when the context ended.
func (engine *traversalEngine) walk(executionContext context.Context, source storage.Node, destination storage.Node, depth int) (bool, error) {
	if engine.ledger.IsDone(source.Identifier) {
		return true, nil
	}
	if depth > engine.maxDepth {
		engine.recordFailure(source, fmt.Errorf(depthExceededErrorTemplateConstant, ErrDepthExceeded, depth, engine.maxDepth))
		return false, nil
	}
	if engine.visiting[source.Identifier] {
		engine.recordFailure(source, fmt.Errorf(indirectionCycleErrorTemplateConstant, ErrIndirectionCycle, source.Identifier))
		return false, nil
	}
	engine.visiting[source.Identifier] = true
	defer delete(engine.visiting, source.Identifier)

	complete := true

	leaves, listError := engine.provider.ListLeaves(executionContext, source)
	if listError != nil {
		return false, engine.handleFailure(executionContext, source, fmt.Errorf(listLeavesErrorTemplateConstant, listError))
	}
	for _, leaf := range leaves {
		if contextError := executionContext.Err(); contextError != nil {
			return false, contextError
		}
		if engine.ledger.IsDone(leaf.Identifier) {
			continue
		}
		transferred, transferError := engine.processLeaf(executionContext, leaf, destination, depth)
		if transferError != nil {
			return false, transferError
		}
		complete = complete && transferred
	}

	containers, listError := engine.provider.ListContainers(executionContext, source)
	if listError != nil {
		return false, engine.handleFailure(executionContext, source, fmt.Errorf(listContainersErrorTemplateConstant, listError))
	}
	for _, child := range containers {
		if contextError := executionContext.Err(); contextError != nil {
			return false, contextError
		}
		if engine.ledger.IsDone(child.Identifier) {
			continue
		}
		transferred, transferError := engine.processContainer(executionContext, child, destination, depth)
		if transferError != nil {
			return false, transferError
		}
		complete = complete && transferred
	}

	if !complete {
		engine.logger.Debug(containerIncompleteMessageConstant, zap.String(logFieldNodeIdentifierConstant, source.Identifier))
		return false, nil
	}
	if markError := engine.ledger.MarkDone(executionContext, source.Identifier); markError != nil {
		return false, engine.handleFailure(executionContext, source, fmt.Errorf(markDoneErrorTemplateConstant, markError))
	}
	return true, nil
}

func (engine *traversalEngine) processLeaf(executionContext context.Context, leaf storage.Node, destination storage.Node, depth int) (bool, error) {
	if leaf.IsIndirection() {
		return engine.processIndirection(executionContext, leaf, destination, depth)
	}

	decision, decisionError := engine.decide(executionContext, leaf)
	if decisionError != nil {
		return false, engine.handleFailure(executionContext, leaf, decisionError)
	}

	if decision.Moves() {
		if moveError := engine.provider.MoveLeaf(executionContext, leaf, destination); moveError != nil {
			return false, engine.handleFailure(executionContext, leaf, fmt.Errorf(transferErrorTemplateConstant, ActionMove, moveError))
		}
		return engine.complete(executionContext, leaf, ActionMove, destination, leaf.Identifier)
	}

	recovered, copyError := engine.copyLeaf(executionContext, leaf.Identifier, leaf, destination)
	if copyError != nil {
		return false, engine.handleFailure(executionContext, leaf, fmt.Errorf(transferErrorTemplateConstant, ActionCopy, copyError))
	}
	return engine.complete(executionContext, leaf, copyAction(ActionCopy, recovered), destination, leaf.Identifier)
}

func (engine *traversalEngine) processContainer(executionContext context.Context, child storage.Node, destination storage.Node, depth int) (bool, error) {
	decision, decisionError := engine.decide(executionContext, child)
	if decisionError != nil {
		return false, engine.handleFailure(executionContext, child, decisionError)
	}

	if decision.Moves() {
		if moveError := engine.provider.MoveContainer(executionContext, child, destination); moveError != nil {
			return false, engine.handleFailure(executionContext, child, fmt.Errorf(transferErrorTemplateConstant, ActionMoveContainer, moveError))
		}
		return engine.complete(executionContext, child, ActionMoveContainer, destination, child.Identifier)
	}

	created, newlyCreated, createError := engine.ensureContainer(executionContext, child.Identifier, child.Name, destination)
	if createError != nil {
		return false, engine.handleFailure(executionContext, child, fmt.Errorf(transferErrorTemplateConstant, ActionCreateAndRecurse, createError))
	}
	if newlyCreated {
		engine.logApplied(child, ActionCreateAndRecurse, created)
		engine.result.countAction(ActionCreateAndRecurse)
	}
	return engine.walk(executionContext, child, created, depth+1)
}

// processIndirection materializes the target of a shortcut. The shortcut itself
// is marked done once its target has been fully handled.
func (engine *traversalEngine) processIndirection(executionContext context.Context, indirection storage.Node, destination storage.Node, depth int) (bool, error) {
	target, resolveError := engine.resolver.Resolve(executionContext, indirection)
	if resolveError != nil {
		return false, engine.handleFailure(executionContext, indirection, resolveError)
	}
	engine.logger.Debug(
		indirectionResolvedMessageConstant,
		zap.String(logFieldNodeIdentifierConstant, indirection.Identifier),
		zap.String(logFieldTargetIdentifierConstant, target.Identifier),
	)

	if !target.IsContainer() {
		recovered, copyError := engine.copyLeaf(executionContext, indirection.Identifier, target, destination)
		if copyError != nil {
			return false, engine.handleFailure(executionContext, indirection, fmt.Errorf(transferErrorTemplateConstant, ActionCopyIndirectionTarget, copyError))
		}
		return engine.complete(executionContext, indirection, copyAction(ActionCopyIndirectionTarget, recovered), destination, indirection.Identifier)
	}

	if engine.visiting[target.Identifier] {
		engine.recordFailure(indirection, fmt.Errorf(indirectionCycleErrorTemplateConstant, ErrIndirectionCycle, target.Identifier))
		return false, nil
	}
	created, newlyCreated, createError := engine.ensureContainer(executionContext, indirection.Identifier, target.Name, destination)
	if createError != nil {
		return false, engine.handleFailure(executionContext, indirection, fmt.Errorf(transferErrorTemplateConstant, ActionRecurseIntoIndirectionTarget, createError))
	}
	if newlyCreated {
		engine.logApplied(indirection, ActionRecurseIntoIndirectionTarget, created)
		engine.result.countAction(ActionRecurseIntoIndirectionTarget)
	}

	targetDone, walkError := engine.walk(executionContext, target, created, depth+1)
	if walkError != nil || !targetDone {
		return false, walkError
	}
	if markError := engine.ledger.MarkDone(executionContext, indirection.Identifier); markError != nil {
		return false, engine.handleFailure(executionContext, indirection, fmt.Errorf(markDoneErrorTemplateConstant, markError))
	}
	return true, nil
}

func (engine *traversalEngine) decide(executionContext context.Context, node storage.Node) (policy.Decision, error) {
	owner, ownerError := engine.provider.Owner(executionContext, node)
	if ownerError != nil {
		return "", fmt.Errorf(ownerLookupErrorTemplateConstant, ownerError)
	}
	decision := policy.DecideFor(owner, engine.principal)
	engine.logger.Debug(
		policyAppliedMessageConstant,
		zap.String(logFieldNodeIdentifierConstant, node.Identifier),
		zap.String(logFieldOwnerConstant, owner),
		zap.String(logFieldDecisionConstant, string(decision)),
	)
	return decision, nil
}

// copyLeaf copies leaf into destination, journaling the copy under journalKey
// first together with the same-named leaves destination already holds. A
// journaled copy is not repeated when destination gained a same-named leaf
// outside that set; the boolean reports such a recovery.
func (engine *traversalEngine) copyLeaf(executionContext context.Context, journalKey string, leaf storage.Node, destination storage.Node) (bool, error) {
	if entry, pending := engine.ledger.PendingCopy(journalKey); pending && entry.DestinationIdentifier == destination.Identifier {
		sameNamed, listError := engine.sameNamedLeaves(executionContext, destination, leaf.Name)
		if listError != nil {
			return false, listError
		}
		if containsUnknownIdentifier(sameNamed, entry.PriorIdentifiers) {
			engine.logger.Info(pendingCopyRecoveredMessageConstant, zap.String(logFieldNodeIdentifierConstant, journalKey), zap.String(logFieldDestinationIdentifierConstant, destination.Identifier))
			return true, nil
		}
	}

	priorIdentifiers, listError := engine.sameNamedLeaves(executionContext, destination, leaf.Name)
	if listError != nil {
		return false, listError
	}
	journalEntry := ledger.CopyJournalEntry{DestinationIdentifier: destination.Identifier, PriorIdentifiers: priorIdentifiers}
	if journalError := engine.ledger.RecordPendingCopy(executionContext, journalKey, journalEntry); journalError != nil {
		return false, fmt.Errorf(journalErrorTemplateConstant, journalError)
	}

	_, copyError := engine.provider.CopyLeaf(executionContext, leaf, leaf.Name, destination)
	if copyError == nil {
		return false, nil
	}
	// A copy cut short by the context may still have landed; its entry stays for recovery.
	if executionContext.Err() == nil {
		if clearError := engine.ledger.ClearPendingCopy(context.WithoutCancel(executionContext), journalKey); clearError != nil {
			engine.logger.Debug(pendingCopyClearFailedMessageConstant, zap.String(logFieldNodeIdentifierConstant, journalKey), zap.Error(clearError))
		}
	}
	return false, copyError
}

// sameNamedLeaves lists the identifiers of leaves in container named name.
func (engine *traversalEngine) sameNamedLeaves(executionContext context.Context, container storage.Node, name string) ([]string, error) {
	leaves, listError := engine.provider.ListLeaves(executionContext, container)
	if listError != nil {
		return nil, fmt.Errorf(listLeavesErrorTemplateConstant, listError)
	}
	var identifiers []string
	for _, leaf := range leaves {
		if leaf.Name == name {
			identifiers = append(identifiers, leaf.Identifier)
		}
	}
	return identifiers, nil
}

func containsUnknownIdentifier(identifiers []string, known []string) bool {
	for _, identifier := range identifiers {
		if !slices.Contains(known, identifier) {
			return true
		}
	}
	return false
}

func copyAction(action TransferAction, recovered bool) TransferAction {
	if recovered {
		return ActionRecoveredCopy
	}
	return action
}

// ensureContainer returns the destination container journaled under journalKey
// by an earlier run, or creates and journals a new one. The boolean reports creation.
func (engine *traversalEngine) ensureContainer(executionContext context.Context, journalKey string, name string, destination storage.Node) (storage.Node, bool, error) {
	if createdIdentifier, exists := engine.ledger.CreatedContainer(journalKey); exists {
		created, lookupError := engine.provider.ContainerByID(executionContext, createdIdentifier)
		if lookupError == nil {
			engine.logger.Info(createdContainerReusedMessageConstant, zap.String(logFieldNodeIdentifierConstant, journalKey), zap.String(logFieldDestinationIdentifierConstant, created.Identifier))
			return created, false, nil
		}
		if !errors.Is(lookupError, storage.ErrNotFound) {
			return storage.Node{}, false, fmt.Errorf(createdContainerLookupTemplateConstant, createdIdentifier, lookupError)
		}
	}

	created, createError := engine.provider.CreateContainer(executionContext, destination, name)
	if createError != nil {
		return storage.Node{}, false, createError
	}
	if journalError := engine.ledger.RecordCreatedContainer(context.WithoutCancel(executionContext), journalKey, created.Identifier); journalError != nil {
		engine.logger.Warn(
			createdContainerUnjournaledMessageConstant,
			zap.String(logFieldNodeIdentifierConstant, journalKey),
			zap.String(logFieldDestinationIdentifierConstant, created.Identifier),
			zap.Error(journalError),
		)
	}
	return created, true, nil
}

// complete marks node done after a successful transfer and clears any copy journal entry.
// Both writes outlive a cancelled context, since the transfer already happened.
func (engine *traversalEngine) complete(executionContext context.Context, node storage.Node, action TransferAction, destination storage.Node, journalKey string) (bool, error) {
	durableContext := context.WithoutCancel(executionContext)
	if markError := engine.ledger.MarkDone(durableContext, node.Identifier); markError != nil {
		return false, engine.handleFailure(executionContext, node, fmt.Errorf(markDoneErrorTemplateConstant, markError))
	}
	if clearError := engine.ledger.ClearPendingCopy(durableContext, journalKey); clearError != nil {
		engine.logger.Debug(pendingCopyClearFailedMessageConstant, zap.String(logFieldNodeIdentifierConstant, journalKey), zap.Error(clearError))
	}
	engine.logApplied(node, action, destination)
	engine.result.countAction(action)
	return true, nil
}

// handleFailure records a node failure and returns nil, unless the failure was
// caused by the context ending, in which case the context error is returned.
func (engine *traversalEngine) handleFailure(executionContext context.Context, node storage.Node, failure error) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if errors.Is(failure, context.Canceled) || errors.Is(failure, context.DeadlineExceeded) {
		return failure
	}
	engine.recordFailure(node, failure)
	return nil
}

func (engine *traversalEngine) recordFailure(node storage.Node, failure error) {
	reference := storage.Reference(engine.provider, node)
	engine.logger.Warn(
		nodeFailureMessageConstant,
		zap.String(logFieldNodeIdentifierConstant, node.Identifier),
		zap.String(logFieldNodeNameConstant, node.Name),
		zap.String(logFieldNodeReferenceConstant, reference),
		zap.Error(failure),
	)
	engine.result.Failures = append(engine.result.Failures, NodeFailure{
		NodeIdentifier: node.Identifier,
		NodeName:       node.Name,
		Reference:      reference,
		Err:            failure,
	})
}

func (engine *traversalEngine) logApplied(node storage.Node, action TransferAction, destination storage.Node) {
	engine.logger.Info(
		actionAppliedMessageConstant,
		zap.String(logFieldActionConstant, string(action)),
		zap.String(logFieldNodeIdentifierConstant, node.Identifier),
		zap.String(logFieldNodeNameConstant, node.Name),
		zap.String(logFieldDestinationIdentifierConstant, destination.Identifier),
	)
}
