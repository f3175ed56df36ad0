package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/identity"
	"github.com/temirov/drivemigrate/internal/ledger"
	"github.com/temirov/drivemigrate/internal/properties"
	"github.com/temirov/drivemigrate/internal/storage"
)

const (
	destinationSuffixFieldNameConstant     = "destination_suffix"
	maxDepthFieldNameConstant              = "max_depth"
	identityFieldNameConstant              = "acting_identity"
	requiredValueMessageConstant           = "value is required"
	positiveValueMessageConstant           = "value must be positive"
	providerRootMessageConstant            = "the provider root cannot be migrated"
	providerMissingMessageConstant         = "storage provider not configured"
	storeMissingMessageConstant            = "property store not configured"
	identityProviderMissingMessageConstant = "identity provider not configured"
	alreadyRunningErrorTemplateConstant    = "%w: held by run %s"
	rootUnavailableErrorTemplateConstant   = "%w: %s: %w"
	stateErrorTemplateConstant             = "unable to load migration state: %w"
	manifestErrorTemplateConstant          = "unable to persist migration manifest: %w"
	destinationRootErrorTemplateConstant   = "unable to prepare destination root: %w"
	releaseErrorTemplateConstant           = "unable to release run lock: %w"
	invalidInputTemplateConstant           = "%s: %s"
	defaultDestinationSuffixConstant       = ".MIGRATED"
	defaultMaxDepthConstant                = 512

	migrationStartedMessageConstant        = "Migration started"
	migrationAlreadyRunningMessageConstant = "Migration already running, skipping"
	migrationAlreadyFinalizedMessage       = "Migration already finalized"
	destinationRootFoundMessageConstant    = "Found existing destination root"
	destinationRootCreatedMessageConstant  = "Created destination root"
	traversalIncompleteMessageConstant     = "Traversal incomplete; finalization deferred to a later run"
	finalizationDisabledMessageConstant    = "Traversal complete; finalization disabled"
	migrationCompletedMessageConstant      = "Migration completed"
	lockReleaseFailedMessageConstant       = "Unable to release run lock"
	logFieldRunIdentifierConstant          = "run_id"
	logFieldSourceIdentifierConstant       = "source_id"
	logFieldDoneCountConstant              = "done_count"
	logFieldFailureCountConstant           = "failure_count"
)

var (
	// ErrInputInvalid reports a reference or option that cannot be used. Nothing is mutated.
	ErrInputInvalid = errors.New("invalid input")
	// ErrAlreadyRunning reports a run lock held by another invocation. Nothing is mutated.
	ErrAlreadyRunning = errors.New("migration already running")
	// ErrRootUnavailable reports a source or destination root that cannot be fetched.
	ErrRootUnavailable = errors.New("migration root unavailable")

	errProviderMissing         = errors.New(providerMissingMessageConstant)
	errStoreMissing            = errors.New(storeMissingMessageConstant)
	errIdentityProviderMissing = errors.New(identityProviderMissingMessageConstant)
)

// InvalidInputError describes a rejected reference or option.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputTemplateConstant, inputError.FieldName, inputError.Message)
}

// Is matches ErrInputInvalid.
func (inputError InvalidInputError) Is(target error) bool {
	return target == ErrInputInvalid
}

// TransferAction names what the engine did with one node.
type TransferAction string

// Transfer actions.
const (
	ActionMove                         TransferAction = "move"
	ActionCopy                         TransferAction = "copy"
	ActionCreateAndRecurse             TransferAction = "create_and_recurse"
	ActionMoveContainer                TransferAction = "move_container"
	ActionCopyIndirectionTarget        TransferAction = "copy_indirection_target"
	ActionRecurseIntoIndirectionTarget TransferAction = "recurse_into_indirection_target"
	ActionRecoveredCopy                TransferAction = "recovered_copy"
)

// NodeFailure describes a node or finalization step left for a later run.
type NodeFailure struct {
	NodeIdentifier string
	NodeName       string
	Reference      string
	Step           string
	Err            error
}

// ServiceDependencies describes required collaborators for migration.
type ServiceDependencies struct {
	Logger           *zap.Logger
	Provider         storage.Provider
	Store            properties.Store
	IdentityProvider identity.Provider
}

// MigrationOptions configures one migration run.
type MigrationOptions struct {
	Reference         string
	RunIdentifier     string
	DestinationSuffix string
	MaxDepth          int
	SkipFinalization  bool
}

// MigrationResult captures the observable outcome of one run.
type MigrationResult struct {
	RunIdentifier         string
	SourceIdentifier      string
	SourceName            string
	DestinationIdentifier string
	DestinationName       string
	Actions               map[TransferAction]int
	Failures              []NodeFailure
	TraversalComplete     bool
	AlreadyFinalized      bool
	Finalization          FinalizationOutcome
}

// ActionCount returns how many times action was applied in the run.
func (result MigrationResult) ActionCount(action TransferAction) int {
	return result.Actions[action]
}

// TotalActions returns the number of transfers applied in the run.
func (result MigrationResult) TotalActions() int {
	total := 0
	for _, count := range result.Actions {
		total += count
	}
	return total
}

func (result *MigrationResult) countAction(action TransferAction) {
	if result.Actions == nil {
		result.Actions = map[TransferAction]int{}
	}
	result.Actions[action]++
}

// Service runs resumable migrations.
type Service struct {
	logger           *zap.Logger
	provider         storage.Provider
	store            properties.Store
	identityProvider identity.Provider
}

// NewService constructs a Service with the provided dependencies.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Provider == nil {
		return nil, errProviderMissing
	}
	if dependencies.Store == nil {
		return nil, errStoreMissing
	}
	if dependencies.IdentityProvider == nil {
		return nil, errIdentityProviderMissing
	}

	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		logger:           logger,
		provider:         dependencies.Provider,
		store:            dependencies.Store,
		identityProvider: dependencies.IdentityProvider,
	}, nil
}

// Execute runs the migration of the container named by options.Reference. Only
// invalid input, a held lock, an unavailable root, unreadable state, or context
// cancellation are returned as errors; node and finalization failures are
// reported in the result and left for the next run.
func (service *Service) Execute(executionContext context.Context, options MigrationOptions) (result MigrationResult, executionError error) {
	sourceIdentifier, parseError := ParseReference(options.Reference)
	if parseError != nil {
		return MigrationResult{}, parseError
	}
	options, validationError := service.normalizeOptions(options)
	if validationError != nil {
		return MigrationResult{}, validationError
	}
	principal, identityError := identity.Resolve(executionContext, service.identityProvider)
	if identityError != nil {
		return MigrationResult{}, InvalidInputError{FieldName: identityFieldNameConstant, Message: identityError.Error()}
	}

	result = MigrationResult{RunIdentifier: options.RunIdentifier, SourceIdentifier: sourceIdentifier}
	logger := service.logger.With(
		zap.String(logFieldRunIdentifierConstant, options.RunIdentifier),
		zap.String(logFieldSourceIdentifierConstant, sourceIdentifier),
	)
	store := properties.NewNamespaced(service.store, sourceIdentifier)
	lock := ledger.NewRunLock(store)

	acquired, acquireError := lock.TryAcquire(executionContext, options.RunIdentifier)
	if acquireError != nil {
		return result, acquireError
	}
	if !acquired {
		holder, _, _ := lock.Holder(executionContext)
		logger.Info(migrationAlreadyRunningMessageConstant)
		return result, fmt.Errorf(alreadyRunningErrorTemplateConstant, ErrAlreadyRunning, holder)
	}
	defer func() {
		if releaseError := lock.Release(context.WithoutCancel(executionContext)); releaseError != nil {
			logger.Error(lockReleaseFailedMessageConstant, zap.Error(releaseError))
			if executionError == nil {
				executionError = fmt.Errorf(releaseErrorTemplateConstant, releaseError)
			}
		}
	}()

	flags := ledger.NewFlags(store)
	if finalized, finalizedError := service.alreadyFinalized(executionContext, flags); finalizedError != nil || finalized {
		if finalized {
			logger.Info(migrationAlreadyFinalizedMessage)
			result.AlreadyFinalized = true
			result.TraversalComplete = true
			result.Finalization = FinalizationOutcome{OriginalRetired: true, DestinationRenamed: true}
		}
		return result, finalizedError
	}

	progress, loadError := ledger.Load(executionContext, store)
	if loadError != nil {
		return result, fmt.Errorf(stateErrorTemplateConstant, loadError)
	}

	manifest, source, destination, rootError := service.prepareRoots(executionContext, logger, store, progress, sourceIdentifier, options.DestinationSuffix)
	if rootError != nil {
		return result, rootError
	}
	result.DestinationIdentifier = manifest.DestinationIdentifier
	result.SourceName = manifest.SourceName
	result.DestinationName = manifest.SourceName + options.DestinationSuffix
	logger = logger.With(zap.String(logFieldDestinationIdentifierConstant, manifest.DestinationIdentifier))
	logger.Info(migrationStartedMessageConstant, zap.String(logFieldNodeNameConstant, manifest.SourceName), zap.Int(logFieldDoneCountConstant, progress.DoneCount()))

	engine := newTraversalEngine(service.provider, progress, principal, options.MaxDepth, logger, &result)
	complete, walkError := engine.walk(executionContext, source, destination, 0)
	if walkError != nil {
		return result, walkError
	}
	result.TraversalComplete = complete
	if !complete {
		logger.Warn(traversalIncompleteMessageConstant, zap.Int(logFieldFailureCountConstant, len(result.Failures)))
		return result, nil
	}
	if options.SkipFinalization {
		logger.Info(finalizationDisabledMessageConstant)
		return result, nil
	}

	coordinator := finalizationCoordinator{provider: service.provider, flags: flags, logger: logger, result: &result}
	outcome, finalizeError := coordinator.finalize(executionContext, manifest)
	result.Finalization = outcome
	if finalizeError != nil {
		return result, finalizeError
	}

	logger.Info(
		migrationCompletedMessageConstant,
		zap.Int(logFieldDoneCountConstant, progress.DoneCount()),
		zap.Int(logFieldFailureCountConstant, len(result.Failures)),
	)
	return result, nil
}

func (service *Service) normalizeOptions(options MigrationOptions) (MigrationOptions, error) {
	normalized := options
	if len(strings.TrimSpace(normalized.RunIdentifier)) == 0 {
		normalized.RunIdentifier = uuid.NewString()
	}
	if len(normalized.DestinationSuffix) == 0 {
		normalized.DestinationSuffix = defaultDestinationSuffixConstant
	}
	if len(strings.TrimSpace(normalized.DestinationSuffix)) == 0 {
		return MigrationOptions{}, InvalidInputError{FieldName: destinationSuffixFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if normalized.MaxDepth == 0 {
		normalized.MaxDepth = defaultMaxDepthConstant
	}
	if normalized.MaxDepth < 0 {
		return MigrationOptions{}, InvalidInputError{FieldName: maxDepthFieldNameConstant, Message: positiveValueMessageConstant}
	}
	return normalized, nil
}

func (service *Service) alreadyFinalized(executionContext context.Context, flags ledger.Flags) (bool, error) {
	retired, retiredError := flags.IsSet(executionContext, ledger.FlagOriginalRetired)
	if retiredError != nil {
		return false, fmt.Errorf(stateErrorTemplateConstant, retiredError)
	}
	renamed, renamedError := flags.IsSet(executionContext, ledger.FlagDestinationRenamed)
	if renamedError != nil {
		return false, fmt.Errorf(stateErrorTemplateConstant, renamedError)
	}
	return retired && renamed, nil
}

// prepareRoots returns the manifest together with the source and destination
// roots. The first run discovers or creates the destination and saves the
// manifest; later runs reuse it. A source whose subtree is already done is not
// fetched, since it may have been retired.
func (service *Service) prepareRoots(executionContext context.Context, logger *zap.Logger, store properties.Store, progress *ledger.Ledger, sourceIdentifier string, destinationSuffix string) (ledger.Manifest, storage.Node, storage.Node, error) {
	manifest, manifestExists, manifestError := ledger.LoadManifest(executionContext, store)
	if manifestError != nil {
		return ledger.Manifest{}, storage.Node{}, storage.Node{}, fmt.Errorf(stateErrorTemplateConstant, manifestError)
	}

	if manifestExists {
		source := storage.Node{Identifier: manifest.SourceIdentifier, Name: manifest.SourceName, Kind: storage.KindContainer}
		destination := storage.Node{Identifier: manifest.DestinationIdentifier, Kind: storage.KindContainer}
		if progress.IsDone(sourceIdentifier) {
			return manifest, source, destination, nil
		}
		fetchedSource, sourceError := service.provider.ContainerByID(executionContext, manifest.SourceIdentifier)
		if sourceError != nil {
			return ledger.Manifest{}, storage.Node{}, storage.Node{}, rootUnavailable(manifest.SourceIdentifier, sourceError)
		}
		fetchedDestination, destinationError := service.provider.ContainerByID(executionContext, manifest.DestinationIdentifier)
		if destinationError != nil {
			return ledger.Manifest{}, storage.Node{}, storage.Node{}, rootUnavailable(manifest.DestinationIdentifier, destinationError)
		}
		return manifest, fetchedSource, fetchedDestination, nil
	}

	source, sourceError := service.provider.ContainerByID(executionContext, sourceIdentifier)
	if sourceError != nil {
		return ledger.Manifest{}, storage.Node{}, storage.Node{}, rootUnavailable(sourceIdentifier, sourceError)
	}
	parent, hasParent, parentError := service.provider.Parent(executionContext, source)
	if parentError != nil {
		return ledger.Manifest{}, storage.Node{}, storage.Node{}, rootUnavailable(sourceIdentifier, parentError)
	}
	if !hasParent {
		providerRoot, providerRootError := service.provider.RootContainer(executionContext)
		if providerRootError != nil {
			return ledger.Manifest{}, storage.Node{}, storage.Node{}, rootUnavailable(sourceIdentifier, providerRootError)
		}
		if providerRoot.Identifier == source.Identifier {
			return ledger.Manifest{}, storage.Node{}, storage.Node{}, InvalidInputError{FieldName: referenceFieldNameConstant, Message: providerRootMessageConstant}
		}
		parent = providerRoot
	}

	destination, destinationError := service.findOrCreateDestination(executionContext, logger, parent, source.Name+destinationSuffix)
	if destinationError != nil {
		return ledger.Manifest{}, storage.Node{}, storage.Node{}, fmt.Errorf(destinationRootErrorTemplateConstant, destinationError)
	}

	manifest = ledger.Manifest{
		SourceIdentifier:      source.Identifier,
		SourceName:            source.Name,
		DestinationIdentifier: destination.Identifier,
	}
	if hasParent {
		manifest.ParentIdentifier = parent.Identifier
	}
	if saveError := ledger.SaveManifest(context.WithoutCancel(executionContext), store, manifest); saveError != nil {
		return ledger.Manifest{}, storage.Node{}, storage.Node{}, fmt.Errorf(manifestErrorTemplateConstant, saveError)
	}
	return manifest, source, destination, nil
}

func (service *Service) findOrCreateDestination(executionContext context.Context, logger *zap.Logger, parent storage.Node, name string) (storage.Node, error) {
	existing, found, findError := service.provider.FindContainerByName(executionContext, parent, name)
	if findError != nil {
		return storage.Node{}, findError
	}
	if found {
		logger.Info(destinationRootFoundMessageConstant, zap.String(logFieldNameConstant, name), zap.String(logFieldDestinationIdentifierConstant, existing.Identifier))
		return existing, nil
	}
	created, createError := service.provider.CreateContainer(executionContext, parent, name)
	if createError != nil {
		return storage.Node{}, createError
	}
	logger.Info(destinationRootCreatedMessageConstant, zap.String(logFieldNameConstant, name), zap.String(logFieldDestinationIdentifierConstant, created.Identifier))
	return created, nil
}

func rootUnavailable(identifier string, cause error) error {
	return fmt.Errorf(rootUnavailableErrorTemplateConstant, ErrRootUnavailable, identifier, cause)
}
