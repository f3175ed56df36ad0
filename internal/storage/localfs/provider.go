// Package localfs implements storage.Provider over a directory tree on the local
// filesystem. Directories are containers, regular files are leaves and symbolic
// links are indirection nodes. Node identifiers survive renames, so a migration
// can resume after nodes have moved.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/storage"
)

const (
	defaultRetiredDirectoryNameConstant = ".retired"
	referenceSchemeConstant             = "file://"
	retiredNameTemplateConstant         = "%s-%s"
	ownerTemplateConstant               = "%s@%s"

	missingRootErrorMessageConstant       = "filesystem root must be provided"
	rootNotDirectoryErrorTemplateConstant = "filesystem root %s is not a directory"
	resolveRootErrorTemplateConstant      = "unable to resolve filesystem root %s: %w"
	nodeErrorTemplateConstant             = "%w: %s"
	pathErrorTemplateConstant             = "%s %s: %w"
	listOperationNameConstant             = "list"
	createOperationNameConstant           = "create"
	moveOperationNameConstant             = "move"
	copyOperationNameConstant             = "copy"
	retireOperationNameConstant           = "retire"
	renameOperationNameConstant           = "rename"
	indexRebuildMessageConstant           = "Rebuilding filesystem identifier index"
	brokenIndirectionMessageConstant      = "Indirection target unavailable"
	logFieldPathConstant                  = "path"
	logFieldIdentifierConstant            = "node_id"
	retiredDirectoryPermissionsConstant   = 0o755
	createdContainerPermissionsConstant   = 0o755
	copiedLeafFlagsConstant               = os.O_WRONLY | os.O_CREATE | os.O_EXCL
)

// Options configures a Provider.
type Options struct {
	Root                 string
	RetiredDirectoryName string
	DefaultDomain        string
	Owners               map[string]string
	Logger               *zap.Logger
}

// Provider is a filesystem-backed storage provider.
type Provider struct {
	rootPath             string
	retiredDirectoryName string
	defaultDomain        string
	owners               map[string]string
	logger               *zap.Logger

	mutex sync.Mutex
	paths map[string]string
}

// NewProvider validates options and constructs a Provider.
func NewProvider(options Options) (*Provider, error) {
	if len(strings.TrimSpace(options.Root)) == 0 {
		return nil, errors.New(missingRootErrorMessageConstant)
	}
	rootPath, absoluteError := filepath.Abs(options.Root)
	if absoluteError != nil {
		return nil, fmt.Errorf(resolveRootErrorTemplateConstant, options.Root, absoluteError)
	}
	if evaluatedPath, evaluateError := filepath.EvalSymlinks(rootPath); evaluateError == nil {
		rootPath = evaluatedPath
	}
	rootInfo, statError := os.Stat(rootPath)
	if statError != nil {
		return nil, fmt.Errorf(resolveRootErrorTemplateConstant, rootPath, statError)
	}
	if !rootInfo.IsDir() {
		return nil, fmt.Errorf(rootNotDirectoryErrorTemplateConstant, rootPath)
	}

	retiredDirectoryName := options.RetiredDirectoryName
	if len(retiredDirectoryName) == 0 {
		retiredDirectoryName = defaultRetiredDirectoryNameConstant
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		rootPath:             rootPath,
		retiredDirectoryName: retiredDirectoryName,
		defaultDomain:        options.DefaultDomain,
		owners:               options.Owners,
		logger:               logger,
		paths:                map[string]string{},
	}, nil
}

// ContainerByID returns the directory with identifier.
func (provider *Provider) ContainerByID(_ context.Context, identifier string) (storage.Node, error) {
	node, _, resolveError := provider.resolve(identifier)
	if resolveError != nil {
		return storage.Node{}, resolveError
	}
	if !node.IsContainer() {
		return storage.Node{}, fmt.Errorf(nodeErrorTemplateConstant, storage.ErrNotContainer, identifier)
	}
	return node, nil
}

// LeafByID returns the file or symbolic link with identifier.
func (provider *Provider) LeafByID(_ context.Context, identifier string) (storage.Node, error) {
	node, _, resolveError := provider.resolve(identifier)
	if resolveError != nil {
		return storage.Node{}, resolveError
	}
	if node.IsContainer() {
		return storage.Node{}, fmt.Errorf(nodeErrorTemplateConstant, storage.ErrNotFound, identifier)
	}
	return node, nil
}

// RootContainer returns the configured root directory.
func (provider *Provider) RootContainer(context.Context) (storage.Node, error) {
	return provider.describe(provider.rootPath)
}

// Parent returns the directory holding container, false for the root.
func (provider *Provider) Parent(_ context.Context, container storage.Node) (storage.Node, bool, error) {
	containerPath, resolveError := provider.pathOf(container)
	if resolveError != nil {
		return storage.Node{}, false, resolveError
	}
	if containerPath == provider.rootPath || !provider.withinRoot(containerPath) {
		return storage.Node{}, false, nil
	}
	parent, describeError := provider.describe(filepath.Dir(containerPath))
	if describeError != nil {
		return storage.Node{}, false, describeError
	}
	return parent, true, nil
}

// ListLeaves returns the files and symbolic links directly inside container, sorted by name.
func (provider *Provider) ListLeaves(_ context.Context, container storage.Node) ([]storage.Node, error) {
	return provider.list(container, func(node storage.Node) bool { return !node.IsContainer() })
}

// ListContainers returns the directories directly inside container, sorted by name.
// The retired directory is never listed.
func (provider *Provider) ListContainers(_ context.Context, container storage.Node) ([]storage.Node, error) {
	return provider.list(container, storage.Node.IsContainer)
}

// FindContainerByName returns the directory name inside parent.
func (provider *Provider) FindContainerByName(_ context.Context, parent storage.Node, name string) (storage.Node, bool, error) {
	return provider.findChild(parent, name, storage.Node.IsContainer)
}

// FindLeafByName returns the file or symbolic link name inside parent.
func (provider *Provider) FindLeafByName(_ context.Context, parent storage.Node, name string) (storage.Node, bool, error) {
	return provider.findChild(parent, name, func(node storage.Node) bool { return !node.IsContainer() })
}

// Owner maps the owning account to an email-like identity: an explicit owners
// entry wins, otherwise the account name is joined with the default domain.
func (provider *Provider) Owner(_ context.Context, node storage.Node) (string, error) {
	nodePath, resolveError := provider.pathOf(node)
	if resolveError != nil {
		return "", resolveError
	}
	info, statError := os.Lstat(nodePath)
	if statError != nil {
		return "", provider.translate(statError, node.Identifier)
	}
	userIdentifier, supported := fileOwnerUserIdentifier(info)
	if !supported {
		return "", fmt.Errorf(nodeErrorTemplateConstant, storage.ErrOwnerUnknown, node.Identifier)
	}

	accountName := userIdentifier
	if account, lookupError := user.LookupId(userIdentifier); lookupError == nil {
		accountName = account.Username
	}
	if mapped, exists := provider.owners[accountName]; exists {
		return mapped, nil
	}
	if len(provider.defaultDomain) == 0 {
		return "", fmt.Errorf(nodeErrorTemplateConstant, storage.ErrOwnerUnknown, node.Identifier)
	}
	return fmt.Sprintf(ownerTemplateConstant, accountName, provider.defaultDomain), nil
}

// CreateContainer creates the directory name inside parent.
func (provider *Provider) CreateContainer(_ context.Context, parent storage.Node, name string) (storage.Node, error) {
	parentPath, resolveError := provider.pathOf(parent)
	if resolveError != nil {
		return storage.Node{}, resolveError
	}
	containerPath := filepath.Join(parentPath, name)
	if mkdirError := os.Mkdir(containerPath, createdContainerPermissionsConstant); mkdirError != nil {
		return storage.Node{}, provider.operationError(createOperationNameConstant, containerPath, mkdirError)
	}
	return provider.describe(containerPath)
}

// MoveLeaf renames leaf into newParent, keeping its name.
func (provider *Provider) MoveLeaf(_ context.Context, leaf storage.Node, newParent storage.Node) error {
	return provider.move(leaf, newParent)
}

// MoveContainer renames container, with its contents, into newParent.
func (provider *Provider) MoveContainer(_ context.Context, container storage.Node, newParent storage.Node) error {
	return provider.move(container, newParent)
}

// CopyLeaf copies the file contents of leaf into destination under name.
// Copies of symbolic links copy the link itself.
func (provider *Provider) CopyLeaf(_ context.Context, leaf storage.Node, name string, destination storage.Node) (storage.Node, error) {
	sourcePath, resolveError := provider.pathOf(leaf)
	if resolveError != nil {
		return storage.Node{}, resolveError
	}
	destinationDirectory, resolveError := provider.pathOf(destination)
	if resolveError != nil {
		return storage.Node{}, resolveError
	}
	destinationPath := filepath.Join(destinationDirectory, name)

	info, statError := os.Lstat(sourcePath)
	if statError != nil {
		return storage.Node{}, provider.translate(statError, leaf.Identifier)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		linkTarget, readError := os.Readlink(sourcePath)
		if readError != nil {
			return storage.Node{}, provider.operationError(copyOperationNameConstant, sourcePath, readError)
		}
		if linkError := os.Symlink(linkTarget, destinationPath); linkError != nil {
			return storage.Node{}, provider.operationError(copyOperationNameConstant, destinationPath, linkError)
		}
		return provider.describe(destinationPath)
	}

	if copyError := copyFileContents(sourcePath, destinationPath, info.Mode().Perm()); copyError != nil {
		return storage.Node{}, provider.operationError(copyOperationNameConstant, destinationPath, copyError)
	}
	return provider.describe(destinationPath)
}

// RemoveContainer retires child by moving it into the retired directory under
// the root. Nothing is deleted.
func (provider *Provider) RemoveContainer(_ context.Context, parent storage.Node, child storage.Node) error {
	parentPath, resolveError := provider.pathOf(parent)
	if resolveError != nil {
		return resolveError
	}
	childPath, resolveError := provider.pathOf(child)
	if resolveError != nil {
		return resolveError
	}
	if filepath.Dir(childPath) != parentPath {
		return fmt.Errorf(nodeErrorTemplateConstant, storage.ErrNotFound, child.Identifier)
	}

	retiredDirectory := filepath.Join(provider.rootPath, provider.retiredDirectoryName)
	if mkdirError := os.MkdirAll(retiredDirectory, retiredDirectoryPermissionsConstant); mkdirError != nil {
		return provider.operationError(retireOperationNameConstant, retiredDirectory, mkdirError)
	}
	retiredPath := filepath.Join(retiredDirectory, fmt.Sprintf(retiredNameTemplateConstant, filepath.Base(childPath), child.Identifier))
	return provider.rename(retireOperationNameConstant, child.Identifier, childPath, retiredPath)
}

// RenameContainer renames container within its directory.
func (provider *Provider) RenameContainer(_ context.Context, container storage.Node, name string) error {
	containerPath, resolveError := provider.pathOf(container)
	if resolveError != nil {
		return resolveError
	}
	return provider.rename(renameOperationNameConstant, container.Identifier, containerPath, filepath.Join(filepath.Dir(containerPath), name))
}

// Reference returns a file:// reference to node.
func (provider *Provider) Reference(node storage.Node) string {
	nodePath, resolveError := provider.pathOf(node)
	if resolveError != nil {
		return node.Identifier
	}
	return referenceSchemeConstant + filepath.ToSlash(nodePath)
}

func (provider *Provider) move(node storage.Node, newParent storage.Node) error {
	sourcePath, resolveError := provider.pathOf(node)
	if resolveError != nil {
		return resolveError
	}
	destinationDirectory, resolveError := provider.pathOf(newParent)
	if resolveError != nil {
		return resolveError
	}
	return provider.rename(moveOperationNameConstant, node.Identifier, sourcePath, filepath.Join(destinationDirectory, filepath.Base(sourcePath)))
}

// rename refuses to replace an existing entry, which os.Rename would silently do for files.
func (provider *Provider) rename(operationName string, identifier string, sourcePath string, destinationPath string) error {
	if _, statError := os.Lstat(destinationPath); statError == nil {
		return provider.operationError(operationName, destinationPath, fs.ErrExist)
	}
	if renameError := os.Rename(sourcePath, destinationPath); renameError != nil {
		return provider.operationError(operationName, sourcePath, renameError)
	}
	provider.remember(identifier, destinationPath)
	return nil
}

func (provider *Provider) list(container storage.Node, keep func(storage.Node) bool) ([]storage.Node, error) {
	containerPath, resolveError := provider.pathOf(container)
	if resolveError != nil {
		return nil, resolveError
	}
	entries, readError := os.ReadDir(containerPath)
	if readError != nil {
		return nil, provider.operationError(listOperationNameConstant, containerPath, readError)
	}

	children := make([]storage.Node, 0, len(entries))
	for _, directoryEntry := range entries {
		childPath := filepath.Join(containerPath, directoryEntry.Name())
		if provider.isRetiredDirectory(childPath) {
			continue
		}
		child, describeError := provider.describe(childPath)
		if describeError != nil {
			return nil, describeError
		}
		if keep(child) {
			children = append(children, child)
		}
	}
	return children, nil
}

func (provider *Provider) findChild(parent storage.Node, name string, keep func(storage.Node) bool) (storage.Node, bool, error) {
	parentPath, resolveError := provider.pathOf(parent)
	if resolveError != nil {
		return storage.Node{}, false, resolveError
	}
	childPath := filepath.Join(parentPath, name)
	if provider.isRetiredDirectory(childPath) {
		return storage.Node{}, false, nil
	}
	child, describeError := provider.describe(childPath)
	if describeError != nil {
		if errors.Is(describeError, storage.ErrNotFound) {
			return storage.Node{}, false, nil
		}
		return storage.Node{}, false, describeError
	}
	if !keep(child) {
		return storage.Node{}, false, nil
	}
	return child, true, nil
}

// describe builds the node at nodePath and records it in the identifier index.
func (provider *Provider) describe(nodePath string) (storage.Node, error) {
	info, statError := os.Lstat(nodePath)
	if statError != nil {
		return storage.Node{}, provider.translate(statError, nodePath)
	}
	node := storage.Node{
		Identifier: provider.identifierFor(nodePath, info),
		Name:       info.Name(),
		Kind:       kindOf(info),
	}
	if nodePath == provider.rootPath {
		node.Name = filepath.Base(provider.rootPath)
	}

	if node.IsIndirection() {
		targetPath, targetInfo, targetError := provider.followLink(nodePath)
		if targetError != nil {
			provider.logger.Debug(brokenIndirectionMessageConstant, zap.String(logFieldPathConstant, nodePath), zap.Error(targetError))
		} else {
			node.TargetIdentifier = provider.identifierFor(targetPath, targetInfo)
			node.TargetKind = kindOf(targetInfo)
			provider.remember(node.TargetIdentifier, targetPath)
		}
	}

	provider.remember(node.Identifier, nodePath)
	return node, nil
}

func (provider *Provider) followLink(linkPath string) (string, fs.FileInfo, error) {
	targetPath, evaluateError := filepath.EvalSymlinks(linkPath)
	if evaluateError != nil {
		return "", nil, evaluateError
	}
	targetInfo, statError := os.Lstat(targetPath)
	if statError != nil {
		return "", nil, statError
	}
	return targetPath, targetInfo, nil
}

func (provider *Provider) identifierFor(nodePath string, info fs.FileInfo) string {
	if identifier, supported := fileIdentifier(info); supported {
		return identifier
	}
	relativePath, relativeError := filepath.Rel(provider.rootPath, nodePath)
	if relativeError != nil {
		return filepath.ToSlash(nodePath)
	}
	return filepath.ToSlash(relativePath)
}

func (provider *Provider) pathOf(node storage.Node) (string, error) {
	_, nodePath, resolveError := provider.resolve(node.Identifier)
	return nodePath, resolveError
}

// resolve maps identifier to its current path. A stale or missing index entry
// triggers a walk of the root, retired directory included.
func (provider *Provider) resolve(identifier string) (storage.Node, string, error) {
	if cachedPath, exists := provider.cachedPath(identifier); exists {
		if node, describeError := provider.describe(cachedPath); describeError == nil && node.Identifier == identifier {
			return node, cachedPath, nil
		}
	}

	provider.logger.Debug(indexRebuildMessageConstant, zap.String(logFieldIdentifierConstant, identifier))
	var foundPath string
	walkError := filepath.WalkDir(provider.rootPath, func(walkedPath string, directoryEntry fs.DirEntry, entryError error) error {
		if entryError != nil {
			return nil
		}
		info, infoError := directoryEntry.Info()
		if infoError != nil {
			return nil
		}
		walkedIdentifier := provider.identifierFor(walkedPath, info)
		provider.remember(walkedIdentifier, walkedPath)
		if walkedIdentifier == identifier {
			foundPath = walkedPath
			return fs.SkipAll
		}
		return nil
	})
	if walkError != nil {
		return storage.Node{}, "", provider.operationError(listOperationNameConstant, provider.rootPath, walkError)
	}
	if len(foundPath) == 0 {
		return storage.Node{}, "", fmt.Errorf(nodeErrorTemplateConstant, storage.ErrNotFound, identifier)
	}
	node, describeError := provider.describe(foundPath)
	if describeError != nil {
		return storage.Node{}, "", describeError
	}
	return node, foundPath, nil
}

func (provider *Provider) cachedPath(identifier string) (string, bool) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	cachedPath, exists := provider.paths[identifier]
	return cachedPath, exists
}

func (provider *Provider) remember(identifier string, nodePath string) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.paths[identifier] = nodePath
}

func (provider *Provider) withinRoot(nodePath string) bool {
	relativePath, relativeError := filepath.Rel(provider.rootPath, nodePath)
	return relativeError == nil && relativePath != ".." && !strings.HasPrefix(relativePath, ".."+string(filepath.Separator))
}

func (provider *Provider) isRetiredDirectory(nodePath string) bool {
	return nodePath == filepath.Join(provider.rootPath, provider.retiredDirectoryName)
}

func (provider *Provider) translate(underlying error, subject string) error {
	if errors.Is(underlying, fs.ErrNotExist) {
		return fmt.Errorf(nodeErrorTemplateConstant, storage.ErrNotFound, subject)
	}
	return underlying
}

func (provider *Provider) operationError(operationName string, subject string, underlying error) error {
	switch {
	case errors.Is(underlying, fs.ErrExist):
		return fmt.Errorf(pathErrorTemplateConstant, operationName, subject, errors.Join(storage.ErrNameConflict, underlying))
	case errors.Is(underlying, fs.ErrNotExist):
		return fmt.Errorf(pathErrorTemplateConstant, operationName, subject, errors.Join(storage.ErrNotFound, underlying))
	default:
		return fmt.Errorf(pathErrorTemplateConstant, operationName, subject, underlying)
	}
}

func kindOf(info fs.FileInfo) storage.Kind {
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return storage.KindIndirection
	case info.IsDir():
		return storage.KindContainer
	default:
		return storage.KindLeaf
	}
}

func copyFileContents(sourcePath string, destinationPath string, permissions fs.FileMode) (copyError error) {
	sourceFile, openError := os.Open(sourcePath)
	if openError != nil {
		return openError
	}
	defer sourceFile.Close()

	destinationFile, createError := os.OpenFile(destinationPath, copiedLeafFlagsConstant, permissions)
	if createError != nil {
		return createError
	}
	defer func() {
		if closeError := destinationFile.Close(); closeError != nil && copyError == nil {
			copyError = closeError
		}
	}()

	if _, copyError = io.Copy(destinationFile, sourceFile); copyError != nil {
		return copyError
	}
	return destinationFile.Sync()
}
