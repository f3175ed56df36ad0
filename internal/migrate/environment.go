package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/temirov/drivemigrate/internal/properties"
	"github.com/temirov/drivemigrate/internal/storage"
	"github.com/temirov/drivemigrate/internal/storage/localfs"
	"github.com/temirov/drivemigrate/internal/storage/memory"
)

const (
	unknownProviderErrorTemplateConstant = "unknown storage provider %q"
	treeRequiredMessageConstant          = "memory provider requires migration.memory.tree"
	openTreeErrorTemplateConstant        = "unable to open tree manifest %s: %w"
	persistTreeErrorTemplateConstant     = "unable to persist tree manifest %s: %w"
	localProviderErrorTemplateConstant   = "unable to open filesystem provider: %w"
	temporaryTreeSuffixConstant          = ".tmp"
	treeFilePermissionsConstant          = 0o644
)

// ClosableStore is a property store holding resources until closed.
type ClosableStore interface {
	properties.Store
	Close() error
}

// StoreOpener opens the durable property store at path.
type StoreOpener func(executionContext context.Context, path string, logger *zap.Logger) (ClosableStore, error)

// StorageProviderFactory builds the storage provider described by configuration.
// The returned function persists provider state, if any, and may be nil.
type StorageProviderFactory func(configuration CommandConfiguration, logger *zap.Logger) (storage.Provider, func() error, error)

func openSQLiteStore(executionContext context.Context, path string, logger *zap.Logger) (ClosableStore, error) {
	return properties.OpenSQLiteStore(executionContext, path, logger)
}

// NewStorageProvider builds the filesystem provider or the YAML-backed memory provider.
func NewStorageProvider(configuration CommandConfiguration, logger *zap.Logger) (storage.Provider, func() error, error) {
	switch configuration.Provider {
	case ProviderLocalFilesystem:
		provider, providerError := localfs.NewProvider(localfs.Options{
			Root:                 configuration.LocalFilesystem.Root,
			RetiredDirectoryName: configuration.LocalFilesystem.RetiredDirectory,
			DefaultDomain:        configuration.LocalFilesystem.DefaultDomain,
			Owners:               configuration.LocalFilesystem.Owners,
			Logger:               logger,
		})
		if providerError != nil {
			return nil, nil, fmt.Errorf(localProviderErrorTemplateConstant, providerError)
		}
		return provider, nil, nil
	case ProviderMemory:
		treePath := configuration.Memory.Tree
		if len(treePath) == 0 {
			return nil, nil, errors.New(treeRequiredMessageConstant)
		}
		provider, loadError := loadTree(treePath)
		if loadError != nil {
			return nil, nil, loadError
		}
		return provider, func() error { return saveTree(treePath, provider) }, nil
	default:
		return nil, nil, fmt.Errorf(unknownProviderErrorTemplateConstant, configuration.Provider)
	}
}

func loadTree(treePath string) (*memory.Provider, error) {
	treeFile, openError := os.Open(treePath)
	if openError != nil {
		return nil, fmt.Errorf(openTreeErrorTemplateConstant, treePath, openError)
	}
	defer treeFile.Close()

	provider, loadError := memory.LoadManifest(treeFile)
	if loadError != nil {
		return nil, fmt.Errorf(openTreeErrorTemplateConstant, treePath, loadError)
	}
	return provider, nil
}

// saveTree replaces the tree file atomically.
func saveTree(treePath string, provider *memory.Provider) error {
	temporaryPath := treePath + temporaryTreeSuffixConstant
	treeFile, createError := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, treeFilePermissionsConstant)
	if createError != nil {
		return fmt.Errorf(persistTreeErrorTemplateConstant, treePath, createError)
	}
	if writeError := provider.WriteManifest(treeFile); writeError != nil {
		treeFile.Close()
		return fmt.Errorf(persistTreeErrorTemplateConstant, treePath, writeError)
	}
	if closeError := treeFile.Close(); closeError != nil {
		return fmt.Errorf(persistTreeErrorTemplateConstant, treePath, closeError)
	}
	if renameError := os.Rename(temporaryPath, treePath); renameError != nil {
		return fmt.Errorf(persistTreeErrorTemplateConstant, treePath, renameError)
	}
	return nil
}
