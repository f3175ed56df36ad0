package migrate

import (
	"strings"

	pathutils "github.com/temirov/drivemigrate/internal/utils/path"
)

// Storage provider names accepted in configuration.
const (
	ProviderLocalFilesystem = "localfs"
	ProviderMemory          = "memory"
)

var migrateConfigurationHomeExpander = pathutils.NewHomeExpander()

// LocalFilesystemConfiguration configures the filesystem provider.
type LocalFilesystemConfiguration struct {
	Root             string            `mapstructure:"root"`
	RetiredDirectory string            `mapstructure:"retired_directory"`
	DefaultDomain    string            `mapstructure:"default_domain"`
	Owners           map[string]string `mapstructure:"owners"`
}

// MemoryConfiguration configures the in-memory provider backed by a YAML tree file.
type MemoryConfiguration struct {
	Tree string `mapstructure:"tree"`
}

// CommandConfiguration captures persisted configuration for migration commands.
type CommandConfiguration struct {
	ActingIdentity    string                       `mapstructure:"acting_identity"`
	StateDatabase     string                       `mapstructure:"state_database"`
	Provider          string                       `mapstructure:"provider"`
	LocalFilesystem   LocalFilesystemConfiguration `mapstructure:"localfs"`
	Memory            MemoryConfiguration          `mapstructure:"memory"`
	DestinationSuffix string                       `mapstructure:"destination_suffix"`
	MaxDepth          int                          `mapstructure:"max_depth"`
	Finalize          bool                         `mapstructure:"finalize"`
}

// DefaultCommandConfiguration returns baseline configuration values for migration.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		StateDatabase:     "~/.drivemigrate/state.db",
		Provider:          ProviderLocalFilesystem,
		LocalFilesystem:   LocalFilesystemConfiguration{RetiredDirectory: ".retired"},
		DestinationSuffix: defaultDestinationSuffixConstant,
		MaxDepth:          defaultMaxDepthConstant,
		Finalize:          true,
	}
}

// Sanitize trims configured values, expands home-relative paths, and fills empty values with defaults.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	defaults := DefaultCommandConfiguration()
	sanitized := configuration

	sanitized.ActingIdentity = strings.TrimSpace(configuration.ActingIdentity)
	sanitized.Provider = strings.ToLower(strings.TrimSpace(configuration.Provider))
	if len(sanitized.Provider) == 0 {
		sanitized.Provider = defaults.Provider
	}

	sanitized.StateDatabase = strings.TrimSpace(configuration.StateDatabase)
	if len(sanitized.StateDatabase) == 0 {
		sanitized.StateDatabase = defaults.StateDatabase
	}
	sanitized.StateDatabase = resolveConfiguredPath(sanitized.StateDatabase)

	sanitized.LocalFilesystem.Root = resolveConfiguredPath(configuration.LocalFilesystem.Root)
	sanitized.LocalFilesystem.RetiredDirectory = strings.TrimSpace(configuration.LocalFilesystem.RetiredDirectory)
	if len(sanitized.LocalFilesystem.RetiredDirectory) == 0 {
		sanitized.LocalFilesystem.RetiredDirectory = defaults.LocalFilesystem.RetiredDirectory
	}
	sanitized.LocalFilesystem.DefaultDomain = strings.TrimSpace(configuration.LocalFilesystem.DefaultDomain)
	sanitized.Memory.Tree = resolveConfiguredPath(configuration.Memory.Tree)

	if len(sanitized.DestinationSuffix) == 0 {
		sanitized.DestinationSuffix = defaults.DestinationSuffix
	}
	if sanitized.MaxDepth <= 0 {
		sanitized.MaxDepth = defaults.MaxDepth
	}
	return sanitized
}

// resolveConfiguredPath makes a configured path absolute, keeping the expanded
// form when the working directory cannot be determined.
func resolveConfiguredPath(configuredPath string) string {
	resolvedPath, resolveError := migrateConfigurationHomeExpander.Resolve(configuredPath)
	if resolveError != nil {
		return migrateConfigurationHomeExpander.Expand(strings.TrimSpace(configuredPath))
	}
	return resolvedPath
}
