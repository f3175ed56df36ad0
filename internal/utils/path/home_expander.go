// Package pathutils normalizes user-supplied filesystem paths such as the state database and the local drive root.
package pathutils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const homeShortcutConstant = "~"

// HomeDirectoryProvider resolves the current user's home directory path.
type HomeDirectoryProvider func() (string, error)

// HomeExpander replaces a leading "~" with the current user's home directory.
// The directory is looked up once, on first use.
type HomeExpander struct {
	homeDirectory func() (string, error)
}

// NewHomeExpander constructs a HomeExpander using the operating system lookup.
func NewHomeExpander() *HomeExpander {
	return NewHomeExpanderWithProvider(os.UserHomeDir)
}

// NewHomeExpanderWithProvider constructs a HomeExpander with a custom provider.
func NewHomeExpanderWithProvider(provider HomeDirectoryProvider) *HomeExpander {
	if provider == nil {
		provider = os.UserHomeDir
	}
	return &HomeExpander{homeDirectory: sync.OnceValues(provider)}
}

// Expand resolves "~" and "~/..." paths. Other paths, "~user" forms, and
// paths whose home lookup fails are returned unchanged.
func (expander *HomeExpander) Expand(candidatePath string) string {
	if expander == nil {
		return candidatePath
	}
	remainder, hasShortcut := strings.CutPrefix(candidatePath, homeShortcutConstant)
	if !hasShortcut {
		return candidatePath
	}
	if len(remainder) > 0 && remainder[0] != '/' && !os.IsPathSeparator(remainder[0]) {
		return candidatePath
	}

	homeDirectory, lookupError := expander.homeDirectory()
	if lookupError != nil || len(homeDirectory) == 0 {
		return candidatePath
	}
	return filepath.Join(homeDirectory, remainder)
}

// Resolve trims and expands candidatePath and makes it absolute. Blank input resolves to "".
func (expander *HomeExpander) Resolve(candidatePath string) (string, error) {
	trimmedPath := strings.TrimSpace(candidatePath)
	if len(trimmedPath) == 0 {
		return "", nil
	}
	return filepath.Abs(expander.Expand(trimmedPath))
}
