// Package shortcut dereferences indirection nodes to the nodes they point at.
package shortcut

import (
	"context"
	"errors"
	"fmt"

	"github.com/temirov/drivemigrate/internal/storage"
)

const (
	notIndirectionErrorTemplateConstant    = "%w: %s"
	targetUnavailableErrorTemplateConstant = "%w: %s"
	resolveTargetErrorTemplateConstant     = "unable to resolve target %s of %s: %w"
)

var (
	// ErrNotIndirection reports a node that is not a shortcut.
	ErrNotIndirection = errors.New("node is not an indirection")
	// ErrTargetUnavailable reports a shortcut without a resolvable target.
	ErrTargetUnavailable = errors.New("indirection target unavailable")
)

// Resolver fetches the real node behind an indirection.
type Resolver struct {
	provider storage.Provider
}

// NewResolver constructs a Resolver over provider.
func NewResolver(provider storage.Provider) Resolver {
	return Resolver{provider: provider}
}

// Resolve returns the target of indirection. Container targets are fetched as
// containers; every other target kind is fetched as a leaf.
func (resolver Resolver) Resolve(executionContext context.Context, indirection storage.Node) (storage.Node, error) {
	if !indirection.IsIndirection() {
		return storage.Node{}, fmt.Errorf(notIndirectionErrorTemplateConstant, ErrNotIndirection, indirection.Identifier)
	}
	if len(indirection.TargetIdentifier) == 0 {
		return storage.Node{}, fmt.Errorf(targetUnavailableErrorTemplateConstant, ErrTargetUnavailable, indirection.Identifier)
	}

	var (
		target      storage.Node
		lookupError error
	)
	if indirection.TargetKind == storage.KindContainer {
		target, lookupError = resolver.provider.ContainerByID(executionContext, indirection.TargetIdentifier)
	} else {
		target, lookupError = resolver.provider.LeafByID(executionContext, indirection.TargetIdentifier)
	}
	if lookupError != nil {
		return storage.Node{}, fmt.Errorf(resolveTargetErrorTemplateConstant, indirection.TargetIdentifier, indirection.Identifier, lookupError)
	}
	return target, nil
}
