// Package storage describes the hierarchical storage graph a migration walks:
// containers that hold leaves and other containers, and indirection nodes
// that point elsewhere in the graph.
package storage

import (
	"context"
	"errors"
)

// Kind classifies a node.
type Kind string

// Node kinds.
const (
	KindContainer   Kind = "container"
	KindLeaf        Kind = "leaf"
	KindIndirection Kind = "indirection"
)

var (
	// ErrNotFound reports a node identifier the provider does not know.
	ErrNotFound = errors.New("node not found")
	// ErrNameConflict reports a destination that already holds a node with the requested name.
	ErrNameConflict = errors.New("name already taken in destination")
	// ErrOwnerUnknown reports a node whose owner cannot be determined.
	ErrOwnerUnknown = errors.New("node owner unknown")
	// ErrNotContainer reports a container operation applied to another kind of node.
	ErrNotContainer = errors.New("node is not a container")
)

// Node is a container, leaf, or indirection node in the storage graph.
// TargetIdentifier and TargetKind are set only for indirection nodes.
type Node struct {
	Identifier       string
	Name             string
	Kind             Kind
	TargetIdentifier string
	TargetKind       Kind
}

// IsContainer reports whether the node holds children.
func (node Node) IsContainer() bool {
	return node.Kind == KindContainer
}

// IsIndirection reports whether the node is a shortcut to another node.
func (node Node) IsIndirection() bool {
	return node.Kind == KindIndirection
}

// Provider is the storage contract the migration engine depends on.
// Every method may fail with a provider error.
type Provider interface {
	ContainerByID(executionContext context.Context, identifier string) (Node, error)
	LeafByID(executionContext context.Context, identifier string) (Node, error)
	RootContainer(executionContext context.Context) (Node, error)
	Parent(executionContext context.Context, container Node) (Node, bool, error)

	ListLeaves(executionContext context.Context, container Node) ([]Node, error)
	ListContainers(executionContext context.Context, container Node) ([]Node, error)
	FindContainerByName(executionContext context.Context, parent Node, name string) (Node, bool, error)
	FindLeafByName(executionContext context.Context, parent Node, name string) (Node, bool, error)

	Owner(executionContext context.Context, node Node) (string, error)

	CreateContainer(executionContext context.Context, parent Node, name string) (Node, error)
	MoveLeaf(executionContext context.Context, leaf Node, newParent Node) error
	MoveContainer(executionContext context.Context, container Node, newParent Node) error
	CopyLeaf(executionContext context.Context, leaf Node, name string, destination Node) (Node, error)
	RemoveContainer(executionContext context.Context, parent Node, child Node) error
	RenameContainer(executionContext context.Context, container Node, name string) error
}

// Referencer builds a human-usable reference (URL, path) for manual inspection of a node.
type Referencer interface {
	Reference(node Node) string
}

// Reference returns the provider's reference for node, or its identifier when the provider has none.
func Reference(provider Provider, node Node) string {
	if referencer, supported := provider.(Referencer); supported {
		return referencer.Reference(node)
	}
	return node.Identifier
}
