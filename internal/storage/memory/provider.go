// Package memory implements storage.Provider over an in-process tree. It backs
// the simulate command and the engine tests, recording every mutating call.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/temirov/drivemigrate/internal/storage"
)

// Operation names recorded in Calls.
const (
	OperationCreateContainer = "create_container"
	OperationMoveLeaf        = "move_leaf"
	OperationMoveContainer   = "move_container"
	OperationCopyLeaf        = "copy_leaf"
	OperationRemoveContainer = "remove_container"
	OperationRenameContainer = "rename_container"
	OperationListLeaves      = "list_leaves"
	OperationListContainers  = "list_containers"
	OperationOwner           = "owner"
)

const (
	createdIdentifierTemplateConstant = "%s-%d"
	createdIdentifierPrefixConstant   = "created"
	referenceTemplateConstant         = "memory://%s"
	unknownNodeErrorTemplateConstant  = "%w: %s"
)

// Call records one provider invocation.
type Call struct {
	Operation        string
	NodeIdentifier   string
	TargetIdentifier string
	Name             string
}

// FailureInjector returns a non-nil error to make a call fail before it takes effect.
type FailureInjector func(operation string, nodeIdentifier string) error

type entry struct {
	node             storage.Node
	owner            string
	parentIdentifier string
	children         []string
}

// Provider is an in-memory storage graph.
type Provider struct {
	mutex           sync.Mutex
	entries         map[string]*entry
	rootIdentifier  string
	creatorIdentity string
	createdSequence int
	calls           []Call
	failureInjector FailureInjector
}

// NewProvider constructs a provider whose root container has the given identifier and name.
// Nodes created by the provider (containers, copies) are owned by creatorIdentity.
func NewProvider(rootIdentifier string, rootName string, creatorIdentity string) *Provider {
	provider := &Provider{
		entries:         map[string]*entry{},
		rootIdentifier:  rootIdentifier,
		creatorIdentity: creatorIdentity,
	}
	provider.entries[rootIdentifier] = &entry{
		node:  storage.Node{Identifier: rootIdentifier, Name: rootName, Kind: storage.KindContainer},
		owner: creatorIdentity,
	}
	return provider
}

// AddContainer adds a container under parentIdentifier.
func (provider *Provider) AddContainer(parentIdentifier string, identifier string, name string, owner string) {
	provider.add(parentIdentifier, storage.Node{Identifier: identifier, Name: name, Kind: storage.KindContainer}, owner)
}

// AddLeaf adds a leaf under parentIdentifier.
func (provider *Provider) AddLeaf(parentIdentifier string, identifier string, name string, owner string) {
	provider.add(parentIdentifier, storage.Node{Identifier: identifier, Name: name, Kind: storage.KindLeaf}, owner)
}

// AddIndirection adds a shortcut under parentIdentifier pointing at targetIdentifier of targetKind.
func (provider *Provider) AddIndirection(parentIdentifier string, identifier string, name string, owner string, targetIdentifier string, targetKind storage.Kind) {
	provider.add(parentIdentifier, storage.Node{
		Identifier:       identifier,
		Name:             name,
		Kind:             storage.KindIndirection,
		TargetIdentifier: targetIdentifier,
		TargetKind:       targetKind,
	}, owner)
}

// AddDetachedContainer adds a container outside the root tree, reachable only by identifier.
func (provider *Provider) AddDetachedContainer(identifier string, name string, owner string) {
	provider.add("", storage.Node{Identifier: identifier, Name: name, Kind: storage.KindContainer}, owner)
}

// AddDetachedLeaf adds a leaf outside the root tree, reachable only by identifier.
func (provider *Provider) AddDetachedLeaf(identifier string, name string, owner string) {
	provider.add("", storage.Node{Identifier: identifier, Name: name, Kind: storage.KindLeaf}, owner)
}

// CreatorIdentity returns the identity that owns nodes the provider creates.
func (provider *Provider) CreatorIdentity() string {
	return provider.creatorIdentity
}

// SetFailureInjector installs injector; nil removes it.
func (provider *Provider) SetFailureInjector(injector FailureInjector) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.failureInjector = injector
}

// Calls returns a copy of the recorded calls.
func (provider *Provider) Calls() []Call {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return append([]Call(nil), provider.calls...)
}

// MutatingCalls returns the recorded calls that changed the tree.
func (provider *Provider) MutatingCalls() []Call {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	mutating := make([]Call, 0, len(provider.calls))
	for _, call := range provider.calls {
		switch call.Operation {
		case OperationListLeaves, OperationListContainers, OperationOwner:
			continue
		}
		mutating = append(mutating, call)
	}
	return mutating
}

// ResetCalls clears the call record.
func (provider *Provider) ResetCalls() {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.calls = nil
}

// ParentIdentifier returns the identifier of the node's parent, empty when detached.
func (provider *Provider) ParentIdentifier(identifier string) string {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if found, exists := provider.entries[identifier]; exists {
		return found.parentIdentifier
	}
	return ""
}

// ChildNames returns the names of the children of a container, in listing order.
func (provider *Provider) ChildNames(identifier string) []string {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	found, exists := provider.entries[identifier]
	if !exists {
		return nil
	}
	names := make([]string, 0, len(found.children))
	for _, childIdentifier := range found.children {
		names = append(names, provider.entries[childIdentifier].node.Name)
	}
	return names
}

// ContainerByID returns the container with identifier.
func (provider *Provider) ContainerByID(_ context.Context, identifier string) (storage.Node, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	found, lookupError := provider.lookup(identifier)
	if lookupError != nil {
		return storage.Node{}, lookupError
	}
	if !found.node.IsContainer() {
		return storage.Node{}, fmt.Errorf(unknownNodeErrorTemplateConstant, storage.ErrNotContainer, identifier)
	}
	return found.node, nil
}

// LeafByID returns the leaf with identifier.
func (provider *Provider) LeafByID(_ context.Context, identifier string) (storage.Node, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	found, lookupError := provider.lookup(identifier)
	if lookupError != nil {
		return storage.Node{}, lookupError
	}
	if found.node.IsContainer() {
		return storage.Node{}, fmt.Errorf(unknownNodeErrorTemplateConstant, storage.ErrNotFound, identifier)
	}
	return found.node, nil
}

// RootContainer returns the provider root.
func (provider *Provider) RootContainer(executionContext context.Context) (storage.Node, error) {
	return provider.ContainerByID(executionContext, provider.rootIdentifier)
}

// Parent returns the parent of container, false when it is the root or detached.
func (provider *Provider) Parent(_ context.Context, container storage.Node) (storage.Node, bool, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	found, lookupError := provider.lookup(container.Identifier)
	if lookupError != nil {
		return storage.Node{}, false, lookupError
	}
	if len(found.parentIdentifier) == 0 {
		return storage.Node{}, false, nil
	}
	return provider.entries[found.parentIdentifier].node, true, nil
}

// ListLeaves returns the leaves and indirection nodes directly inside container.
func (provider *Provider) ListLeaves(_ context.Context, container storage.Node) ([]storage.Node, error) {
	return provider.list(OperationListLeaves, container, func(node storage.Node) bool { return !node.IsContainer() })
}

// ListContainers returns the containers directly inside container.
func (provider *Provider) ListContainers(_ context.Context, container storage.Node) ([]storage.Node, error) {
	return provider.list(OperationListContainers, container, storage.Node.IsContainer)
}

// FindContainerByName returns the first child container of parent named name.
func (provider *Provider) FindContainerByName(_ context.Context, parent storage.Node, name string) (storage.Node, bool, error) {
	return provider.findChild(parent, name, storage.Node.IsContainer)
}

// FindLeafByName returns the first child leaf of parent named name.
func (provider *Provider) FindLeafByName(_ context.Context, parent storage.Node, name string) (storage.Node, bool, error) {
	return provider.findChild(parent, name, func(node storage.Node) bool { return !node.IsContainer() })
}

// Owner returns the owner identity of node.
func (provider *Provider) Owner(_ context.Context, node storage.Node) (string, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if failure := provider.record(Call{Operation: OperationOwner, NodeIdentifier: node.Identifier}); failure != nil {
		return "", failure
	}
	found, lookupError := provider.lookup(node.Identifier)
	if lookupError != nil {
		return "", lookupError
	}
	if len(found.owner) == 0 {
		return "", fmt.Errorf(unknownNodeErrorTemplateConstant, storage.ErrOwnerUnknown, node.Identifier)
	}
	return found.owner, nil
}

// CreateContainer creates a container named name inside parent.
func (provider *Provider) CreateContainer(_ context.Context, parent storage.Node, name string) (storage.Node, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if failure := provider.record(Call{Operation: OperationCreateContainer, NodeIdentifier: parent.Identifier, Name: name}); failure != nil {
		return storage.Node{}, failure
	}
	if _, lookupError := provider.lookupContainer(parent.Identifier); lookupError != nil {
		return storage.Node{}, lookupError
	}
	created := storage.Node{Identifier: provider.nextIdentifier(), Name: name, Kind: storage.KindContainer}
	provider.attach(parent.Identifier, created, provider.creatorIdentity)
	return created, nil
}

// MoveLeaf reparents leaf under newParent.
func (provider *Provider) MoveLeaf(_ context.Context, leaf storage.Node, newParent storage.Node) error {
	return provider.move(OperationMoveLeaf, leaf, newParent)
}

// MoveContainer reparents container, with its whole subtree, under newParent.
func (provider *Provider) MoveContainer(_ context.Context, container storage.Node, newParent storage.Node) error {
	return provider.move(OperationMoveContainer, container, newParent)
}

// CopyLeaf duplicates leaf into destination under name. The copy is owned by the creator identity.
func (provider *Provider) CopyLeaf(_ context.Context, leaf storage.Node, name string, destination storage.Node) (storage.Node, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if failure := provider.record(Call{Operation: OperationCopyLeaf, NodeIdentifier: leaf.Identifier, TargetIdentifier: destination.Identifier, Name: name}); failure != nil {
		return storage.Node{}, failure
	}
	source, lookupError := provider.lookup(leaf.Identifier)
	if lookupError != nil {
		return storage.Node{}, lookupError
	}
	if _, lookupError := provider.lookupContainer(destination.Identifier); lookupError != nil {
		return storage.Node{}, lookupError
	}
	copied := source.node
	copied.Identifier = provider.nextIdentifier()
	copied.Name = name
	provider.attach(destination.Identifier, copied, provider.creatorIdentity)
	return copied, nil
}

// RemoveContainer detaches child from parent. The child stays reachable by identifier.
func (provider *Provider) RemoveContainer(_ context.Context, parent storage.Node, child storage.Node) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if failure := provider.record(Call{Operation: OperationRemoveContainer, NodeIdentifier: child.Identifier, TargetIdentifier: parent.Identifier}); failure != nil {
		return failure
	}
	found, lookupError := provider.lookupContainer(child.Identifier)
	if lookupError != nil {
		return lookupError
	}
	if found.parentIdentifier != parent.Identifier {
		return fmt.Errorf(unknownNodeErrorTemplateConstant, storage.ErrNotFound, child.Identifier)
	}
	provider.detach(child.Identifier)
	return nil
}

// RenameContainer renames container.
func (provider *Provider) RenameContainer(_ context.Context, container storage.Node, name string) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if failure := provider.record(Call{Operation: OperationRenameContainer, NodeIdentifier: container.Identifier, Name: name}); failure != nil {
		return failure
	}
	found, lookupError := provider.lookupContainer(container.Identifier)
	if lookupError != nil {
		return lookupError
	}
	found.node.Name = name
	return nil
}

// Reference builds a memory:// reference for node.
func (provider *Provider) Reference(node storage.Node) string {
	return fmt.Sprintf(referenceTemplateConstant, node.Identifier)
}

func (provider *Provider) add(parentIdentifier string, node storage.Node, owner string) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.attach(parentIdentifier, node, owner)
}

func (provider *Provider) attach(parentIdentifier string, node storage.Node, owner string) {
	provider.entries[node.Identifier] = &entry{node: node, owner: owner, parentIdentifier: parentIdentifier}
	if parent, exists := provider.entries[parentIdentifier]; exists && len(parentIdentifier) > 0 {
		parent.children = append(parent.children, node.Identifier)
	}
}

func (provider *Provider) detach(identifier string) {
	found := provider.entries[identifier]
	if parent, exists := provider.entries[found.parentIdentifier]; exists {
		remaining := parent.children[:0]
		for _, childIdentifier := range parent.children {
			if childIdentifier != identifier {
				remaining = append(remaining, childIdentifier)
			}
		}
		parent.children = remaining
	}
	found.parentIdentifier = ""
}

func (provider *Provider) move(operation string, node storage.Node, newParent storage.Node) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if failure := provider.record(Call{Operation: operation, NodeIdentifier: node.Identifier, TargetIdentifier: newParent.Identifier}); failure != nil {
		return failure
	}
	found, lookupError := provider.lookup(node.Identifier)
	if lookupError != nil {
		return lookupError
	}
	destination, lookupError := provider.lookupContainer(newParent.Identifier)
	if lookupError != nil {
		return lookupError
	}
	provider.detach(node.Identifier)
	found.parentIdentifier = newParent.Identifier
	destination.children = append(destination.children, node.Identifier)
	return nil
}

func (provider *Provider) list(operation string, container storage.Node, keep func(storage.Node) bool) ([]storage.Node, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if failure := provider.record(Call{Operation: operation, NodeIdentifier: container.Identifier}); failure != nil {
		return nil, failure
	}
	found, lookupError := provider.lookupContainer(container.Identifier)
	if lookupError != nil {
		return nil, lookupError
	}
	children := make([]storage.Node, 0, len(found.children))
	for _, childIdentifier := range found.children {
		child := provider.entries[childIdentifier].node
		if keep(child) {
			children = append(children, child)
		}
	}
	return children, nil
}

func (provider *Provider) findChild(parent storage.Node, name string, keep func(storage.Node) bool) (storage.Node, bool, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	found, lookupError := provider.lookupContainer(parent.Identifier)
	if lookupError != nil {
		return storage.Node{}, false, lookupError
	}
	for _, childIdentifier := range found.children {
		child := provider.entries[childIdentifier].node
		if child.Name == name && keep(child) {
			return child, true, nil
		}
	}
	return storage.Node{}, false, nil
}

func (provider *Provider) lookup(identifier string) (*entry, error) {
	found, exists := provider.entries[identifier]
	if !exists {
		return nil, fmt.Errorf(unknownNodeErrorTemplateConstant, storage.ErrNotFound, identifier)
	}
	return found, nil
}

func (provider *Provider) lookupContainer(identifier string) (*entry, error) {
	found, lookupError := provider.lookup(identifier)
	if lookupError != nil {
		return nil, lookupError
	}
	if !found.node.IsContainer() {
		return nil, fmt.Errorf(unknownNodeErrorTemplateConstant, storage.ErrNotContainer, identifier)
	}
	return found, nil
}

func (provider *Provider) record(call Call) error {
	provider.calls = append(provider.calls, call)
	if provider.failureInjector == nil {
		return nil
	}
	return provider.failureInjector(call.Operation, call.NodeIdentifier)
}

func (provider *Provider) nextIdentifier() string {
	provider.createdSequence++
	return fmt.Sprintf(createdIdentifierTemplateConstant, createdIdentifierPrefixConstant, provider.createdSequence)
}
