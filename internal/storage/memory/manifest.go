package memory

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/temirov/drivemigrate/internal/storage"
)

const (
	decodeManifestErrorTemplateConstant    = "unable to decode tree manifest: %w"
	encodeManifestErrorTemplateConstant    = "unable to encode tree manifest: %w"
	unknownKindErrorTemplateConstant       = "%w: node %s has kind %q"
	unknownTargetErrorTemplateConstant     = "%w: indirection %s targets unknown node %s"
	duplicateIdentifierTemplateConstant    = "%w: identifier %s appears more than once"
	missingIdentifierErrorTemplateConstant = "%w: node named %q has no id"
	defaultRootIdentifierConstant          = "root"
	defaultRootNameConstant                = "My Drive"
)

// ErrInvalidManifest reports a tree manifest that cannot be loaded.
var ErrInvalidManifest = errors.New("invalid tree manifest")

// TreeManifest is the YAML description of a storage tree.
type TreeManifest struct {
	Creator  string         `yaml:"creator"`
	Root     ManifestNode   `yaml:"root"`
	Detached []ManifestNode `yaml:"detached,omitempty"`
}

// ManifestNode describes one node and, for containers, its children.
type ManifestNode struct {
	Identifier string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Kind       storage.Kind   `yaml:"kind,omitempty"`
	Owner      string         `yaml:"owner,omitempty"`
	Target     string         `yaml:"target,omitempty"`
	Children   []ManifestNode `yaml:"children,omitempty"`
}

// LoadManifest decodes a YAML tree manifest from reader and builds a provider from it.
func LoadManifest(reader io.Reader) (*Provider, error) {
	var manifest TreeManifest
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&manifest); decodeError != nil && !errors.Is(decodeError, io.EOF) {
		return nil, fmt.Errorf(decodeManifestErrorTemplateConstant, decodeError)
	}
	return NewProviderFromManifest(manifest)
}

// NewProviderFromManifest builds a provider from manifest.
func NewProviderFromManifest(manifest TreeManifest) (*Provider, error) {
	rootIdentifier := manifest.Root.Identifier
	if len(rootIdentifier) == 0 {
		rootIdentifier = defaultRootIdentifierConstant
	}
	rootName := manifest.Root.Name
	if len(rootName) == 0 {
		rootName = defaultRootNameConstant
	}

	provider := NewProvider(rootIdentifier, rootName, manifest.Creator)
	if len(manifest.Root.Owner) > 0 {
		provider.entries[rootIdentifier].owner = manifest.Root.Owner
	}

	builder := manifestBuilder{provider: provider, seen: map[string]bool{rootIdentifier: true}}
	for _, child := range manifest.Root.Children {
		if buildError := builder.build(rootIdentifier, child); buildError != nil {
			return nil, buildError
		}
	}
	for _, detached := range manifest.Detached {
		if buildError := builder.build("", detached); buildError != nil {
			return nil, buildError
		}
	}
	if resolveError := builder.resolveIndirections(); resolveError != nil {
		return nil, resolveError
	}
	return provider, nil
}

// WriteManifest encodes the provider's current tree, including detached subtrees, as YAML.
func (provider *Provider) WriteManifest(writer io.Writer) error {
	manifest := provider.Manifest()
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if encodeError := encoder.Encode(manifest); encodeError != nil {
		return fmt.Errorf(encodeManifestErrorTemplateConstant, encodeError)
	}
	if closeError := encoder.Close(); closeError != nil {
		return fmt.Errorf(encodeManifestErrorTemplateConstant, closeError)
	}
	return nil
}

// Manifest snapshots the provider's current tree.
func (provider *Provider) Manifest() TreeManifest {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	manifest := TreeManifest{
		Creator: provider.creatorIdentity,
		Root:    provider.describe(provider.rootIdentifier),
	}

	detachedIdentifiers := make([]string, 0)
	for identifier, candidate := range provider.entries {
		if identifier == provider.rootIdentifier || len(candidate.parentIdentifier) > 0 {
			continue
		}
		detachedIdentifiers = append(detachedIdentifiers, identifier)
	}
	sort.Strings(detachedIdentifiers)
	for _, identifier := range detachedIdentifiers {
		manifest.Detached = append(manifest.Detached, provider.describe(identifier))
	}
	return manifest
}

func (provider *Provider) describe(identifier string) ManifestNode {
	described := provider.entries[identifier]
	manifestNode := ManifestNode{
		Identifier: described.node.Identifier,
		Name:       described.node.Name,
		Kind:       described.node.Kind,
		Owner:      described.owner,
		Target:     described.node.TargetIdentifier,
	}
	for _, childIdentifier := range described.children {
		manifestNode.Children = append(manifestNode.Children, provider.describe(childIdentifier))
	}
	return manifestNode
}

type manifestBuilder struct {
	provider     *Provider
	seen         map[string]bool
	indirections []string
}

func (builder *manifestBuilder) build(parentIdentifier string, manifestNode ManifestNode) error {
	if len(manifestNode.Identifier) == 0 {
		return fmt.Errorf(missingIdentifierErrorTemplateConstant, ErrInvalidManifest, manifestNode.Name)
	}
	if builder.seen[manifestNode.Identifier] {
		return fmt.Errorf(duplicateIdentifierTemplateConstant, ErrInvalidManifest, manifestNode.Identifier)
	}
	builder.seen[manifestNode.Identifier] = true

	kind := manifestNode.Kind
	if len(kind) == 0 {
		kind = storage.KindLeaf
		if len(manifestNode.Children) > 0 {
			kind = storage.KindContainer
		}
	}

	node := storage.Node{Identifier: manifestNode.Identifier, Name: manifestNode.Name, Kind: kind}
	switch kind {
	case storage.KindContainer, storage.KindLeaf:
	case storage.KindIndirection:
		node.TargetIdentifier = manifestNode.Target
		builder.indirections = append(builder.indirections, manifestNode.Identifier)
	default:
		return fmt.Errorf(unknownKindErrorTemplateConstant, ErrInvalidManifest, manifestNode.Identifier, kind)
	}
	builder.provider.attach(parentIdentifier, node, manifestNode.Owner)

	if kind != storage.KindContainer {
		return nil
	}
	for _, child := range manifestNode.Children {
		if buildError := builder.build(manifestNode.Identifier, child); buildError != nil {
			return buildError
		}
	}
	return nil
}

func (builder *manifestBuilder) resolveIndirections() error {
	for _, identifier := range builder.indirections {
		indirection := builder.provider.entries[identifier]
		target, exists := builder.provider.entries[indirection.node.TargetIdentifier]
		if !exists {
			return fmt.Errorf(unknownTargetErrorTemplateConstant, ErrInvalidManifest, identifier, indirection.node.TargetIdentifier)
		}
		indirection.node.TargetKind = target.node.Kind
	}
	return nil
}
