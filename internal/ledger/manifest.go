package ledger

import (
	"context"

	"github.com/temirov/drivemigrate/internal/properties"
)

// Manifest identifies the containers taking part in a migration. It is written
// once, before traversal, so finalization can run after the original is gone.
type Manifest struct {
	SourceIdentifier      string `json:"sourceId"`
	SourceName            string `json:"sourceName"`
	ParentIdentifier      string `json:"parentId"`
	DestinationIdentifier string `json:"destinationId"`
}

// LoadManifest reads the manifest and reports false when none was saved.
func LoadManifest(executionContext context.Context, store properties.Store) (Manifest, bool, error) {
	var manifest Manifest
	if loadError := loadJSON(executionContext, store, manifestKeyConstant, &manifest); loadError != nil {
		return Manifest{}, false, loadError
	}
	return manifest, len(manifest.DestinationIdentifier) > 0, nil
}

// SaveManifest persists the manifest.
func SaveManifest(executionContext context.Context, store properties.Store, manifest Manifest) error {
	return saveJSON(executionContext, store, manifestKeyConstant, manifest)
}
