// Package testsupport provides storage trees and collaborator stubs for migration tests.
package testsupport

import (
	"context"

	migrate "github.com/temirov/drivemigrate/internal/migrate"
	"github.com/temirov/drivemigrate/internal/storage"
	"github.com/temirov/drivemigrate/internal/storage/memory"
)

// Identities used by the fixture trees.
const (
	ActingIdentity     = "me@example.com"
	SameDomainIdentity = "colleague@example.com"
	ForeignIdentity    = "partner@elsewhere.org"
	DriveRootID        = "root"
	DriveRootName      = "My Drive"
)

// NewProjectsTree builds the tree
//
//	My Drive/
//	  Projects (P, acting)
//	    a.txt (A, acting)
//	    Sub (S, foreign)
//	      b.txt (B, same domain)
func NewProjectsTree() *memory.Provider {
	provider := memory.NewProvider(DriveRootID, DriveRootName, ActingIdentity)
	provider.AddContainer(DriveRootID, "P", "Projects", ActingIdentity)
	provider.AddLeaf("P", "A", "a.txt", ActingIdentity)
	provider.AddContainer("P", "S", "Sub", ForeignIdentity)
	provider.AddLeaf("S", "B", "b.txt", SameDomainIdentity)
	return provider
}

// NewShortcutTree builds a Projects folder holding shortcuts to a detached
// foreign container T and a detached foreign leaf F.
//
//	My Drive/
//	  Projects (P, acting)
//	    Link to Shared (L1) -> T
//	    Link to Report (L2) -> F
//	Shared (T, foreign, detached)
//	  notes.txt (N, foreign)
//	  Nested (U, foreign)
//	    deep.txt (D, same domain)
//	report.pdf (F, foreign, detached)
func NewShortcutTree() *memory.Provider {
	provider := memory.NewProvider(DriveRootID, DriveRootName, ActingIdentity)
	provider.AddContainer(DriveRootID, "P", "Projects", ActingIdentity)
	provider.AddDetachedContainer("T", "Shared", ForeignIdentity)
	provider.AddLeaf("T", "N", "notes.txt", ForeignIdentity)
	provider.AddContainer("T", "U", "Nested", ForeignIdentity)
	provider.AddLeaf("U", "D", "deep.txt", SameDomainIdentity)
	provider.AddDetachedLeaf("F", "report.pdf", ForeignIdentity)
	provider.AddIndirection("P", "L1", "Link to Shared", ActingIdentity, "T", storage.KindContainer)
	provider.AddIndirection("P", "L2", "Link to Report", ActingIdentity, "F", storage.KindLeaf)
	return provider
}

// ServiceOutcome configures the response of a MigrationExecutorStub.
type ServiceOutcome struct {
	Result migrate.MigrationResult
	Error  error
}

// MigrationExecutorStub records executed options and returns a configured outcome.
type MigrationExecutorStub struct {
	Outcome          ServiceOutcome
	ExecutedOptions  []migrate.MigrationOptions
	ReceivedDeps     migrate.ServiceDependencies
	ReceivedIdentity string
}

// Execute records options and returns the configured outcome.
func (executor *MigrationExecutorStub) Execute(executionContext context.Context, options migrate.MigrationOptions) (migrate.MigrationResult, error) {
	executor.ExecutedOptions = append(executor.ExecutedOptions, options)
	if executor.ReceivedDeps.IdentityProvider != nil {
		executor.ReceivedIdentity, _ = executor.ReceivedDeps.IdentityProvider.ActingIdentity(executionContext)
	}
	return executor.Outcome.Result, executor.Outcome.Error
}

// Provider returns a ServiceProvider that hands out executor and captures its dependencies.
func (executor *MigrationExecutorStub) Provider() migrate.ServiceProvider {
	return func(dependencies migrate.ServiceDependencies) (migrate.MigrationExecutor, error) {
		executor.ReceivedDeps = dependencies
		return executor, nil
	}
}
