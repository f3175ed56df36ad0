// Package policy decides how a node crosses into the destination tree based on who owns it.
package policy

import (
	"github.com/temirov/drivemigrate/internal/identity"
)

// Decision is the outcome of the ownership policy for one node.
type Decision string

// Policy outcomes.
const (
	DecisionMoveAsOwner    Decision = "move_as_owner"
	DecisionMoveSameDomain Decision = "move_same_domain"
	DecisionCopyForeign    Decision = "copy_foreign"
)

// Moves reports whether the node is moved rather than copied or recreated.
func (decision Decision) Moves() bool {
	return decision == DecisionMoveAsOwner || decision == DecisionMoveSameDomain
}

// Decide classifies a node by its owner identity. Identity equality is checked
// before domain equality. An empty domain never matches.
func Decide(ownerIdentity string, actingIdentity string, actingDomain string) Decision {
	if len(ownerIdentity) > 0 && ownerIdentity == actingIdentity {
		return DecisionMoveAsOwner
	}
	ownerDomain := identity.DomainOf(ownerIdentity)
	if len(ownerDomain) > 0 && ownerDomain == actingDomain {
		return DecisionMoveSameDomain
	}
	return DecisionCopyForeign
}

// DecideFor applies Decide with the principal's identity and domain.
func DecideFor(ownerIdentity string, principal identity.Principal) Decision {
	return Decide(ownerIdentity, principal.Email, principal.Domain())
}
