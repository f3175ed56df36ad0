package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/drivemigrate/internal/identity"
	"github.com/temirov/drivemigrate/internal/policy"
)

const (
	testActingIdentityConstant = "me@example.com"
	testActingDomainConstant   = "example.com"
)

func TestDecide(testInstance *testing.T) {
	testCases := []struct {
		name             string
		ownerIdentity    string
		actingIdentity   string
		actingDomain     string
		expectedDecision policy.Decision
	}{
		{
			name:             "acting principal owns the node",
			ownerIdentity:    testActingIdentityConstant,
			actingIdentity:   testActingIdentityConstant,
			actingDomain:     testActingDomainConstant,
			expectedDecision: policy.DecisionMoveAsOwner,
		},
		{
			name:             "colleague in the same domain",
			ownerIdentity:    "colleague@example.com",
			actingIdentity:   testActingIdentityConstant,
			actingDomain:     testActingDomainConstant,
			expectedDecision: policy.DecisionMoveSameDomain,
		},
		{
			name:             "foreign domain",
			ownerIdentity:    "partner@elsewhere.org",
			actingIdentity:   testActingIdentityConstant,
			actingDomain:     testActingDomainConstant,
			expectedDecision: policy.DecisionCopyForeign,
		},
		{
			name:             "identity equality wins over a diverging domain",
			ownerIdentity:    "alias@legacy.example",
			actingIdentity:   "alias@legacy.example",
			actingDomain:     testActingDomainConstant,
			expectedDecision: policy.DecisionMoveAsOwner,
		},
		{
			name:             "owner without domain",
			ownerIdentity:    "service-account",
			actingIdentity:   testActingIdentityConstant,
			actingDomain:     "",
			expectedDecision: policy.DecisionCopyForeign,
		},
		{
			name:             "unknown owner",
			ownerIdentity:    "",
			actingIdentity:   "",
			actingDomain:     "",
			expectedDecision: policy.DecisionCopyForeign,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			first := policy.Decide(testCase.ownerIdentity, testCase.actingIdentity, testCase.actingDomain)
			second := policy.Decide(testCase.ownerIdentity, testCase.actingIdentity, testCase.actingDomain)
			require.Equal(subtest, testCase.expectedDecision, first)
			require.Equal(subtest, first, second)
		})
	}
}

func TestDecisionMoves(testInstance *testing.T) {
	require.True(testInstance, policy.DecisionMoveAsOwner.Moves())
	require.True(testInstance, policy.DecisionMoveSameDomain.Moves())
	require.False(testInstance, policy.DecisionCopyForeign.Moves())
}

func TestDecideForPrincipal(testInstance *testing.T) {
	principal, principalError := identity.NewPrincipal(testActingIdentityConstant)
	require.NoError(testInstance, principalError)
	require.Equal(testInstance, policy.DecisionMoveSameDomain, policy.DecideFor("colleague@example.com", principal))
}
