// Package identity models the acting principal a migration runs as.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	domainSeparatorConstant                = "@"
	identityLookupErrorTemplateConstant    = "unable to determine acting identity: %w"
	missingIdentityErrorMessageConstant    = "acting identity must be provided"
	malformedIdentityErrorTemplateConstant = "acting identity %q has no domain"
)

// ErrIdentityMissing reports an empty acting identity.
var ErrIdentityMissing = errors.New(missingIdentityErrorMessageConstant)

// Provider reports the identity the migration acts as.
type Provider interface {
	ActingIdentity(executionContext context.Context) (string, error)
}

// StaticProvider returns a fixed identity, typically read from configuration.
type StaticProvider struct {
	Identity string
}

// ActingIdentity returns the configured identity.
func (provider StaticProvider) ActingIdentity(context.Context) (string, error) {
	return provider.Identity, nil
}

// Principal is the acting identity together with its domain.
type Principal struct {
	Email  string
	domain string
}

// NewPrincipal validates email and derives its domain.
func NewPrincipal(email string) (Principal, error) {
	trimmedEmail := strings.TrimSpace(email)
	if len(trimmedEmail) == 0 {
		return Principal{}, ErrIdentityMissing
	}
	domain := DomainOf(trimmedEmail)
	if len(domain) == 0 {
		return Principal{}, fmt.Errorf(malformedIdentityErrorTemplateConstant, trimmedEmail)
	}
	return Principal{Email: trimmedEmail, domain: domain}, nil
}

// Resolve asks provider for the acting identity and builds a Principal from it.
func Resolve(executionContext context.Context, provider Provider) (Principal, error) {
	email, lookupError := provider.ActingIdentity(executionContext)
	if lookupError != nil {
		return Principal{}, fmt.Errorf(identityLookupErrorTemplateConstant, lookupError)
	}
	return NewPrincipal(email)
}

// Domain returns the destination domain of the principal.
func (principal Principal) Domain() string {
	return principal.domain
}

// DomainOf returns the segment between the first and second "@" of identity,
// or an empty string when identity has none.
func DomainOf(identity string) string {
	segments := strings.Split(identity, domainSeparatorConstant)
	if len(segments) < 2 {
		return ""
	}
	return segments[1]
}
