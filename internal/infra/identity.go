// README: Credential verification contract shared by the JWT and Firebase verifiers.
package infra

import (
	"context"
	"errors"
	"strings"

	"rideflow/internal/types"
)

var ErrInvalidToken = errors.New("invalid credential")

// Verifier resolves a bearer credential to the calling rider or driver.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (types.Identity, error)
}

// identityFromClaims maps a subject and role claim to an identity. Only the
// rider and driver roles are accepted.
func identityFromClaims(subject, role string) (types.Identity, error) {
	if subject == "" {
		return types.Identity{}, ErrInvalidToken
	}
	switch kind := types.ActorKind(strings.ToLower(strings.TrimSpace(role))); kind {
	case types.ActorRider, types.ActorDriver:
		return types.Identity{Kind: kind, ID: types.ID(subject)}, nil
	}
	return types.Identity{}, ErrInvalidToken
}
