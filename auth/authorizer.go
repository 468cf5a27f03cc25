package auth

import (
	"context"
	"errors"

	"arcana/apperr"
)

// UserReader is the read side of Repository used for authorization.
type UserReader interface {
	GetUserByID(ctx context.Context, userID string) (User, error)
}

// Authorizer is the single place role and verification checks happen.
// It reloads the account on every call so that a revoked role or
// verification takes effect on the next operation.
type Authorizer struct {
	users UserReader
}

func NewAuthorizer(users UserReader) *Authorizer {
	return &Authorizer{users: users}
}

// Require returns the current account for userID when it exists, is
// verified and holds one of roles. With no roles any verified account passes.
func (a *Authorizer) Require(ctx context.Context, userID string, roles ...Role) (User, error) {
	const op = "auth.require"
	if userID == "" {
		return User{}, apperr.Authorization(op, "missing caller identity")
	}

	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, apperr.Authorization(op, "unknown account %s", userID)
		}
		return User{}, err
	}
	if !user.Verified {
		return User{}, apperr.Authorization(op, "account %s is not verified", userID)
	}
	if len(roles) == 0 {
		return user, nil
	}
	for _, r := range roles {
		if user.Role == r {
			return user, nil
		}
	}
	return User{}, apperr.Authorization(op, "account %s lacks the required role", userID)
}
