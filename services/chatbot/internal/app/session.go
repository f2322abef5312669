package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"novachat/pkg/domain"
	"novachat/pkg/store"
)

// Authenticate resolves a bearer token to the calling account.
// Token problems are reported precisely; they reveal nothing about credentials.
func (a *App) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, authError("Access denied. No token provided.")
	}
	claims, err := a.sessions.Verify(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTokenExpired):
			return domain.Principal{}, authError("Token expired.")
		case errors.Is(err, store.ErrTokenInvalid), errors.Is(err, store.ErrTokenRevoked):
			return domain.Principal{}, authError("Invalid token.")
		default:
			return domain.Principal{}, fmt.Errorf("verify token: %w", err)
		}
	}
	acct, ok, err := a.store.GetAccountByID(ctx, claims.AccountID)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return domain.Principal{}, authError("The user belonging to this token no longer exists.")
	}
	if !acct.Active {
		return domain.Principal{}, authError("User account is deactivated.")
	}
	if acct.IsLocked(a.clock()) {
		return domain.Principal{}, newError(ErrLocked, "Account is temporarily locked.")
	}
	return domain.Principal{
		Account:   acct,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// OptionalAuthenticate is Authenticate for routes that also serve anonymous
// callers: any failure simply yields no principal.
func (a *App) OptionalAuthenticate(ctx context.Context, token string) (domain.Principal, bool) {
	if strings.TrimSpace(token) == "" {
		return domain.Principal{}, false
	}
	p, err := a.Authenticate(ctx, token)
	if err != nil {
		a.logger.DebugContext(ctx, "optional auth ignored token", "err", err)
		return domain.Principal{}, false
	}
	return p, true
}
