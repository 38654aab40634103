package auth

import (
	"context"
	"errors"
	"net/http"
)

// SourceOwnerResolver returns the owner of a terrarium source.
type SourceOwnerResolver interface {
	SourceOwner(ctx context.Context, sourceID string) (string, error)
}

// EnsureSourceAccess allows admins everywhere and everyone else only on the
// sources they own. Requests without an identity pass, which is the case
// when API auth is disabled.
func EnsureSourceAccess(ctx context.Context, resolver SourceOwnerResolver, sourceID string) error {
	subject := SubjectFromContext(ctx)
	if resolver == nil || subject == "" || sourceID == "" {
		return nil
	}
	if RoleFromContext(ctx) == RoleAdmin {
		return nil
	}
	owner, err := resolver.SourceOwner(ctx, sourceID)
	if err != nil {
		return err
	}
	if owner != "" && owner != subject {
		return ErrForbidden
	}
	return nil
}

// RespondAccessError maps access errors to HTTP statuses.
func RespondAccessError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "access check failed", http.StatusInternalServerError)
	}
}
