package auth

import (
	"context"
	"errors"

	"studio-booking/internal/models"
)

// Role is the capability an actor holds over one reservation.
type Role int

const (
	RoleNone Role = iota
	RoleGuest
	RoleOwner
	RoleAdmin
)

var ErrForbidden = errors.New("not allowed to manage this reservation")

// Actor is whoever is knocking: an authenticated user, a guest holding a
// manage token, or both fields empty for an anonymous request.
type Actor struct {
	UserID     string
	GuestToken string
}

// AdminDirectory answers whether a user currently holds the admin flag.
// Consulted fresh on every check so a revoked admin loses access on their
// next request, not on token expiry.
type AdminDirectory interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

type Guard struct {
	tokens *GuestTokens
	admins AdminDirectory
}

func NewGuard(tokens *GuestTokens, admins AdminDirectory) *Guard {
	return &Guard{tokens: tokens, admins: admins}
}

// Authorize resolves the strongest role the actor holds over the
// reservation. Admin beats owner beats guest; ErrForbidden when none apply.
func (g *Guard) Authorize(ctx context.Context, actor Actor, r *models.Reservation) (Role, error) {
	if actor.UserID != "" {
		admin, err := g.admins.IsAdmin(ctx, actor.UserID)
		if err != nil {
			return RoleNone, err
		}
		if admin {
			return RoleAdmin, nil
		}
		if r.UserID != "" && r.UserID == actor.UserID {
			return RoleOwner, nil
		}
	}

	if actor.GuestToken != "" {
		claims, err := g.tokens.Verify(actor.GuestToken)
		if err != nil {
			return RoleNone, ErrForbidden
		}
		// The token must be scoped to this exact reservation and match the
		// booking email. A token for reservation A opens nothing on B.
		if claims.ReservationID != r.ID || !EmailMatches(claims.Email, r.Email) {
			return RoleNone, ErrForbidden
		}
		// Guest access lives and dies with the reservation.
		if r.Status != models.StatusConfirmed {
			return RoleNone, ErrForbidden
		}
		return RoleGuest, nil
	}

	return RoleNone, ErrForbidden
}

// RequireAdmin is the short form for admin-only operations.
func (g *Guard) RequireAdmin(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrForbidden
	}
	admin, err := g.admins.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !admin {
		return ErrForbidden
	}
	return nil
}
