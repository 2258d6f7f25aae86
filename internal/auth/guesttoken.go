package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// GuestClaims scope a manage link to one reservation and the email it was
// booked under. The token carries no expiry on purpose: it stays usable for
// as long as the reservation itself is live, and dies with it.
type GuestClaims struct {
	Email         string `json:"sub"`
	ReservationID int64  `json:"rid"`
}

type GuestTokens struct {
	secret []byte
}

func NewGuestTokens(secret string) *GuestTokens {
	return &GuestTokens{secret: []byte(secret)}
}

// Issue signs a manage token for one reservation.
func (g *GuestTokens) Issue(email string, reservationID int64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": email,
		"rid": reservationID,
	})
	return token.SignedString(g.secret)
}

// Verify checks the signature and returns the claims. It does not check the
// reservation's state; that is the access guard's job.
func (g *GuestTokens) Verify(tokenString string) (*GuestClaims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	rid, _ := claims["rid"].(float64)
	if sub == "" || rid == 0 {
		return nil, errors.New("token missing reservation scope")
	}
	return &GuestClaims{Email: sub, ReservationID: int64(rid)}, nil
}

// EmailMatches compares emails case-insensitively.
func EmailMatches(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
