package models

import "github.com/uptrace/bun"

// User carries the administrator flag consulted by the access guard. The
// flag is read fresh on every authorization check, never cached.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID    string `bun:"id,pk" json:"id"` // OIDC subject
	Email string `bun:"email" json:"email"`
	Admin bool   `bun:"admin" json:"admin"`
}
