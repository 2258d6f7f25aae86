package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"studio-booking/internal/models"
)

// DBAdminDirectory resolves the admin flag from the users table. Reads go
// straight to the store on every call; there is no cache.
type DBAdminDirectory struct {
	DB *bun.DB
}

func (d *DBAdminDirectory) IsAdmin(ctx context.Context, userID string) (bool, error) {
	u := new(models.User)
	err := d.DB.NewSelect().Model(u).Where("id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Admin, nil
}
