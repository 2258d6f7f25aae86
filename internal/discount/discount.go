// Package discount validates and redeems promotional codes. Redemption is a
// single conditional increment on the usage counter, so a code with one use
// left cannot be redeemed by two checkouts at once.
package discount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"studio-booking/internal/models"
)

var (
	ErrCodeNotFound = errors.New("discount code not found")
	ErrCodeExpired  = errors.New("discount code is outside its validity window")
	ErrCodeSpent    = errors.New("discount code has no uses left")
)

type Store struct {
	DB *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{DB: db}
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the code without consuming a use and returns the discount
// amount for the given price.
func (s *Store) Validate(ctx context.Context, code string, price float64, now time.Time) (float64, error) {
	dc := new(models.DiscountCode)
	err := s.DB.NewSelect().Model(dc).Where("code = ?", normalize(code)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCodeNotFound
	}
	if err != nil {
		return 0, err
	}

	if now.Before(dc.ValidFrom) || now.After(dc.ValidUntil) {
		return 0, ErrCodeExpired
	}
	if dc.MaxUses > 0 && dc.CurrentUses >= dc.MaxUses {
		return 0, ErrCodeSpent
	}
	return price * dc.Percentage / 100, nil
}

// Redeem consumes one use of the code for a reservation. The counter bump
// is guarded on current_uses still being under the cap, so the last use
// goes to exactly one redeemer. Validity is re-checked here because time
// passed since Validate.
func (s *Store) Redeem(ctx context.Context, code string, reservationID int64, now time.Time) error {
	norm := normalize(code)

	dc := new(models.DiscountCode)
	err := s.DB.NewSelect().Model(dc).Where("code = ?", norm).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCodeNotFound
	}
	if err != nil {
		return err
	}
	if now.Before(dc.ValidFrom) || now.After(dc.ValidUntil) {
		return ErrCodeExpired
	}

	q := s.DB.NewUpdate().
		Model((*models.DiscountCode)(nil)).
		Set("current_uses = current_uses + 1").
		Where("code = ?", norm)
	if dc.MaxUses > 0 {
		q = q.Where("current_uses < max_uses")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrCodeSpent
	}

	use := &models.DiscountCodeUse{
		Code:          norm,
		ReservationID: reservationID,
		UsedAt:        now,
	}
	if _, err := s.DB.NewInsert().Model(use).Exec(ctx); err != nil {
		return fmt.Errorf("record code use: %w", err)
	}
	return nil
}

// Create registers a new code. Codes are stored uppercase.
func (s *Store) Create(ctx context.Context, dc *models.DiscountCode) error {
	dc.Code = normalize(dc.Code)
	_, err := s.DB.NewInsert().Model(dc).Exec(ctx)
	return err
}
