// Package pricing is the price oracle: the server-side source of truth for
// what a slot costs. Client-submitted prices are never trusted.
package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"studio-booking/internal/calendar"
)

// Override pins a price for a single date, taking precedence over the
// weekday/weekend base rates.
type Override struct {
	bun.BaseModel `bun:"table:price_overrides"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Date      string    `bun:"date,unique" json:"date"`
	Price     float64   `bun:"price" json:"price"`
	Reason    string    `bun:"reason,nullzero" json:"reason,omitempty"`
	CreatedAt time.Time `bun:"created_at" json:"created_at"`
}

// OverrideStore looks up per-date price overrides.
type OverrideStore interface {
	GetOverride(ctx context.Context, date string) (*Override, error)
}

type Oracle struct {
	weekdayPrice float64
	weekendPrice float64
	overrides    OverrideStore
}

func NewOracle(weekdayPrice, weekendPrice float64, overrides OverrideStore) *Oracle {
	return &Oracle{
		weekdayPrice: weekdayPrice,
		weekendPrice: weekendPrice,
		overrides:    overrides,
	}
}

// PriceFor returns the authoritative price for a session on the given civil
// date. A stored override wins; otherwise the base rate by weekday/weekend.
func (o *Oracle) PriceFor(ctx context.Context, date time.Time) (float64, error) {
	if o.overrides != nil {
		ov, err := o.overrides.GetOverride(ctx, date.Format(calendar.DateLayout))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		if ov != nil {
			return ov.Price, nil
		}
	}
	if calendar.IsWeekend(date) {
		return o.weekendPrice, nil
	}
	return o.weekdayPrice, nil
}

// DBOverrideStore reads overrides from the relational store.
type DBOverrideStore struct {
	DB *bun.DB
}

func (s *DBOverrideStore) GetOverride(ctx context.Context, date string) (*Override, error) {
	ov := new(Override)
	err := s.DB.NewSelect().Model(ov).Where("date = ?", date).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ov, nil
}

// SetOverride inserts or replaces the override for a date.
func (s *DBOverrideStore) SetOverride(ctx context.Context, ov *Override) error {
	if ov.CreatedAt.IsZero() {
		ov.CreatedAt = time.Now()
	}
	_, err := s.DB.NewInsert().
		Model(ov).
		On("CONFLICT (date) DO UPDATE").
		Set("price = EXCLUDED.price").
		Set("reason = EXCLUDED.reason").
		Exec(ctx)
	return err
}
