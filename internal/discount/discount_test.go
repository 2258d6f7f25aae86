package discount

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"studio-booking/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, m := range []interface{}{
		(*models.DiscountCode)(nil),
		(*models.DiscountCodeUse)(nil),
	} {
		_, err = db.NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		db.ExecContext(ctx, "DROP TABLE IF EXISTS discount_codes")
		db.ExecContext(ctx, "DROP TABLE IF EXISTS discount_code_uses")
		db.Close()
	})
	return NewStore(db)
}

func TestValidate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, &models.DiscountCode{
		Code:       "summer10",
		Percentage: 10,
		ValidFrom:  now.AddDate(0, 0, -1),
		ValidUntil: now.AddDate(0, 1, 0),
		MaxUses:    5,
	}))

	// Codes are case-insensitive.
	amount, err := s.Validate(ctx, " Summer10 ", 1500, now)
	require.NoError(t, err)
	assert.Equal(t, 150.0, amount)

	_, err = s.Validate(ctx, "NOPE", 1500, now)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	_, err = s.Validate(ctx, "SUMMER10", 1500, now.AddDate(0, 2, 0))
	assert.ErrorIs(t, err, ErrCodeExpired)

	_, err = s.Validate(ctx, "SUMMER10", 1500, now.AddDate(0, 0, -2))
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestRedeemUsageCap(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, &models.DiscountCode{
		Code:       "LASTONE",
		Percentage: 20,
		ValidFrom:  now.AddDate(0, 0, -1),
		ValidUntil: now.AddDate(0, 1, 0),
		MaxUses:    1,
	}))

	require.NoError(t, s.Redeem(ctx, "LASTONE", 7, now))

	// The second redeemer loses the conditional increment.
	err := s.Redeem(ctx, "LASTONE", 8, now)
	assert.ErrorIs(t, err, ErrCodeSpent)

	var uses []models.DiscountCodeUse
	require.NoError(t, s.DB.NewSelect().Model(&uses).Where("code = ?", "LASTONE").Scan(ctx))
	require.Len(t, uses, 1)
	assert.Equal(t, int64(7), uses[0].ReservationID)

	dc := new(models.DiscountCode)
	require.NoError(t, s.DB.NewSelect().Model(dc).Where("code = ?", "LASTONE").Scan(ctx))
	assert.Equal(t, 1, dc.CurrentUses)
}

func TestRedeemUnlimited(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// MaxUses of zero means no cap.
	require.NoError(t, s.Create(ctx, &models.DiscountCode{
		Code:       "OPEN",
		Percentage: 5,
		ValidFrom:  now.AddDate(0, 0, -1),
		ValidUntil: now.AddDate(0, 1, 0),
	}))

	require.NoError(t, s.Redeem(ctx, "OPEN", 1, now))
	require.NoError(t, s.Redeem(ctx, "OPEN", 2, now))
	require.NoError(t, s.Redeem(ctx, "OPEN", 3, now))
}
