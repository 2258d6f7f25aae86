package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"studio-booking/internal/models"
)

func setupTestDB(t *testing.T) *DBLayer {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bdb := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()

	for _, m := range []interface{}{
		(*models.Reservation)(nil),
		(*models.RescheduleHistoryEntry)(nil),
	} {
		_, err = bdb.NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	// Same partial unique index the production migration creates: at most
	// one confirmed reservation per slot.
	_, err = bdb.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_slot
		ON reservations (date, start_time) WHERE status = 'confirmed'`)
	require.NoError(t, err)

	t.Cleanup(func() {
		bdb.ExecContext(ctx, "DROP INDEX IF EXISTS idx_reservations_slot")
		bdb.ExecContext(ctx, "DROP TABLE IF EXISTS reservations")
		bdb.ExecContext(ctx, "DROP TABLE IF EXISTS reservation_reschedule_history")
		bdb.Close()
	})
	return NewDBLayer(bdb)
}

func confirmedReservation(date, start string) *models.Reservation {
	return &models.Reservation{
		CustomerName:  "Ana Torres",
		Email:         "ana@example.com",
		Date:          date,
		StartTime:     start,
		EndTime:       "15:00",
		Price:         1500,
		OriginalPrice: 1500,
		Status:        models.StatusConfirmed,
		PaymentMethod: models.MethodCard,
		PaymentRef:    "ch_test",
	}
}

func TestCreateReservationSlotIndex(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	first := confirmedReservation("2026-09-07", "14:00")
	require.NoError(t, d.CreateReservation(ctx, first))
	assert.NotZero(t, first.ID)

	// Second confirmed reservation for the same slot hits the index.
	dup := confirmedReservation("2026-09-07", "14:00")
	err := d.CreateReservation(ctx, dup)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	// A cancelled row does not hold the slot.
	cancelled := confirmedReservation("2026-09-07", "16:00")
	cancelled.Status = models.StatusCancelled
	require.NoError(t, d.CreateReservation(ctx, cancelled))
	again := confirmedReservation("2026-09-07", "16:00")
	require.NoError(t, d.CreateReservation(ctx, again))
}

func TestIsSlotFree(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	free, err := d.IsSlotFree(ctx, "2026-09-08", "10:00")
	require.NoError(t, err)
	assert.True(t, free)

	require.NoError(t, d.CreateReservation(ctx, confirmedReservation("2026-09-08", "10:00")))

	free, err = d.IsSlotFree(ctx, "2026-09-08", "10:00")
	require.NoError(t, err)
	assert.False(t, free)

	// Other start times on the same date stay free.
	free, err = d.IsSlotFree(ctx, "2026-09-08", "12:00")
	require.NoError(t, err)
	assert.True(t, free)
}

func TestUpdateReservationForReschedule(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	r := confirmedReservation("2026-09-09", "14:00")
	require.NoError(t, d.CreateReservation(ctx, r))

	r.Date = "2026-09-16"
	r.OriginalDate = "2026-09-09"
	r.OriginalStartTime = "14:00"
	r.Price = 1800
	r.RescheduleCount = 1

	ok, err := d.UpdateReservationForReschedule(ctx, r, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := d.GetReservationByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-16", stored.Date)
	assert.Equal(t, 1, stored.RescheduleCount)
	assert.Equal(t, "2026-09-09", stored.OriginalDate)

	// A writer holding the stale counter loses and writes nothing.
	stale := *stored
	stale.Date = "2026-09-20"
	stale.RescheduleCount = 1
	ok, err = d.UpdateReservationForReschedule(ctx, &stale, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err = d.GetReservationByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-16", stored.Date)
}

func TestUpdateReservationForRescheduleRequiresConfirmed(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	r := confirmedReservation("2026-09-10", "14:00")
	r.Status = models.StatusCancelled
	require.NoError(t, d.CreateReservation(ctx, r))

	r.Date = "2026-09-17"
	r.RescheduleCount = 1
	ok, err := d.UpdateReservationForReschedule(ctx, r, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkCancelledIdempotent(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	r := confirmedReservation("2026-09-11", "14:00")
	require.NoError(t, d.CreateReservation(ctx, r))

	r.Status = models.StatusCancelled
	r.RefundAmount = 1200
	r.RefundStatus = models.RefundPending
	ok, err := d.MarkCancelled(ctx, r)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second cancellation finds no confirmed row.
	ok, err = d.MarkCancelled(ctx, r)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettleRefundOnce(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	r := confirmedReservation("2026-09-12", "14:00")
	require.NoError(t, d.CreateReservation(ctx, r))
	r.Status = models.StatusCancelled
	r.RefundAmount = 1200
	r.RefundStatus = models.RefundPending
	_, err := d.MarkCancelled(ctx, r)
	require.NoError(t, err)

	ok, err := d.SettleRefund(ctx, r.ID, "re_manual_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.SettleRefund(ctx, r.ID, "re_manual_2")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := d.GetReservationByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundSettled, stored.RefundStatus)
	assert.Equal(t, "re_manual_1", stored.RefundID)
}

func TestRescheduleHistory(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	r := confirmedReservation("2026-09-14", "14:00")
	require.NoError(t, d.CreateReservation(ctx, r))

	require.NoError(t, d.AppendRescheduleHistory(ctx, &models.RescheduleHistoryEntry{
		ReservationID:    r.ID,
		PrevDate:         "2026-09-14",
		PrevStartTime:    "14:00",
		NewDate:          "2026-09-19",
		NewStartTime:     "14:00",
		AdditionalAmount: 300,
		PaymentMethod:    models.MethodCard,
	}))

	hs, err := d.ListRescheduleHistory(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, 300.0, hs[0].AdditionalAmount)

	hs, err = d.ListRescheduleHistory(ctx, r.ID+99)
	require.NoError(t, err)
	assert.Empty(t, hs)
}

func TestGetReservationByIDMissing(t *testing.T) {
	d := setupTestDB(t)

	r, err := d.GetReservationByID(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, r)
}
