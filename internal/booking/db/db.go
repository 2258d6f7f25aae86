// Package db is the relational store for reservations. The write paths that
// race (double booking, concurrent reschedules, refund settlement) are all
// expressed as conditional updates checked through RowsAffected, so the
// database is the final arbiter regardless of what happened between a read
// and its write.
package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"studio-booking/internal/models"
)

type DBLayer struct {
	DB *bun.DB
}

func NewDBLayer(db *bun.DB) *DBLayer {
	return &DBLayer{DB: db}
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// Matched by message so it covers both the postgres driver and the sqlite
// shim used in tests.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func (d *DBLayer) GetReservationByID(ctx context.Context, id int64) (*models.Reservation, error) {
	r := new(models.Reservation)
	err := d.DB.NewSelect().Model(r).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// IsSlotFree reports whether no confirmed reservation holds the slot. This
// is only the advisory pre-check; the partial unique index on
// (date, start_time) for confirmed rows is what actually prevents a double
// sale.
func (d *DBLayer) IsSlotFree(ctx context.Context, date, startTime string) (bool, error) {
	count, err := d.DB.NewSelect().
		Model((*models.Reservation)(nil)).
		Where("date = ?", date).
		Where("start_time = ?", startTime).
		Where("status = ?", models.StatusConfirmed).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// ConfirmedOnDate lists the confirmed reservations for one civil date,
// ordered by start time. Feeds the availability endpoint.
func (d *DBLayer) ConfirmedOnDate(ctx context.Context, date string) ([]models.Reservation, error) {
	var rs []models.Reservation
	err := d.DB.NewSelect().
		Model(&rs).
		Where("date = ?", date).
		Where("status = ?", models.StatusConfirmed).
		Order("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func (d *DBLayer) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := d.DB.NewInsert().Model(r).Exec(ctx)
	return err
}

// UpdateReservationForReschedule writes the rescheduled slot, price and
// counter, conditional on the reschedule counter still holding the value the
// caller read. Returns false when another writer advanced it first; nothing
// is written in that case.
func (d *DBLayer) UpdateReservationForReschedule(ctx context.Context, r *models.Reservation, expectedCount int) (bool, error) {
	res, err := d.DB.NewUpdate().
		Model(r).
		Column("date", "start_time", "end_time", "price", "payment_ref",
			"reschedule_count", "original_date", "original_start_time").
		Where("id = ?", r.ID).
		Where("reschedule_count = ?", expectedCount).
		Where("status = ?", models.StatusConfirmed).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *DBLayer) AppendRescheduleHistory(ctx context.Context, h *models.RescheduleHistoryEntry) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	_, err := d.DB.NewInsert().Model(h).Exec(ctx)
	return err
}

func (d *DBLayer) ListRescheduleHistory(ctx context.Context, reservationID int64) ([]models.RescheduleHistoryEntry, error) {
	var hs []models.RescheduleHistoryEntry
	err := d.DB.NewSelect().
		Model(&hs).
		Where("reservation_id = ?", reservationID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return hs, nil
}

// MarkCancelled flips a confirmed reservation to cancelled and records the
// refund computation. Returns false when the reservation was no longer
// confirmed, which makes cancellation idempotent rather than double-refunding.
func (d *DBLayer) MarkCancelled(ctx context.Context, r *models.Reservation) (bool, error) {
	res, err := d.DB.NewUpdate().
		Model(r).
		Column("status", "refund_amount", "refund_status", "refund_id",
			"cancelled_at", "cancelled_by").
		Where("id = ?", r.ID).
		Where("status = ?", models.StatusConfirmed).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdatePointsUsed corrects the points figure on a reservation after a
// partial ledger failure.
func (d *DBLayer) UpdatePointsUsed(ctx context.Context, reservationID int64, points int) error {
	_, err := d.DB.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("points_used = ?", points).
		Where("id = ?", reservationID).
		Exec(ctx)
	return err
}

// SettleRefund records a manual refund settlement. Guarded on the refund
// still being pending so two admins cannot settle the same refund twice.
func (d *DBLayer) SettleRefund(ctx context.Context, reservationID int64, refundID string) (bool, error) {
	res, err := d.DB.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("refund_status = ?", models.RefundSettled).
		Set("refund_id = ?", refundID).
		Where("id = ?", reservationID).
		Where("refund_status = ?", models.RefundPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
