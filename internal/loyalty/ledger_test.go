package loyalty

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

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = db.NewCreateTable().Model((*models.LoyaltyPointsEntry)(nil)).IfNotExists().Exec(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		db.ExecContext(context.Background(), "DROP TABLE IF EXISTS loyalty_points")
		db.Close()
	})
	return NewLedger(db, 365, nil)
}

type recordingUpdater struct {
	reservationID int64
	points        int
	called        bool
}

func (u *recordingUpdater) UpdatePointsUsed(ctx context.Context, reservationID int64, points int) error {
	u.reservationID = reservationID
	u.points = points
	u.called = true
	return nil
}

func grant(t *testing.T, l *Ledger, userID string, points int, createdAt time.Time) *models.LoyaltyPointsEntry {
	t.Helper()
	entry := &models.LoyaltyPointsEntry{
		UserID:    userID,
		Points:    points,
		ExpiresAt: createdAt.AddDate(1, 0, 0),
		CreatedAt: createdAt,
	}
	_, err := l.DB.NewInsert().Model(entry).Exec(context.Background())
	require.NoError(t, err)
	return entry
}

func liveEntries(t *testing.T, l *Ledger, userID string, now time.Time) []models.LoyaltyPointsEntry {
	t.Helper()
	entries, err := l.eligibleEntries(context.Background(), userID, now)
	require.NoError(t, err)
	return entries
}

func TestGrantForCharge(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	points, err := l.GrantForCharge(ctx, "user-1", 1500, 7, now)
	require.NoError(t, err)
	assert.Equal(t, 150, points)

	// Rounded down, never up.
	points, err = l.GrantForCharge(ctx, "user-1", 1299, 8, now)
	require.NoError(t, err)
	assert.Equal(t, 129, points)

	// Guests and zero charges earn nothing.
	points, err = l.GrantForCharge(ctx, "", 1500, 9, now)
	require.NoError(t, err)
	assert.Equal(t, 0, points)

	points, err = l.GrantForCharge(ctx, "user-1", 0, 10, now)
	require.NoError(t, err)
	assert.Equal(t, 0, points)

	points, err = l.GrantForCharge(ctx, "user-1", 9, 11, now)
	require.NoError(t, err)
	assert.Equal(t, 0, points)

	balance, err := l.Balance(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 279, balance)
}

func TestBalanceSkipsUsedRevokedExpired(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	grant(t, l, "user-1", 100, now.AddDate(0, -1, 0))

	used := grant(t, l, "user-1", 50, now)
	_, err := l.DB.NewUpdate().Model(used).Set("used = ?", true).Where("id = ?", used.ID).Exec(ctx)
	require.NoError(t, err)

	revoked := grant(t, l, "user-1", 40, now)
	_, err = l.DB.NewUpdate().Model(revoked).Set("revoked = ?", true).Where("id = ?", revoked.ID).Exec(ctx)
	require.NoError(t, err)

	expired := grant(t, l, "user-1", 30, now.AddDate(-2, 0, 0))
	_, err = l.DB.NewUpdate().Model(expired).Set("expires_at = ?", now.AddDate(0, 0, -1)).Where("id = ?", expired.ID).Exec(ctx)
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 100, balance)
}

func TestConsumeOldestFirstWithSplit(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	oldest := grant(t, l, "user-1", 60, now.AddDate(0, -3, 0))
	newer := grant(t, l, "user-1", 100, now.AddDate(0, -1, 0))

	require.NoError(t, l.Consume(ctx, "user-1", 90, 7, 0, nil, now))

	balance, err := l.Balance(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 70, balance)

	// The oldest entry is fully consumed, the newer one split down to 70.
	live := liveEntries(t, l, "user-1", now)
	require.Len(t, live, 1)
	assert.Equal(t, newer.ID, live[0].ID)
	assert.Equal(t, 70, live[0].Points)

	var consumedOld models.LoyaltyPointsEntry
	err = l.DB.NewSelect().Model(&consumedOld).Where("id = ?", oldest.ID).Scan(ctx)
	require.NoError(t, err)
	assert.True(t, consumedOld.Used)
	assert.Equal(t, int64(7), consumedOld.ReservationID)

	// The split remainder keeps the original expiry on the consumed part.
	var split models.LoyaltyPointsEntry
	err = l.DB.NewSelect().Model(&split).
		Where("user_id = ?", "user-1").
		Where("used = ?", true).
		Where("points = ?", 30).
		Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), split.ReservationID)
	assert.Equal(t, newer.ExpiresAt.Unix(), split.ExpiresAt.Unix())
}

func TestConsumeInsufficientChangesNothing(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	grant(t, l, "user-1", 50, now)

	err := l.Consume(ctx, "user-1", 80, 7, 0, nil, now)
	var insufficient *InsufficientPointsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 50, insufficient.Balance)
	assert.Equal(t, 80, insufficient.Requested)

	balance, err := l.Balance(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 50, balance)
}

func TestConsumeConflictReconciles(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	first := grant(t, l, "user-1", 40, now.AddDate(0, -2, 0))
	second := grant(t, l, "user-1", 60, now.AddDate(0, -1, 0))

	// Another spender grabs the second entry between our read and write.
	entries := liveEntries(t, l, "user-1", now)
	require.Len(t, entries, 2)
	ok, err := l.markUsed(ctx, second.ID, 99)
	require.NoError(t, err)
	require.True(t, ok)

	// Spend against the stale view, asking for more than the first entry
	// holds: the first flip succeeds, the second guard fails. The
	// reservation already carried 50 points from checkout; the correction
	// must add to that figure, not replace it.
	updater := &recordingUpdater{}
	err = l.consumeEntries(ctx, "user-1", entries, 80, 7, 50, updater, now)
	var conflict *ConsumeConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 40, conflict.Consumed)
	assert.Equal(t, 80, conflict.Requested)

	assert.True(t, updater.called)
	assert.Equal(t, int64(7), updater.reservationID)
	assert.Equal(t, 90, updater.points)

	// The first entry is spent on reservation 7, the second on 99, and no
	// points exist twice.
	var all []models.LoyaltyPointsEntry
	require.NoError(t, l.DB.NewSelect().Model(&all).Where("user_id = ?", "user-1").Scan(ctx))
	total := 0
	for _, e := range all {
		total += e.Points
	}
	assert.Equal(t, 100, total)

	var firstStored models.LoyaltyPointsEntry
	require.NoError(t, l.DB.NewSelect().Model(&firstStored).Where("id = ?", first.ID).Scan(ctx))
	assert.True(t, firstStored.Used)
	assert.Equal(t, int64(7), firstStored.ReservationID)
}

func TestConsumeConflictViaConsume(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	grant(t, l, "user-1", 100, now)

	// Consume everything under reservation 99 first, then replay a consume
	// that read the old balance. The replayed call sees an empty balance
	// and reports insufficiency rather than double-spending.
	require.NoError(t, l.Consume(ctx, "user-1", 100, 99, 0, nil, now))

	err := l.Consume(ctx, "user-1", 50, 7, 0, &recordingUpdater{}, now)
	var insufficient *InsufficientPointsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Balance)
}

func TestRevokeGrant(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	entry := grant(t, l, "user-1", 150, now)
	_, err := l.DB.NewUpdate().Model(entry).Set("reservation_id = ?", 7).Where("id = ?", entry.ID).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, l.RevokeGrant(ctx, 7))

	balance, err := l.Balance(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)

	// An already spent grant stays spent, not revoked.
	spent := grant(t, l, "user-2", 80, now)
	_, err = l.DB.NewUpdate().Model(spent).
		Set("reservation_id = ?", 8).
		Set("used = ?", true).
		Where("id = ?", spent.ID).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, l.RevokeGrant(ctx, 8))
	var stored models.LoyaltyPointsEntry
	require.NoError(t, l.DB.NewSelect().Model(&stored).Where("id = ?", spent.ID).Scan(ctx))
	assert.True(t, stored.Used)
	assert.False(t, stored.Revoked)
}
