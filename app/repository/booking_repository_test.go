package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/internal/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo_test.db")
	require.NoError(t, database.MigrateSQLite(path))

	db, err := gorm.Open(sqlite.Open(database.SQLiteDSN(path)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func seedBusiness(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Business{
		ID:       id,
		Name:     "Test HVAC Co",
		Timezone: "America/Chicago",
	}).Error)
}

func newHold(businessID string, start time.Time, durationMin int, phone string) *models.Booking {
	end := start.Add(time.Duration(durationMin) * time.Minute)
	return &models.Booking{
		ID:              uuid.NewString(),
		BusinessID:      businessID,
		StartUTC:        start,
		EndUTC:          end,
		OverlapStartUTC: start,
		OverlapEndUTC:   end,
		CustomerName:    "Test Customer",
		CustomerPhone:   phone,
		SlotKey:         models.MakeSlotKey(businessID, start),
		IdempotencyKey:  models.MakeIdempotencyKey(businessID, start, durationMin, phone),
	}
}

func TestCreatePendingHold_ClaimsFreeSlot(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	hold := newHold("biz-1", start, 60, "+15550001111")

	res, err := repo.CreatePendingHoldIfAvailable(context.Background(), hold, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.OK)

	stored, err := repo.GetByID(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BOOKING_STATUS_PENDING, stored.Status)
	require.NotNil(t, stored.HoldExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), *stored.HoldExpiresAt, 10*time.Second)
}

func TestCreatePendingHold_RejectsOverlap(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	first := newHold("biz-1", start, 60, "+15550001111")
	res, err := repo.CreatePendingHoldIfAvailable(context.Background(), first, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, res.OK)

	// Different start, overlapping window, different keys.
	second := newHold("biz-1", start.Add(30*time.Minute), 60, "+15550002222")
	res, err = repo.CreatePendingHoldIfAvailable(context.Background(), second, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonSlotTaken, res.Reason)
}

func TestCreatePendingHold_OtherTenantUnaffected(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	seedBusiness(t, db, "biz-2")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	res, err := repo.CreatePendingHoldIfAvailable(context.Background(), newHold("biz-1", start, 60, "+15550001111"), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = repo.CreatePendingHoldIfAvailable(context.Background(), newHold("biz-2", start, 60, "+15550001111"), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.OK, "same wall-clock slot for another tenant must be free")
}

func TestCreatePendingHold_SweepsExpiredHoldFirst(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	// Insert an already-expired pending hold directly.
	expired := newHold("biz-1", start, 60, "+15550001111")
	expired.Status = models.BOOKING_STATUS_PENDING
	past := time.Now().UTC().Add(-time.Minute)
	expired.HoldExpiresAt = &past
	require.NoError(t, db.Create(expired).Error)

	// A fresh request for the same slot must win.
	fresh := newHold("biz-1", start, 60, "+15550002222")
	res, err := repo.CreatePendingHoldIfAvailable(context.Background(), fresh, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.OK)

	swept, err := repo.GetByID(expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BOOKING_STATUS_CANCELLED, swept.Status)
}

func TestCreatePendingHold_IdempotencyReplayReason(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	first := newHold("biz-1", start, 60, "+15550001111")
	res, err := repo.CreatePendingHoldIfAvailable(context.Background(), first, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, res.OK)

	// Same request again: same idempotency key, non-overlapping window so
	// the probe cannot catch it first.
	replay := newHold("biz-1", start, 60, "+15550001111")
	replay.StartUTC = start.Add(3 * time.Hour)
	replay.EndUTC = replay.StartUTC.Add(time.Hour)
	replay.OverlapStartUTC = replay.StartUTC
	replay.OverlapEndUTC = replay.EndUTC
	replay.SlotKey = models.MakeSlotKey("biz-1", replay.StartUTC)

	res, err = repo.CreatePendingHoldIfAvailable(context.Background(), replay, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonIdempotentReplay, res.Reason)
}

func TestCreatePendingHold_ConcurrentSingleWinner(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)

	const n = 10
	var wg sync.WaitGroup
	results := make([]*HoldResult, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hold := newHold("biz-1", start, 60, "+15550001111")
			results[i], errs[i] = repo.CreatePendingHoldIfAvailable(context.Background(), hold, 5*time.Minute)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if results[i].OK {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	var active int64
	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.Booking{}).
		Where("business_id = ?", "biz-1").
		Where(activeBookingPredicate, now).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)
}

func TestConfirmBooking_SetsEventAndClearsHold(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	hold := newHold("biz-1", start, 60, "+15550001111")
	_, err := repo.CreatePendingHoldIfAvailable(context.Background(), hold, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, repo.ConfirmBooking(hold.ID, "gcal-evt-1"))

	confirmed, err := repo.GetByID(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BOOKING_STATUS_CONFIRMED, confirmed.Status)
	require.NotNil(t, confirmed.GCalEventID)
	assert.Equal(t, "gcal-evt-1", *confirmed.GCalEventID)
	assert.Nil(t, confirmed.HoldExpiresAt)
}

func TestStatusMachine_RejectsIllegalTransitions(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	hold := newHold("biz-1", start, 60, "+15550001111")
	_, err := repo.CreatePendingHoldIfAvailable(context.Background(), hold, 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.ConfirmBooking(hold.ID, "gcal-evt-1"))

	// confirmed -> failed is not a legal move.
	err = repo.FailBooking(hold.ID, "TOO_LATE")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	// confirmed -> confirmed is not a legal move either.
	err = repo.ConfirmBooking(hold.ID, "gcal-evt-2")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	// confirmed -> cancelled is fine; cancelled is terminal.
	require.NoError(t, repo.CancelBooking(hold.ID))
	err = repo.ConfirmBooking(hold.ID, "gcal-evt-3")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestRecoverFailedBooking_ResurrectsInsertFailure(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	hold := newHold("biz-1", start, 60, "+15550001111")
	_, err := repo.CreatePendingHoldIfAvailable(context.Background(), hold, 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.FailBooking(hold.ID, ReasonEventInsertFailed))

	require.NoError(t, repo.RecoverFailedBooking(hold.ID, "gcal-evt-late"))

	recovered, err := repo.GetByID(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BOOKING_STATUS_CONFIRMED, recovered.Status)
	require.NotNil(t, recovered.GCalEventID)
	assert.Equal(t, "gcal-evt-late", *recovered.GCalEventID)
	assert.Nil(t, recovered.FailureReason)
}

func TestRecoverFailedBooking_OnlyInsertFailuresQualify(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	hold := newHold("biz-1", start, 60, "+15550001111")
	_, err := repo.CreatePendingHoldIfAvailable(context.Background(), hold, 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.FailBooking(hold.ID, "CONFIRM_WRITE_FAILED"))

	err = repo.RecoverFailedBooking(hold.ID, "gcal-evt-late")
	assert.ErrorIs(t, err, ErrRecoveryConflict)

	still, err := repo.GetByID(hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BOOKING_STATUS_FAILED, still.Status)
}

func TestRecoverFailedBooking_SlotRebookedMeanwhile(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	failed := newHold("biz-1", start, 60, "+15550001111")
	_, err := repo.CreatePendingHoldIfAvailable(context.Background(), failed, 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.FailBooking(failed.ID, ReasonEventInsertFailed))

	// Another customer books the freed slot before the deferred insert runs.
	winner := newHold("biz-1", start, 60, "+15550002222")
	res, err := repo.CreatePendingHoldIfAvailable(context.Background(), winner, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NoError(t, repo.ConfirmBooking(winner.ID, "gcal-evt-winner"))

	err = repo.RecoverFailedBooking(failed.ID, "gcal-evt-late")
	assert.ErrorIs(t, err, ErrRecoveryConflict)

	still, err := repo.GetByID(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BOOKING_STATUS_FAILED, still.Status, "losing row must stay failed")
}

func TestGetByIdempotencyKey_IgnoresTerminalRows(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	hold := newHold("biz-1", start, 60, "+15550001111")
	_, err := repo.CreatePendingHoldIfAvailable(context.Background(), hold, 5*time.Minute)
	require.NoError(t, err)

	found, err := repo.GetByIdempotencyKey("biz-1", hold.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, hold.ID, found.ID)

	require.NoError(t, repo.FailBooking(hold.ID, "GOOGLE_EVENTS_INSERT_FAILED"))

	found, err = repo.GetByIdempotencyKey("biz-1", hold.IdempotencyKey)
	require.NoError(t, err)
	assert.Nil(t, found, "failed rows must not replay")
}

func TestCleanupExpiredHolds(t *testing.T) {
	db := newTestDB(t)
	seedBusiness(t, db, "biz-1")
	repo := NewBookingRepository(db)

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(10 * time.Minute)

	expired := newHold("biz-1", time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), 60, "+15550001111")
	expired.Status = models.BOOKING_STATUS_PENDING
	expired.HoldExpiresAt = &past
	require.NoError(t, db.Create(expired).Error)

	live := newHold("biz-1", time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), 60, "+15550002222")
	live.Status = models.BOOKING_STATUS_PENDING
	live.HoldExpiresAt = &future
	require.NoError(t, db.Create(live).Error)

	swept, err := repo.CleanupExpiredHolds("")
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	kept, err := repo.GetByID(live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BOOKING_STATUS_PENDING, kept.Status)
}

func TestOAuthFlowConsume_SingleUse(t *testing.T) {
	db := newTestDB(t)
	flows := NewOAuthFlowRepository(db)

	require.NoError(t, flows.Create(&models.OAuthFlow{
		Nonce:        "nonce-1",
		BusinessID:   "biz-1",
		CodeVerifier: "verifier",
		ExpiresAt:    time.Now().UTC().Add(10 * time.Minute),
	}))

	first, err := flows.Consume("nonce-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "verifier", first.CodeVerifier)

	second, err := flows.Consume("nonce-1")
	require.NoError(t, err)
	assert.Nil(t, second, "a nonce must be consumable exactly once")
}

func TestOAuthFlowConsume_ExpiredFlowNotReturned(t *testing.T) {
	db := newTestDB(t)
	flows := NewOAuthFlowRepository(db)

	require.NoError(t, flows.Create(&models.OAuthFlow{
		Nonce:        "nonce-old",
		BusinessID:   "biz-1",
		CodeVerifier: "verifier",
		ExpiresAt:    time.Now().UTC().Add(-time.Minute),
	}))

	flow, err := flows.Consume("nonce-old")
	require.NoError(t, err)
	assert.Nil(t, flow)
}
