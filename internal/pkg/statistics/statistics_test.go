package statistics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/internal/pkg/database"
)

func setupStatsDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stats_test.db")
	require.NoError(t, database.MigrateSQLite(path))

	db, err := gorm.Open(sqlite.Open(database.SQLiteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })
	return db
}

func seedBooking(t *testing.T, db *gorm.DB, id, status string, emergency bool, createdAt time.Time) {
	t.Helper()
	b := &models.Booking{
		ID:          id,
		BusinessID:  "biz_1",
		StartUTC:    createdAt.Add(24 * time.Hour),
		EndUTC:      createdAt.Add(25 * time.Hour),
		Status:      status,
		IsEmergency: emergency,
		SlotKey:     "biz_1:" + id,
	}
	require.NoError(t, db.Create(b).Error)
	// autoCreateTime stamps now; push rows into the past explicitly.
	require.NoError(t, db.Model(&models.Booking{}).Where("id = ?", id).
		Update("created_at", createdAt).Error)
}

func TestCollect(t *testing.T) {
	db := setupStatsDB(t)

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	today := dayStart.Add(1 * time.Hour)
	yesterday := dayStart.Add(-12 * time.Hour)

	seedBooking(t, db, "bk_1", models.BOOKING_STATUS_CONFIRMED, false, today)
	seedBooking(t, db, "bk_2", models.BOOKING_STATUS_CONFIRMED, true, today)
	seedBooking(t, db, "bk_3", models.BOOKING_STATUS_PENDING, false, today)
	seedBooking(t, db, "bk_4", models.BOOKING_STATUS_CANCELLED, false, yesterday)
	seedBooking(t, db, "bk_5", models.BOOKING_STATUS_FAILED, true, yesterday)

	sent := &models.SmsLog{BusinessID: "biz_1", ToNumber: "+15550001111", Kind: models.SMS_KIND_CONFIRMATION, Status: models.SMS_STATUS_SENT}
	failed := &models.SmsLog{BusinessID: "biz_1", ToNumber: "+15550001111", Kind: models.SMS_KIND_CONFIRMATION, Status: models.SMS_STATUS_FAILED}
	require.NoError(t, db.Create(sent).Error)
	require.NoError(t, db.Create(failed).Error)

	d, err := Collect()
	require.NoError(t, err)

	assert.Equal(t, int64(5), d.TotalBookings)
	assert.Equal(t, int64(3), d.TodayBookings)
	assert.Equal(t, int64(2), d.Confirmed)
	assert.Equal(t, int64(1), d.Pending)
	assert.Equal(t, int64(1), d.Cancelled)
	assert.Equal(t, int64(1), d.Failed)
	assert.Equal(t, int64(1), d.EmergenciesToday)
	assert.Equal(t, int64(1), d.SMSSentToday)
}

func TestCollectEmptyLedger(t *testing.T) {
	setupStatsDB(t)

	d, err := Collect()
	require.NoError(t, err)
	assert.Equal(t, Data{}, d)
}
