package statistics

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/internal/pkg/cache"
	"github.com/ManuelReschke/SlotFox/internal/pkg/database"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
)

const (
	CacheKeyBookings = "statistics:bookings"
	CacheExpiration  = 30 * time.Minute
)

// Data aggregates the booking ledger for the ops stats endpoint. Today spans
// the current UTC day.
type Data struct {
	TotalBookings    int64 `json:"total_bookings"`
	TodayBookings    int64 `json:"today_bookings"`
	Confirmed        int64 `json:"confirmed"`
	Pending          int64 `json:"pending"`
	Cancelled        int64 `json:"cancelled"`
	Failed           int64 `json:"failed"`
	EmergenciesToday int64 `json:"emergencies_today"`
	SMSSentToday     int64 `json:"sms_sent_today"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// UpdateCacheIfNeeded refreshes the cached aggregates when the last refresh
// is older than the update interval.
func UpdateCacheIfNeeded() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	if time.Since(lastCacheUpdate) <= cacheUpdateInterval {
		return
	}
	if err := UpdateStatisticsCache(); err != nil {
		logging.GetLogger().WithError(err).Warn("[Statistics] cache refresh failed")
		return
	}
	lastCacheUpdate = time.Now()
}

// ResetCacheUpdateTimer forces the next read to refresh.
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes the aggregates and stores them.
func UpdateStatisticsCache() error {
	data, err := Collect()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return cache.Set(CacheKeyBookings, string(raw), CacheExpiration)
}

// Collect computes the aggregates straight from the database.
func Collect() (Data, error) {
	db := database.GetDB()
	var d Data

	if err := db.Model(&models.Booking{}).Count(&d.TotalBookings).Error; err != nil {
		return Data{}, err
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	if err := db.Model(&models.Booking{}).
		Where("created_at >= ? AND created_at < ?", dayStart, dayEnd).
		Count(&d.TodayBookings).Error; err != nil {
		return Data{}, err
	}

	var rows []struct {
		Status string
		N      int64
	}
	if err := db.Model(&models.Booking{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return Data{}, err
	}
	for _, r := range rows {
		switch r.Status {
		case models.BOOKING_STATUS_CONFIRMED:
			d.Confirmed = r.N
		case models.BOOKING_STATUS_PENDING:
			d.Pending = r.N
		case models.BOOKING_STATUS_CANCELLED:
			d.Cancelled = r.N
		case models.BOOKING_STATUS_FAILED:
			d.Failed = r.N
		}
	}

	if err := db.Model(&models.Booking{}).
		Where("is_emergency = ? AND created_at >= ? AND created_at < ?", true, dayStart, dayEnd).
		Count(&d.EmergenciesToday).Error; err != nil {
		return Data{}, err
	}

	if err := db.Model(&models.SmsLog{}).
		Where("status = ? AND created_at >= ? AND created_at < ?", models.SMS_STATUS_SENT, dayStart, dayEnd).
		Count(&d.SMSSentToday).Error; err != nil {
		return Data{}, err
	}

	return d, nil
}

// GetStatisticsData returns the aggregates, preferring the cache and falling
// back to a direct query when the cache misses or cannot be read.
func GetStatisticsData() Data {
	UpdateCacheIfNeeded()

	if raw, err := cache.Get(CacheKeyBookings); err == nil {
		var d Data
		if jerr := json.Unmarshal([]byte(raw), &d); jerr == nil {
			return d
		}
	}

	d, err := Collect()
	if err != nil {
		logging.GetLogger().WithError(err).Error("[Statistics] collect failed")
		return Data{}
	}
	return d
}
