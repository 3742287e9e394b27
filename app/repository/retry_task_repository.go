package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
)

// retryTaskRepository implements the RetryTaskRepository interface
type retryTaskRepository struct {
	db *gorm.DB
}

// NewRetryTaskRepository creates a new retry task repository instance
func NewRetryTaskRepository(db *gorm.DB) RetryTaskRepository {
	return &retryTaskRepository{db: db}
}

// Enqueue stores a new outbox task
func (r *retryTaskRepository) Enqueue(task *models.RetryTask) error {
	if task.Status == "" {
		task.Status = models.RETRY_STATUS_PENDING
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = models.RETRY_DEFAULT_MAX_ATTEMPTS
	}
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = time.Now().UTC()
	}
	return r.db.Create(task).Error
}

// GetDue returns up to limit pending tasks whose attempt time has arrived,
// oldest first. The worker's tick lock keeps concurrent claimers away.
func (r *retryTaskRepository) GetDue(now time.Time, limit int) ([]models.RetryTask, error) {
	var tasks []models.RetryTask
	err := r.db.
		Where("status = ? AND next_attempt_at_utc <= ?", models.RETRY_STATUS_PENDING, now).
		Order("next_attempt_at_utc ASC, created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// MarkSucceeded finishes a task. The status guard makes the update
// idempotent: a task that already succeeded is not touched again.
func (r *retryTaskRepository) MarkSucceeded(id uint, attemptCount int) error {
	return r.db.Model(&models.RetryTask{}).
		Where("id = ? AND status = ?", id, models.RETRY_STATUS_PENDING).
		Updates(map[string]interface{}{
			"status":        models.RETRY_STATUS_SUCCEEDED,
			"attempt_count": attemptCount,
		}).Error
}

// MarkFailed terminally fails a task after its attempts are exhausted
func (r *retryTaskRepository) MarkFailed(id uint, attemptCount int, lastError string) error {
	return r.db.Model(&models.RetryTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.RETRY_STATUS_FAILED,
			"attempt_count": attemptCount,
			"last_error":    lastError,
		}).Error
}

// Reschedule records a failed attempt and pushes the task into the future
func (r *retryTaskRepository) Reschedule(id uint, attemptCount int, lastError string, nextAttemptAt time.Time) error {
	return r.db.Model(&models.RetryTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              models.RETRY_STATUS_PENDING,
			"attempt_count":       attemptCount,
			"last_error":          lastError,
			"next_attempt_at_utc": nextAttemptAt,
		}).Error
}

// GetByID retrieves a retry task by its ID
func (r *retryTaskRepository) GetByID(id uint) (*models.RetryTask, error) {
	var task models.RetryTask
	if err := r.db.First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}
