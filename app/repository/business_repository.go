package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
)

// businessRepository implements the BusinessRepository interface
type businessRepository struct {
	db *gorm.DB
}

// NewBusinessRepository creates a new business repository instance
func NewBusinessRepository(db *gorm.DB) BusinessRepository {
	return &businessRepository{db: db}
}

// Create creates a new business in the database
func (r *businessRepository) Create(business *models.Business) error {
	return r.db.Create(business).Error
}

// GetByID retrieves a business by its ID
func (r *businessRepository) GetByID(id string) (*models.Business, error) {
	var business models.Business
	if err := r.db.First(&business, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

// Update updates an existing business in the database
func (r *businessRepository) Update(business *models.Business) error {
	return r.db.Save(business).Error
}

// List returns businesses ordered by creation time
func (r *businessRepository) List(offset, limit int) ([]models.Business, error) {
	var businesses []models.Business
	err := r.db.Order("created_at ASC").Offset(offset).Limit(limit).Find(&businesses).Error
	return businesses, err
}

// GetEffectiveProfile overlays the operator profile (if any) on the business
// defaults. A missing profile row is not an error; a missing business is.
func (r *businessRepository) GetEffectiveProfile(id string) (*models.EffectiveProfile, error) {
	business, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}

	var profile models.BusinessProfile
	err = r.db.First(&profile, "business_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		effective := models.MergeEffectiveProfile(business, nil)
		return &effective, nil
	}
	if err != nil {
		return nil, err
	}

	effective := models.MergeEffectiveProfile(business, &profile)
	return &effective, nil
}

// businessProfileRepository implements the BusinessProfileRepository interface
type businessProfileRepository struct {
	db *gorm.DB
}

// NewBusinessProfileRepository creates a new profile repository instance
func NewBusinessProfileRepository(db *gorm.DB) BusinessProfileRepository {
	return &businessProfileRepository{db: db}
}

// Get retrieves the profile override row for a business, nil when none exists
func (r *businessProfileRepository) Get(businessID string) (*models.BusinessProfile, error) {
	var profile models.BusinessProfile
	err := r.db.First(&profile, "business_id = ?", businessID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Upsert creates or updates the profile row for a business
func (r *businessProfileRepository) Upsert(profile *models.BusinessProfile) error {
	var existing models.BusinessProfile
	err := r.db.First(&existing, "business_id = ?", profile.BusinessID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(profile).Error
	}
	if err != nil {
		return err
	}
	return r.db.Model(&models.BusinessProfile{}).
		Where("business_id = ?", profile.BusinessID).
		Updates(profile).Error
}
