package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetBusinessRepository returns the business repository instance
func (f *Factory) GetBusinessRepository() BusinessRepository {
	return f.GetRepositories().Business
}

// GetBusinessProfileRepository returns the profile repository instance
func (f *Factory) GetBusinessProfileRepository() BusinessProfileRepository {
	return f.GetRepositories().BusinessProfile
}

// GetBookingRepository returns the booking repository instance
func (f *Factory) GetBookingRepository() BookingRepository {
	return f.GetRepositories().Booking
}

// GetGoogleTokenRepository returns the token repository instance
func (f *Factory) GetGoogleTokenRepository() GoogleTokenRepository {
	return f.GetRepositories().GoogleToken
}

// GetOAuthFlowRepository returns the OAuth flow repository instance
func (f *Factory) GetOAuthFlowRepository() OAuthFlowRepository {
	return f.GetRepositories().OAuthFlow
}

// GetRetryTaskRepository returns the retry task repository instance
func (f *Factory) GetRetryTaskRepository() RetryTaskRepository {
	return f.GetRepositories().RetryTask
}

// GetSmsLogRepository returns the SMS log repository instance
func (f *Factory) GetSmsLogRepository() SmsLogRepository {
	return f.GetRepositories().SmsLog
}

// GetCallLogRepository returns the call log repository instance
func (f *Factory) GetCallLogRepository() CallLogRepository {
	return f.GetRepositories().CallLog
}

// GetEmergencyLogRepository returns the emergency log repository instance
func (f *Factory) GetEmergencyLogRepository() EmergencyLogRepository {
	return f.GetRepositories().EmergencyLog
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
