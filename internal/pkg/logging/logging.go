package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// GetLogger returns the process-wide structured logger (JSON lines on stdout).
func GetLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		if env.IsDev() {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}
	})
	return logger
}

// WithRequest returns an entry carrying the request correlation id, so SMS and
// emergency logs for one booking can be tied back to the HTTP request that made it.
func WithRequest(requestID string) *logrus.Entry {
	return GetLogger().WithField("request_id", requestID)
}

// WithBooking tags an entry with the booking + business pair.
func WithBooking(requestID, businessID, bookingID string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"request_id":  requestID,
		"business_id": businessID,
		"booking_id":  bookingID,
	})
}
