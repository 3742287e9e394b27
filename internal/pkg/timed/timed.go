// Package timed wraps outbound calls with a deadline and a structured
// outcome log so every external dependency interaction leaves a
// {op, ok, duration_ms, error} trail.
package timed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
)

// ErrTimeout marks an operation that hit its deadline. Callers translate it
// into their dependency-specific code, e.g. GOOGLE_TIMEOUT.
var ErrTimeout = errors.New("operation timed out")

// Run executes fn under a deadline derived from ctx and logs the outcome.
func Run(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	elapsed := time.Since(start)

	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded)) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	fields := logrus.Fields{
		"op":          op,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		logging.GetLogger().WithFields(fields).Warn("external call failed")
	} else {
		logging.GetLogger().WithFields(fields).Debug("external call ok")
	}
	return err
}

// IsTimeout reports whether err came from a deadline hit inside Run.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
