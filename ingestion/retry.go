// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/prepdocs/core"
)

// Default retry policy for sink calls.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// RetryPolicy bounds how often a sink call is attempted.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Validate checks the policy.
func (r RetryPolicy) Validate() error {
	if r.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if r.BaseDelay < 0 {
		return errors.New("base delay must not be negative")
	}
	return nil
}

// RetryWithBackoff retries an operation with exponential backoff.
// The delay starts at baseDelay and doubles after each failed attempt.
// Configuration errors and context errors are returned without retrying.
// Returns the error from the last attempt if all attempts fail.
func RetryWithBackoff(ctx context.Context, logger *slog.Logger, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		logger.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "err", lastErr)

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return lastErr
}

func retryable(err error) bool {
	switch core.KindOf(err) {
	case core.KindConfiguration, core.KindCanceled:
		return false
	default:
		return true
	}
}
