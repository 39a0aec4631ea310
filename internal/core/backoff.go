package core

import (
	"time"

	"github.com/kilupskalvis/libsync/internal/models"
)

// Backoff is the cool-down applied to objects that failed to sync. The delay
// after the n-th failure is Base*2^(n-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the policy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Minute, Max: 24 * time.Hour}
}

// Delay returns the cool-down after the given number of failed attempts.
func (b Backoff) Delay(retries int) time.Duration {
	if retries <= 0 || b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < retries; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Delayed reports whether the object is still cooling down at now.
func (b Backoff) Delayed(meta *models.SyncMetadata, now time.Time) bool {
	if meta.SyncRetries == 0 {
		return false
	}
	return now.Before(meta.LastSyncDate.Add(b.Delay(meta.SyncRetries)))
}
