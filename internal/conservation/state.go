// Package conservation owns the lifecycle of a conservation alert: the
// transitions an agent can apply and the time-based outreach that fires
// once the grace period runs out.
package conservation

import (
	"errors"
	"time"

	"touchpoint-service/internal/models"
)

var (
	ErrGracePeriodExpired = errors.New("grace period expired, the outreach may already have been sent")
	ErrNotScheduled       = errors.New("no outreach is scheduled for this alert")
	ErrAlreadyResolved    = errors.New("alert is already resolved")
	ErrNotNew             = errors.New("only new alerts can be armed")
)

// ErrInvalidResolution is a validation error: resolve only accepts saved or lost.
var ErrInvalidResolution = errors.New("status must be saved or lost")

// ConflictError reports a transition the alert's current state does not
// allow. Nothing is mutated when it is returned.
type ConflictError struct {
	Reason error
}

func (e *ConflictError) Error() string { return e.Reason.Error() }

func (e *ConflictError) Unwrap() error { return e.Reason }

func conflict(reason error) error { return &ConflictError{Reason: reason} }

// Arm moves a new alert to outreach_scheduled with the deadline now+grace.
func Arm(a models.ConservationAlert, now time.Time, grace time.Duration) (models.ConservationAlert, error) {
	if a.Status.Terminal() {
		return a, conflict(ErrAlreadyResolved)
	}
	if a.Status != models.AlertNew {
		return a, conflict(ErrNotNew)
	}
	deadline := now.Add(grace)
	a.Status = models.AlertOutreachScheduled
	a.ScheduledOutreachAt = &deadline
	a.OutreachFiredAt = nil
	a.UpdatedAt = now
	return a, nil
}

// Cancel returns a scheduled alert to new. It is only allowed strictly
// before the deadline, whatever the outreach worker has or has not done.
func Cancel(a models.ConservationAlert, now time.Time) (models.ConservationAlert, error) {
	if a.Status.Terminal() {
		return a, conflict(ErrAlreadyResolved)
	}
	if a.Status != models.AlertOutreachScheduled {
		return a, conflict(ErrNotScheduled)
	}
	if a.ScheduledOutreachAt == nil || a.OutreachFiredAt != nil || !now.Before(*a.ScheduledOutreachAt) {
		return a, conflict(ErrGracePeriodExpired)
	}
	a.Status = models.AlertNew
	a.ScheduledOutreachAt = nil
	a.OutreachFiredAt = nil
	a.UpdatedAt = now
	return a, nil
}

// Resolve closes a non-terminal alert as saved or lost. notes replaces the
// stored notes when non-nil.
func Resolve(a models.ConservationAlert, status models.AlertStatus, notes *string, now time.Time) (models.ConservationAlert, error) {
	if !status.Terminal() {
		return a, ErrInvalidResolution
	}
	if a.Status.Terminal() {
		return a, conflict(ErrAlreadyResolved)
	}
	a.Status = status
	if notes != nil {
		a.Notes = *notes
	}
	a.ResolvedAt = &now
	a.UpdatedAt = now
	return a, nil
}
