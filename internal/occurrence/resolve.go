// Package occurrence decides whether a touchpoint is due for an entity on a
// given day and names the occurrence with a stable dedup key.
package occurrence

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"touchpoint-service/internal/holiday"
	"touchpoint-service/internal/models"
)

const day = 24 * time.Hour

// Checker is the read side of the idempotency ledger.
type Checker interface {
	HasFired(ctx context.Context, entityID, occurrenceKey string) (bool, error)
}

// Resolution is the answer for one entity and one touchpoint type.
type Resolution struct {
	Due       bool
	Key       Key
	DaysUntil int
}

// Birthday is due when the client's parsed date of birth falls on today's
// UTC month and day and the current year has not been recorded yet.
// Unparseable dates are never due.
func Birthday(ctx context.Context, ledger Checker, c models.Client, now time.Time) (Resolution, error) {
	now = now.UTC()
	dob, ok := ParseDateOfBirth(c.DateOfBirth)
	if !ok {
		return Resolution{}, nil
	}
	if dob.Month() != now.Month() || dob.Day() != now.Day() {
		return Resolution{}, nil
	}
	key := Key{Kind: KindBirthday, Value: strconv.Itoa(now.Year())}
	return gate(ctx, ledger, c.ID, key, 0)
}

// Holiday is due when today is a recognized holiday not yet recorded for
// the client. The returned holiday is zero when today is not a holiday.
func Holiday(ctx context.Context, ledger Checker, c models.Client, now time.Time) (Resolution, holiday.Holiday, error) {
	now = now.UTC()
	h, ok := holiday.For(now)
	if !ok {
		return Resolution{}, holiday.Holiday{}, nil
	}
	key := Key{Kind: KindHoliday, Value: HolidayKey(h, now.Year())}
	r, err := gate(ctx, ledger, c.ID, key, 0)
	return r, h, err
}

// HolidayKey is the per-client holiday dedup key, e.g. christmas_2025.
func HolidayKey(h holiday.Holiday, year int) string {
	return fmt.Sprintf("%s_%d", h.ID, year)
}

// NextAnniversary shifts created forward by whole years (at least one) until
// it is not before now, and returns that instant with the whole days left,
// rounded up.
func NextAnniversary(created, now time.Time) (time.Time, int) {
	created = created.UTC()
	now = now.UTC()
	anchor := created.AddDate(1, 0, 0)
	for years := 2; anchor.Before(now); years++ {
		anchor = created.AddDate(years, 0, 0)
	}
	daysUntil := int(math.Ceil(float64(anchor.Sub(now)) / float64(day)))
	return anchor, daysUntil
}

// AnniversaryAgent is the agent digest gate: due when the next anniversary is
// within windowDays and the agent has not been told about that anniversary
// year. It does not depend on the client having a push address.
func AnniversaryAgent(ctx context.Context, ledger Checker, p models.Policy, now time.Time, windowDays int) (Resolution, error) {
	anchor, daysUntil := NextAnniversary(p.CreatedAt, now)
	if daysUntil < 0 || daysUntil > windowDays {
		return Resolution{DaysUntil: daysUntil}, nil
	}
	key := Key{Kind: KindAnniversaryAgent, Value: strconv.Itoa(anchor.Year())}
	return gate(ctx, ledger, p.ID, key, daysUntil)
}

// AnniversaryClient is the narrower client push gate. It only opens while the
// agent gate is open, the client has a push address, and the client has not
// been pushed for that anniversary year.
func AnniversaryClient(ctx context.Context, ledger Checker, c models.Client, p models.Policy, agent Resolution) (Resolution, error) {
	if !agent.Due || c.PushAddress == "" {
		return Resolution{DaysUntil: agent.DaysUntil}, nil
	}
	key := Key{Kind: KindAnniversaryClient, Value: agent.Key.Value}
	return gate(ctx, ledger, p.ID, key, agent.DaysUntil)
}

func gate(ctx context.Context, ledger Checker, entityID string, key Key, daysUntil int) (Resolution, error) {
	fired, err := ledger.HasFired(ctx, entityID, key.String())
	if err != nil {
		return Resolution{}, fmt.Errorf("check %s for %s: %w", key, entityID, err)
	}
	return Resolution{Due: !fired, Key: key, DaysUntil: daysUntil}, nil
}
