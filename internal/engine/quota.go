package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxEvents bounds how many events are processed in one burst,
// between two moments the queue is empty.
const DefaultMaxEvents = 100

// Quota counts the events processed in one burst and enforces a limit.
//
// A refresh publishes an event that may write variables, and a variable
// write enqueues a refresh. A host that writes a variable on every
// refresh therefore never lets the queue drain. The quota cuts such a
// cascade instead of spinning forever.
type Quota struct {
	maxEvents int
	current   int
}

// NewQuota creates a quota with the given limit. A non-positive limit
// means DefaultMaxEvents.
func NewQuota(maxEvents int) *Quota {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Quota{maxEvents: maxEvents}
}

// Check counts one event and reports an error once the limit is passed.
func (q *Quota) Check(panelID string) error {
	q.current++
	if q.current > q.maxEvents {
		return &QuotaExceededError{
			PanelID: panelID,
			Events:  q.current,
			Limit:   q.maxEvents,
		}
	}
	return nil
}

// Reset starts a new burst.
func (q *Quota) Reset() {
	q.current = 0
}

// Current returns the events counted in this burst.
func (q *Quota) Current() int {
	return q.current
}

// MaxEvents returns the limit.
func (q *Quota) MaxEvents() int {
	return q.maxEvents
}

// QuotaExceededError is returned when a burst processes more events than
// the quota allows. The event that crossed the limit is dropped.
type QuotaExceededError struct {
	PanelID string
	Events  int
	Limit   int
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("panel %s exceeded event quota: %d events > %d limit",
		e.PanelID, e.Events, e.Limit)
}

// IsQuotaExceededError returns true if the error is a QuotaExceededError.
// Uses errors.As to handle wrapped errors.
func IsQuotaExceededError(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
