package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

// ConflictError reports a proposed interval overlapping non-cancelled appointments of the
// same owner. ConflictingIDs may be empty when the database constraint caught the race.
type ConflictError struct {
	OwnerID        string
	Start          time.Time
	End            time.Time
	ConflictingIDs []string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("owner %s already has an appointment overlapping %s-%s",
		e.OwnerID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	if len(e.ConflictingIDs) > 0 {
		msg += " (" + strings.Join(e.ConflictingIDs, ", ") + ")"
	}
	return msg
}

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("appointment %s not found", e.ID)
}

type InvalidTransitionError struct {
	ID   string
	From model.Status
	To   model.Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("appointment %s is %s and can no longer be modified", e.ID, e.From)
	}
	return fmt.Sprintf("appointment %s cannot move from %s to %s", e.ID, e.From, e.To)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
