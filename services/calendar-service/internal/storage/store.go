package storage

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/interval"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

var (
	ErrNotFound = errors.New("appointment not found")
	// ErrOverlap is returned by stores that enforce the no-overlap invariant themselves.
	ErrOverlap = errors.New("appointment overlaps an existing booking")
	ErrExists  = errors.New("appointment already exists")
)

// Filter selects appointments. Zero fields do not filter.
type Filter struct {
	OwnerID string
	LeadID  string
	// StartFrom/StartTo bound StartTime to [StartFrom, StartTo).
	StartFrom time.Time
	StartTo   time.Time
	// Overlapping keeps appointments whose interval overlaps it.
	Overlapping interval.Interval
	Statuses    []model.Status
	Limit       int
}

func (f Filter) Match(a model.Appointment) bool {
	if f.OwnerID != "" && a.OwnerID != f.OwnerID {
		return false
	}
	if f.LeadID != "" && a.LeadID != f.LeadID {
		return false
	}
	if !f.StartFrom.IsZero() && a.StartTime.Before(f.StartFrom) {
		return false
	}
	if !f.StartTo.IsZero() && !a.StartTime.Before(f.StartTo) {
		return false
	}
	if f.Overlapping.Valid() && !interval.Overlaps(f.Overlapping, a.Interval()) {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if a.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Store persists appointments keyed by id. List results are ordered by StartTime ascending.
type Store interface {
	Insert(ctx context.Context, appt model.Appointment) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	List(ctx context.Context, f Filter) ([]model.Appointment, error)
	Update(ctx context.Context, appt model.Appointment) error
}

// SortByStart orders by StartTime, then ID for determinism.
func SortByStart(appts []model.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].ID < appts[j].ID
		}
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}
