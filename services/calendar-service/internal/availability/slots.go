package availability

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/hours"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/interval"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

// MaxRangeDays bounds ForRange.
const MaxRangeDays = 62

var (
	ErrRangeTooLarge = errors.New("availability range too large")
	ErrInvertedRange = errors.New("availability range end is before start")
)

// Generate returns the slots of one calendar day. The year, month and day of date are read
// as-is and interpreted in wh.Location.
//
// Steps start at StartHour and advance by SlotDurationMinutes; a step starting inside the
// break is skipped and no step starts at or after EndHour. Only the step start is checked,
// so the last slot may run past EndHour when the duration does not divide the day evenly.
// A slot is unavailable when it overlaps any appointment in appts that starts on that day
// and is not cancelled.
func Generate(wh hours.WorkingHours, date time.Time, appts []model.Appointment) (model.Availability, error) {
	if err := wh.Validate(); err != nil {
		return model.Availability{}, err
	}
	loc, err := wh.Loc()
	if err != nil {
		return model.Availability{}, err
	}
	y, m, d := date.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	busy := busyOn(appts, dayStart, dayEnd)
	step := time.Duration(wh.SlotDurationMinutes) * time.Minute

	out := model.Availability{Date: dayStart.Format(model.DateLayout), Slots: []model.TimeSlot{}}
	breakStart, breakEnd := wh.BreakStartHour*60, wh.BreakEndHour*60
	for off := wh.StartHour * 60; off < wh.EndHour*60; off += wh.SlotDurationMinutes {
		if wh.HasBreak() && off >= breakStart && off < breakEnd {
			continue
		}
		start := time.Date(y, m, d, 0, off, 0, 0, loc)
		slot := interval.New(start, start.Add(step))
		out.Slots = append(out.Slots, model.TimeSlot{
			Start:     slot.Start,
			End:       slot.End,
			Available: !interval.OverlapsAny(slot, busy),
		})
	}
	return out, nil
}

func busyOn(appts []model.Appointment, dayStart, dayEnd time.Time) []interval.Interval {
	var busy []interval.Interval
	for _, a := range appts {
		if !a.Blocks() {
			continue
		}
		if a.StartTime.Before(dayStart) || !a.StartTime.Before(dayEnd) {
			continue
		}
		busy = append(busy, a.Interval())
	}
	return busy
}

// Source lists the appointments of an owner whose start is in [start, end), from one
// consistent snapshot.
type Source interface {
	AppointmentsStartingBetween(ctx context.Context, ownerID string, start, end time.Time) ([]model.Appointment, error)
}

type Generator struct {
	hours  hours.Provider
	source Source
}

func NewGenerator(provider hours.Provider, source Source) *Generator {
	return &Generator{hours: provider, source: source}
}

// ForDate computes one owner's availability for the calendar day of date.
func (g *Generator) ForDate(ctx context.Context, ownerID string, date time.Time) (model.Availability, error) {
	days, err := g.ForRange(ctx, ownerID, date, date)
	if err != nil {
		return model.Availability{}, err
	}
	return days[0], nil
}

// ForRange returns one Availability per calendar day from start to end, both inclusive.
func (g *Generator) ForRange(ctx context.Context, ownerID string, start, end time.Time) ([]model.Availability, error) {
	wh, err := g.hours.WorkingHours(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrapf(err, "working hours for owner %s", ownerID)
	}
	loc, err := wh.Loc()
	if err != nil {
		return nil, err
	}

	first := dayOf(start, loc)
	last := dayOf(end, loc)
	if last.Before(first) {
		return nil, errors.Wrapf(ErrInvertedRange, "%s before %s", last.Format(model.DateLayout), first.Format(model.DateLayout))
	}
	days := 0
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days++
		if days > MaxRangeDays {
			return nil, errors.Wrapf(ErrRangeTooLarge, "max %d days", MaxRangeDays)
		}
	}

	appts, err := g.source.AppointmentsStartingBetween(ctx, ownerID, first, last.AddDate(0, 0, 1))
	if err != nil {
		return nil, errors.Wrap(err, "list appointments")
	}

	out := make([]model.Availability, 0, days)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		day, err := Generate(wh, d, appts)
		if err != nil {
			return nil, err
		}
		out = append(out, day)
	}
	return out, nil
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
