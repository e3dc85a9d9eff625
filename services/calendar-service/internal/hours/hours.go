package hours

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// WorkingHours describes one owner's bookable day. Hours are wall-clock hours in Location.
// A break with BreakStartHour == BreakEndHour is treated as no break.
type WorkingHours struct {
	StartHour           int    `json:"start_hour" envconfig:"START_HOUR" default:"9"`
	EndHour             int    `json:"end_hour" envconfig:"END_HOUR" default:"20"`
	SlotDurationMinutes int    `json:"slot_duration_minutes" envconfig:"SLOT_MINUTES" default:"60"`
	BreakStartHour      int    `json:"break_start_hour" envconfig:"BREAK_START_HOUR" default:"14"`
	BreakEndHour        int    `json:"break_end_hour" envconfig:"BREAK_END_HOUR" default:"15"`
	Location            string `json:"location" envconfig:"TIMEZONE" default:"UTC"`
}

func Default() WorkingHours {
	return WorkingHours{
		StartHour:           9,
		EndHour:             20,
		SlotDurationMinutes: 60,
		BreakStartHour:      14,
		BreakEndHour:        15,
		Location:            "UTC",
	}
}

func (w WorkingHours) Validate() error {
	if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return errors.Newf("working hours %d-%d out of range", w.StartHour, w.EndHour)
	}
	if w.SlotDurationMinutes <= 0 {
		return errors.Newf("slot duration must be positive, got %d", w.SlotDurationMinutes)
	}
	if w.BreakStartHour != w.BreakEndHour && w.BreakStartHour > w.BreakEndHour {
		return errors.Newf("break %d-%d is inverted", w.BreakStartHour, w.BreakEndHour)
	}
	if _, err := w.Loc(); err != nil {
		return err
	}
	return nil
}

// Loc resolves Location; empty means UTC.
func (w WorkingHours) Loc() (*time.Location, error) {
	if w.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Location)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", w.Location)
	}
	return loc, nil
}

func (w WorkingHours) HasBreak() bool {
	return w.BreakStartHour < w.BreakEndHour
}

// Provider resolves the working hours of a calendar owner.
type Provider interface {
	WorkingHours(ctx context.Context, ownerID string) (WorkingHours, error)
}

// StaticProvider serves a default plus optional per-owner overrides.
type StaticProvider struct {
	def       WorkingHours
	overrides map[string]WorkingHours
}

func NewStaticProvider(def WorkingHours, overrides map[string]WorkingHours) *StaticProvider {
	return &StaticProvider{def: def, overrides: overrides}
}

func (p *StaticProvider) WorkingHours(_ context.Context, ownerID string) (WorkingHours, error) {
	if wh, ok := p.overrides[ownerID]; ok {
		return wh, nil
	}
	return p.def, nil
}
