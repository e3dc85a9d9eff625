package storage

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

// MemoryStore keeps appointments in a map. It does not check overlaps; that is the ledger's job.
type MemoryStore struct {
	mu    sync.RWMutex
	appts map[string]model.Appointment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appts: map[string]model.Appointment{}}
}

func (s *MemoryStore) Insert(_ context.Context, appt model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[appt.ID]; ok {
		return errors.Wrapf(ErrExists, "id %s", appt.ID)
	}
	s.appts[appt.ID] = appt.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return appt.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.Appointment, error) {
	s.mu.RLock()
	out := make([]model.Appointment, 0, len(s.appts))
	for _, appt := range s.appts {
		if f.Match(appt) {
			out = append(out, appt.Clone())
		}
	}
	s.mu.RUnlock()

	SortByStart(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, appt model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[appt.ID]; !ok {
		return errors.Wrapf(ErrNotFound, "id %s", appt.ID)
	}
	s.appts[appt.ID] = appt.Clone()
	return nil
}
