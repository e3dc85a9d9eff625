package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/interval"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

var base = time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	for _, a := range []model.Appointment{
		{ID: "c", OwnerID: "o1", LeadID: "l1", StartTime: base.Add(15 * time.Hour), EndTime: base.Add(16 * time.Hour), Status: model.StatusScheduled},
		{ID: "a", OwnerID: "o1", LeadID: "l2", StartTime: base.Add(9 * time.Hour), EndTime: base.Add(10 * time.Hour), Status: model.StatusConfirmed},
		{ID: "b", OwnerID: "o1", LeadID: "l1", StartTime: base.Add(11 * time.Hour), EndTime: base.Add(12 * time.Hour), Status: model.StatusCancelled},
		{ID: "d", OwnerID: "o2", LeadID: "l3", StartTime: base.Add(9 * time.Hour), EndTime: base.Add(10 * time.Hour), Status: model.StatusScheduled},
	} {
		require.NoError(t, s.Insert(ctx, a))
	}
}

func ids(appts []model.Appointment) []string {
	out := make([]string, len(appts))
	for i, a := range appts {
		out[i] = a.ID
	}
	return out
}

func TestMemoryStore_ListFiltersAndSorts(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	got, err := s.List(ctx, Filter{OwnerID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))

	got, err = s.List(ctx, Filter{LeadID: "l1", Statuses: []model.Status{model.StatusScheduled}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(got))

	got, err = s.List(ctx, Filter{StartFrom: base.Add(9 * time.Hour), StartTo: base.Add(11 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, ids(got))

	got, err = s.List(ctx, Filter{OwnerID: "o1", Overlapping: interval.New(base.Add(9*time.Hour+30*time.Minute), base.Add(11*time.Hour+30*time.Minute))})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))

	got, err = s.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStore_GetUpdate(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	a, err := s.Get(ctx, "a")
	require.NoError(t, err)
	a.Title = "changed"
	require.NoError(t, s.Update(ctx, a))

	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "changed", again.Title)

	err = s.Update(ctx, model.Appointment{ID: "missing"})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.Insert(ctx, model.Appointment{ID: "a"})
	assert.True(t, errors.Is(err, ErrExists))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := base
	require.NoError(t, s.Insert(ctx, model.Appointment{ID: "x", CancelledAt: &now}))

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	*got.CancelledAt = now.Add(time.Hour)

	again, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.True(t, again.CancelledAt.Equal(now), "stored value must not alias caller copies")
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(Filter{
		OwnerID:     "o1",
		Overlapping: interval.New(base, base.Add(time.Hour)),
		Statuses:    []model.Status{model.StatusScheduled, model.StatusConfirmed},
	})
	assert.Equal(t, " WHERE owner_id = $1 AND start_time < $2 AND end_time > $3 AND status = ANY($4)", where)
	assert.Len(t, args, 4)

	where, args = buildWhere(Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
