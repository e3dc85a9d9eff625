package metrics

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Transition("create", "scheduled")
	m.Conflict()
	m.Conflict()
	m.Sync("google", nil)
	m.Sync("google", errors.New("boom"))
	m.ObserveHTTP("POST", "POST /api/v1/appointments", 201, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.appointments.WithLabelValues("create", "scheduled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sync.WithLabelValues("google", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "POST /api/v1/appointments", "201")))
}

func TestMetrics_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("create", "scheduled")
	m.Conflict()
	m.Notification("reminder_24h", "sent")
	m.Sync("google", nil)
	m.EventDropped("appointment.booked")
	m.HandlerError("appointment.booked", "confirmation")
	m.Sweep(time.Second)
	m.ObserveHTTP("GET", "/", 200, time.Millisecond)
}
