package hours

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	cases := map[string]WorkingHours{
		"inverted hours": {StartHour: 20, EndHour: 9, SlotDurationMinutes: 60},
		"past midnight":  {StartHour: 9, EndHour: 25, SlotDurationMinutes: 60},
		"zero slot":      {StartHour: 9, EndHour: 17},
		"inverted break": {StartHour: 9, EndHour: 17, SlotDurationMinutes: 30, BreakStartHour: 15, BreakEndHour: 14},
		"bad timezone":   {StartHour: 9, EndHour: 17, SlotDurationMinutes: 30, Location: "Mars/Olympus"},
	}
	for name, wh := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, wh.Validate())
		})
	}
}

func TestHasBreak(t *testing.T) {
	assert.True(t, Default().HasBreak())
	wh := Default()
	wh.BreakStartHour, wh.BreakEndHour = 0, 0
	assert.False(t, wh.HasBreak())
	require.NoError(t, wh.Validate())
}

func TestStaticProvider_Overrides(t *testing.T) {
	custom := WorkingHours{StartHour: 7, EndHour: 13, SlotDurationMinutes: 45, Location: "Europe/Madrid"}
	p := NewStaticProvider(Default(), map[string]WorkingHours{"trainer-2": custom})

	got, err := p.WorkingHours(context.Background(), "trainer-1")
	require.NoError(t, err)
	assert.Equal(t, Default(), got)

	got, err = p.WorkingHours(context.Background(), "trainer-2")
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}
