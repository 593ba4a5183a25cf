package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnownKind(t *testing.T) {
	assert.True(t, KnownKind(TourStarted))
	assert.True(t, KnownKind(BatteryCritical))
	assert.False(t, KnownKind("TOUR_PAUSED"))
	assert.False(t, KnownKind(""))
}

func TestFormatLine_DeterministicFieldOrder(t *testing.T) {
	ev := Event{
		Kind:       BatteryLow,
		OccurredAt: "2026-08-30T12:00:00Z",
		Data: map[string]any{
			"robot": "turtlebot-1",
			"level": 18.5,
		},
	}
	line := FormatLine(ev)
	assert.Equal(t, "[2026-08-30T12:00:00Z] BATTERY_LOW | level=18.5 | robot=turtlebot-1", line)
}
