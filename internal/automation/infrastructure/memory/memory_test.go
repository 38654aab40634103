package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	automation "terrarium-cloud/internal/automation/domain"
)

func TestRecorderKeepsLastCommandPerActuator(t *testing.T) {
	r := NewRecorder(nil)
	ctx := context.Background()
	require.NoError(t, r.SetActuator(ctx, automation.Command{SourceID: "tank-1", Actuator: automation.ActuatorLight, On: true, Brightness: 100}))
	require.NoError(t, r.SetActuator(ctx, automation.Command{SourceID: "tank-1", Actuator: automation.ActuatorLight, On: false}))
	require.NoError(t, r.SetActuator(ctx, automation.Command{SourceID: "tank-1", Actuator: automation.ActuatorHumidifier, On: true}))

	light, ok := r.Last("tank-1", automation.ActuatorLight)
	require.True(t, ok)
	assert.False(t, light.On)

	mist, ok := r.Last("tank-1", automation.ActuatorHumidifier)
	require.True(t, ok)
	assert.True(t, mist.On)

	_, ok = r.Last("tank-2", automation.ActuatorLight)
	assert.False(t, ok)
}

func TestCommandLogListAndDeleteBefore(t *testing.T) {
	l := NewCommandLog()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(ctx, automation.CommandRecord{
			Command: automation.Command{SourceID: "tank-1", Actuator: automation.ActuatorHumidifier, At: base.Add(time.Duration(2-i) * time.Hour)},
		}))
	}
	require.NoError(t, l.Append(ctx, automation.CommandRecord{Command: automation.Command{SourceID: "tank-2", At: base}}))

	got, err := l.List(ctx, "tank-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Command.At.Equal(base))

	deleted, err := l.DeleteBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	got, err = l.List(ctx, "tank-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Command.At.Equal(base.Add(2*time.Hour)))
}
