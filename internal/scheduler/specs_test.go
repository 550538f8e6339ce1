package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDailyAt tests HH:MM to cron conversion
func TestDailyAt(t *testing.T) {
	spec, err := DailyAt("09:05")
	require.NoError(t, err)
	assert.Equal(t, "5 9 * * *", spec)

	spec, err = DailyAt("00:00")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * *", spec)

	spec, err = DailyAt(" 23:30 ")
	require.NoError(t, err)
	assert.Equal(t, "30 23 * * *", spec)

	_, err = DailyAt("25:00")
	assert.Error(t, err)
	_, err = DailyAt("nine")
	assert.Error(t, err)
	_, err = DailyAt("")
	assert.Error(t, err)
}

// TestEveryHours tests hour-step specs
func TestEveryHours(t *testing.T) {
	assert.Equal(t, "0 */4 * * *", EveryHours(4))
	assert.Equal(t, "0 */1 * * *", EveryHours(1))
	assert.Equal(t, "0 */1 * * *", EveryHours(0))
	assert.Equal(t, "0 0 * * *", EveryHours(24))
	assert.Equal(t, "0 0 * * *", EveryHours(48))
}

// TestEveryMinutes tests minute-step specs
func TestEveryMinutes(t *testing.T) {
	assert.Equal(t, "*/15 * * * *", EveryMinutes(15))
	assert.Equal(t, "*/1 * * * *", EveryMinutes(0))
	assert.Equal(t, "0 */1 * * *", EveryMinutes(60))
	assert.Equal(t, "0 */2 * * *", EveryMinutes(120))
	assert.Equal(t, "*/59 * * * *", EveryMinutes(59))
}
