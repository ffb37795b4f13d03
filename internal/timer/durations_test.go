package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "00:02:30", FormatDuration(2*time.Minute+30*time.Second))
	assert.Equal(t, "01:00:00", FormatDuration(time.Hour))
	assert.Equal(t, "120:00:01", FormatDuration(120*time.Hour+time.Second))
	assert.Equal(t, "00:00:00", FormatDuration(-time.Minute), "negatives clamp to zero")
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("00:02:30")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute+30*time.Second, d)

	d, err = ParseDuration("  01:00:00 ")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = ParseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDuration("2:30")
	assert.Error(t, err)
	_, err = ParseDuration("aa:bb:cc")
	assert.Error(t, err)
}
