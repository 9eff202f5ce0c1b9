package system_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavefire/Tapo-Directory/internal/clock/system"
)

func TestNowIsUTC(t *testing.T) {
	t.Parallel()

	got := system.New().Now()
	assert.Equal(t, time.UTC, got.Location(),
		"catalog dates derive from this clock and must not depend on the host timezone")
}

func TestNowTracksWallClock(t *testing.T) {
	t.Parallel()

	clk := system.New()
	before := time.Now().UTC()
	got := clk.Now()
	after := time.Now().UTC()

	require.False(t, got.Before(before.Add(-time.Second)))
	require.False(t, got.After(after.Add(time.Second)))
}
