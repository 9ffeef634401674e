package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestWindow(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)
	r.WithNow(fixed(time.Date(2026, 3, 10, 17, 45, 0, 0, time.UTC)))

	start, end := r.Window(0)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	start, _ = r.Window(-2)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), start)

	start, _ = r.Window(1)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), start)
	assert.False(t, r.Faked())
	assert.Equal(t, 0, r.DayOffset())
}

func TestFakeDate(t *testing.T) {
	for _, in := range []string{"2012-09-01T00:00:00", "2012-09-01"} {
		r, err := New(in)
		require.NoError(t, err)
		r.WithNow(fixed(time.Date(2012, 9, 11, 23, 59, 0, 0, time.FixedZone("CEST", 2*3600))))

		assert.True(t, r.Faked())
		assert.Equal(t, -10, r.DayOffset())
		start, _ := r.Window(r.DayOffset())
		assert.Equal(t, time.Date(2012, 9, 1, 0, 0, 0, 0, time.UTC), start)
	}
}

func TestDisabledFakeDate(t *testing.T) {
	r, err := New("false")
	require.NoError(t, err)
	assert.False(t, r.Faked())

	_, err = New("first of september")
	assert.Error(t, err)
}
