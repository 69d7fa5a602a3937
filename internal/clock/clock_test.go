package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReal_NowIsCurrent(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestFixed_NowReturnsPinnedTime(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFixed(t0)
	assert.True(t, f.Now().Equal(t0))
	assert.True(t, f.Now().Equal(t0), "repeated calls do not advance the clock")
}

func TestFixed_Advance(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFixed(t0)
	f.Advance(5 * time.Minute)
	assert.True(t, f.Now().Equal(t0.Add(5*time.Minute)))
}

func TestFixed_Set(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2027, 6, 15, 12, 0, 0, 0, time.UTC)
	f := NewFixed(t0)
	f.Set(t1)
	assert.True(t, f.Now().Equal(t1))
}
