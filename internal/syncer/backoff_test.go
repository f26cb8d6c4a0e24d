package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayGrowsToCap(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Cap: 2 * time.Minute}

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 16*time.Second, b.Delay(5))
	assert.Equal(t, 2*time.Minute, b.Delay(8))
	assert.Equal(t, 2*time.Minute, b.Delay(50), "stays capped")
}

func TestBackoffDelayClampsBadInput(t *testing.T) {
	b := DefaultBackoff()

	assert.Equal(t, b.Delay(1), b.Delay(0))
	assert.Equal(t, b.Delay(1), b.Delay(-3))
}

func TestBackoffZeroValueUsesDefaults(t *testing.T) {
	var b Backoff

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 2*time.Minute, b.Delay(60))
}
