package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_GrowsByFactor(t *testing.T) {
	b := NewExponentialBackoff(time.Second, time.Minute, 2.0, 0)

	assert.Equal(t, time.Second, b.Next(0))
	assert.Equal(t, 2*time.Second, b.Next(1))
	assert.Equal(t, 4*time.Second, b.Next(2))
}

func TestExponentialBackoff_CapsAtMax(t *testing.T) {
	b := NewExponentialBackoff(time.Second, 5*time.Second, 2.0, 0)

	assert.Equal(t, 5*time.Second, b.Next(10))
}

func TestExponentialBackoff_JitterStaysInRange(t *testing.T) {
	b := NewExponentialBackoff(time.Second, time.Minute, 2.0, 0.25)

	for i := 0; i < 100; i++ {
		wait := b.Next(1)
		assert.GreaterOrEqual(t, wait, 1500*time.Millisecond)
		assert.LessOrEqual(t, wait, 2500*time.Millisecond)
	}
}

func TestExponentialBackoff_NegativeAttempt(t *testing.T) {
	b := NewExponentialBackoff(time.Second, time.Minute, 2.0, 0)

	assert.Equal(t, time.Second, b.Next(-1))
}

func TestConstantBackoff(t *testing.T) {
	b := NewConstantBackoff(time.Second)

	assert.Equal(t, time.Second, b.Next(0))
	assert.Equal(t, time.Second, b.Next(5))
}

func TestFullJitterBackoff_BoundedByCeiling(t *testing.T) {
	b := NewFullJitterBackoff(time.Second, 4*time.Second)

	for attempt := 0; attempt < 6; attempt++ {
		for i := 0; i < 50; i++ {
			wait := b.Next(attempt)
			assert.GreaterOrEqual(t, wait, time.Duration(0))
			assert.LessOrEqual(t, wait, 4*time.Second)
		}
	}
}
