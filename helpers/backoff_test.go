package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: 100 * time.Millisecond, Max: 1 * time.Second, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())

	b.Failure()
	assert.Equal(t, 100*time.Millisecond, b.Delay())
	b.Failure()
	assert.Equal(t, 200*time.Millisecond, b.Delay())
	b.Failure()
	b.Failure()
	assert.Equal(t, 800*time.Millisecond, b.Delay())
	b.Failure()
	assert.Equal(t, 1*time.Second, b.Delay())
	assert.True(t, b.DelayBefore() > 0)

	b.Update(true)
	assert.Equal(t, 100*time.Millisecond, b.Delay())
}
