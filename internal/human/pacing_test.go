// File: internal/human/pacing_test.go
package human

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBetweenStaysInBounds(t *testing.T) {
	p := NewPacer()
	for i := 0; i < 1000; i++ {
		d := p.Between(100*time.Millisecond, 300*time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestBetweenDegenerateRange(t *testing.T) {
	p := NewPacer()
	assert.Equal(t, time.Second, p.Between(time.Second, time.Second))
	assert.Equal(t, time.Second, p.Between(time.Second, time.Millisecond))
}

func TestDelayUsesSleep(t *testing.T) {
	var got []time.Duration
	p := NewPacerForTest(func(d time.Duration) { got = append(got, d) })

	require.NoError(t, p.Delay(context.Background(), 50*time.Millisecond, 80*time.Millisecond))
	require.Len(t, got, 1)
	assert.GreaterOrEqual(t, got[0], 50*time.Millisecond)
	assert.LessOrEqual(t, got[0], 80*time.Millisecond)
}
