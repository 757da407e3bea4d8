package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePauses(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []time.Duration
		wantErr  bool
	}{
		{"empty", "", nil, false},
		{"blank", "   ", nil, false},
		{"single", "1s", []time.Duration{time.Second}, false},
		{"list with spaces", "50ms, 100ms ,250ms", DefaultPauses(), false},
		{"zero allowed", "0s,1ms", []time.Duration{0, time.Millisecond}, false},
		{"negative rejected", "10ms,-1ms", nil, true},
		{"garbage rejected", "soon", nil, true},
		{"empty element rejected", "10ms,,20ms", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pauses, err := ParsePauses(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pauses)
		})
	}
}

func TestExponentialPauses(t *testing.T) {
	t.Run("grows and caps", func(t *testing.T) {
		pauses := ExponentialPauses(10*time.Millisecond, 100*time.Millisecond, 2, 5)
		assert.Equal(t, []time.Duration{
			10 * time.Millisecond,
			20 * time.Millisecond,
			40 * time.Millisecond,
			80 * time.Millisecond,
			100 * time.Millisecond,
		}, pauses)
	})

	t.Run("multiplier below one is flat", func(t *testing.T) {
		pauses := ExponentialPauses(time.Second, 0, 0.5, 3)
		assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, pauses)
	})

	t.Run("does not overflow", func(t *testing.T) {
		pauses := ExponentialPauses(time.Hour, 0, 1e12, 3)
		require.Len(t, pauses, 3)
		assert.Equal(t, time.Hour, pauses[0])
		assert.Equal(t, maxDuration, pauses[1])
		assert.Equal(t, maxDuration, pauses[2])
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.Nil(t, ExponentialPauses(time.Second, 0, 2, 0))
		assert.Nil(t, ExponentialPauses(-time.Second, 0, 2, 3))
	})
}

func TestPauseFor(t *testing.T) {
	assert.Equal(t, time.Duration(0), pauseFor(nil, 1))
	assert.Equal(t, time.Duration(0), pauseFor(DefaultPauses(), -1))
	assert.Equal(t, 5*time.Second, pauseFor([]time.Duration{5 * time.Second}, 7))
}

func TestItemNext(t *testing.T) {
	item := newItem("payload")
	next := item.next()

	assert.Equal(t, 0, item.Attempts)
	assert.Equal(t, 1, next.Attempts)
	assert.Equal(t, "payload", next.Message)
}
