package webdav

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusOrder(t *testing.T) {
	bus := NewEventBus()
	var calls []string
	record := func(name string) Listener {
		return func(args ...any) (bool, error) {
			calls = append(calls, name)
			return true, nil
		}
	}

	bus.On("e", 100, record("b1"))
	bus.On("e", 10, record("a"))
	bus.On("e", 100, record("b2"))
	bus.On("e", 200, record("c"))

	ok, err := bus.Emit("e")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, calls)
	assert.Len(t, bus.Listeners("e"), 4)
	assert.Empty(t, bus.Listeners("other"))
}

func TestEventBusStop(t *testing.T) {
	tests := []struct {
		name     string
		listener Listener
		wantOK   bool
		wantErr  bool
		wantRuns int
	}{
		{
			name:     "返回 false 停止",
			listener: func(args ...any) (bool, error) { return false, nil },
			wantOK:   false,
			wantRuns: 0,
		},
		{
			name:     "返回错误停止",
			listener: func(args ...any) (bool, error) { return true, errors.New("boom") },
			wantErr:  true,
			wantRuns: 0,
		},
		{
			name:     "继续执行",
			listener: func(args ...any) (bool, error) { return true, nil },
			wantOK:   true,
			wantRuns: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewEventBus()
			runs := 0
			bus.On("e", 1, tt.listener)
			bus.On("e", 2, func(args ...any) (bool, error) {
				runs++
				return true, nil
			})

			ok, err := bus.Emit("e")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantRuns, runs)
		})
	}
}

func TestEventBusArgs(t *testing.T) {
	bus := NewEventBus()
	var got []any
	bus.On("e", 1, func(args ...any) (bool, error) {
		got = args
		return true, nil
	})
	_, err := bus.Emit("e", "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 1}, got)
}
