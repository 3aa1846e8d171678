package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, kv KV) *Manager {
	t.Helper()
	m := NewManager(ManagerOptions{
		Responder: &scriptedResponder{},
		Personas:  testCatalog(t),
		Publisher: &recorder{},
		KV:        kv,
		Clock:     newManualClock(testStart),
		Rand:      random.Fixed(0.99),
		Delays:    testDelays,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(m.Close)
	return m
}

func TestManager(t *testing.T) {
	t.Run("Sockets of one session share the engine", func(t *testing.T) {
		m := newTestManager(t, nil)
		ctx := context.Background()

		a, err := m.Acquire(ctx, "s1")
		require.NoError(t, err)
		b, err := m.Acquire(ctx, "s1")
		require.NoError(t, err)
		other, err := m.Acquire(ctx, "s2")
		require.NoError(t, err)

		assert.Same(t, a, b)
		assert.NotSame(t, a, other)
		assert.Equal(t, 2, m.Active())

		m.Release("s1")
		assert.Equal(t, 2, m.Active())
		m.Release("s1")
		assert.Equal(t, 1, m.Active())
		assert.ErrorIs(t, a.Reset(), ErrEngineClosed)

		m.Release("unknown")
		assert.Equal(t, 1, m.Active())
	})

	t.Run("A new engine restores the transcript", func(t *testing.T) {
		kv := NewMemoryKV()
		m := newTestManager(t, kv)
		ctx := context.Background()

		first, err := m.Acquire(ctx, "s1")
		require.NoError(t, err)
		require.NoError(t, first.Configure(enfpFriend))
		m.Release("s1")

		second, err := m.Acquire(ctx, "s1")
		require.NoError(t, err)
		assert.NotSame(t, first, second)
		assert.Equal(t, &enfpFriend, second.Snapshot().Config)
	})

	t.Run("Close shuts every engine", func(t *testing.T) {
		m := newTestManager(t, nil)
		e, err := m.Acquire(context.Background(), "s1")
		require.NoError(t, err)

		m.Close()

		assert.Equal(t, 0, m.Active())
		assert.ErrorIs(t, e.Configure(enfpFriend), ErrEngineClosed)
	})

	t.Run("Published events reach the session topic", func(t *testing.T) {
		events := &recorder{}
		clock := newManualClock(testStart)
		m := NewManager(ManagerOptions{
			Responder: &scriptedResponder{},
			Personas:  testCatalog(t),
			Publisher: events,
			Clock:     clock,
			Rand:      random.Fixed(0.99),
			Delays:    testDelays,
			Logger:    zerolog.Nop(),
		})
		defer m.Close()

		e, err := m.Acquire(context.Background(), "s9")
		require.NoError(t, err)
		require.NoError(t, e.Configure(enfpFriend))
		clock.Advance(1500 * time.Millisecond)

		got := events.Events()
		require.Len(t, got, 2)
		assert.Equal(t, EventReset, got[0].Type)
		assert.Equal(t, EventMessage, got[1].Type)
		assert.Equal(t, "s9", got[1].SessionID)
	})
}
