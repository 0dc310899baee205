package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSlots(t *testing.T) {
	t.Run("unbounded", func(t *testing.T) {
		l := newScanSlots(0)
		assert.Nil(t, l)

		release, err := l.acquire(context.Background(), "a")
		require.NoError(t, err)
		release()
		assert.Equal(t, 0, l.inUse())
		assert.Equal(t, -1, l.available())
	})

	t.Run("bounded", func(t *testing.T) {
		l := newScanSlots(2)

		releaseA, err := l.acquire(context.Background(), "a")
		require.NoError(t, err)
		releaseB, err := l.acquire(context.Background(), "b")
		require.NoError(t, err)
		assert.Equal(t, 2, l.inUse())
		assert.Equal(t, 0, l.available())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.acquire(ctx, "c")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		releaseA()
		releaseA()
		assert.Equal(t, 1, l.available(), "release is idempotent")

		releaseC, err := l.acquire(context.Background(), "c")
		require.NoError(t, err)
		releaseB()
		releaseC()
		assert.Equal(t, 2, l.available())
	})
}
