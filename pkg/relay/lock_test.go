package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func assertSerialized(t *testing.T, locker Locker) {
	t.Helper()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), SpendLockKey("relay"), func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
}

func TestLocalLockerSerializes(t *testing.T) {
	assertSerialized(t, NewLocalLocker())
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	hold := make(chan struct{})
	released := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "k", func(context.Context) error {
			close(hold)
			<-released
			return nil
		})
	}()
	<-hold

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "k", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(released)

	assert.ErrorIs(t, locker.WithLock(context.Background(), " ", func(context.Context) error { return nil }), ErrEmptyLockKey)
}

func TestRedisLockerSerializes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, LockOptions{Expiry: time.Minute, Tries: 200, RetryDelay: 2 * time.Millisecond}, zaptest.NewLogger(t))
	assertSerialized(t, locker)

	require.False(t, mr.Exists(SpendLockKey("relay")), "lock released")
}
