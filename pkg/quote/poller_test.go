package quote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundswap/pkg/client"
)

type fakeProvider struct {
	calls atomic.Int32
	block bool
	err   error

	mu     sync.Mutex
	params []client.QuoteParams
}

func (f *fakeProvider) GetQuote(ctx context.Context, params client.QuoteParams) (*client.Quote, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.params = append(f.params, params)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &client.Quote{AmountInFormatted: "2", AmountOutFormatted: "301.5"}, nil
}

func TestPollerFetchesImmediatelyAsDryQuote(t *testing.T) {
	provider := &fakeProvider{}
	updates := make(chan Preview, 4)

	p := NewPoller(provider, client.QuoteParams{OriginAsset: "a"}, time.Hour, func(pv Preview) { updates <- pv }, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	select {
	case pv := <-updates:
		require.NoError(t, pv.Err)
		assert.Equal(t, "150.75", pv.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no display quote before the first tick")
	}

	provider.mu.Lock()
	assert.True(t, provider.params[0].Dry)
	provider.mu.Unlock()
	assert.NotNil(t, p.Latest())
}

func TestPollerStopCancelsInFlightFetch(t *testing.T) {
	provider := &fakeProvider{block: true}
	var updates atomic.Int32

	p := NewPoller(provider, client.QuoteParams{}, time.Hour, func(Preview) { updates.Add(1) }, nil)
	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool { return provider.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a fetch was in flight")
	}
	assert.Zero(t, updates.Load(), "a cancelled fetch must not reach the display")

	// idempotent
	p.Stop()
}

func TestPollerReportsErrors(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}
	updates := make(chan Preview, 1)

	p := NewPoller(provider, client.QuoteParams{}, time.Hour, func(pv Preview) { updates <- pv }, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	pv := <-updates
	assert.Error(t, pv.Err)
	assert.Empty(t, pv.Price)
}

func TestPollerRejectsDoubleStart(t *testing.T) {
	p := NewPoller(&fakeProvider{}, client.QuoteParams{}, time.Hour, nil, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Error(t, p.Start(context.Background()))
}

func TestPrice(t *testing.T) {
	assert.Equal(t, "", Price(nil))
	assert.Equal(t, "", Price(&client.Quote{AmountInFormatted: "0", AmountOutFormatted: "1"}))
	assert.Equal(t, "", Price(&client.Quote{AmountInFormatted: "x", AmountOutFormatted: "1"}))
	assert.Equal(t, "0.33333333", Price(&client.Quote{AmountInFormatted: "3", AmountOutFormatted: "1"}))
}
