// Package quote keeps a display quote fresh while the user decides whether to
// start a transfer.
package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fundswap/pkg/client"
)

const (
	DefaultInterval = 15 * time.Second
	MinInterval     = 5 * time.Second // avoid rate limiting
)

// Provider prices a movement without reserving a deposit address
type Provider interface {
	GetQuote(ctx context.Context, params client.QuoteParams) (*client.Quote, error)
}

// Preview is one display refresh
type Preview struct {
	Quote *client.Quote
	// Price is destination units per origin unit, from the formatted amounts
	Price string
	Err   error
}

// Poller refreshes a dry quote on a fixed interval until stopped
type Poller struct {
	provider Provider
	params   client.QuoteParams
	interval time.Duration
	onUpdate func(Preview)
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	latest  *Preview
}

// NewPoller creates a poller. onUpdate is called from the polling goroutine.
func NewPoller(provider Provider, params client.QuoteParams, interval time.Duration, onUpdate func(Preview), logger *zap.Logger) *Poller {
	if interval < MinInterval {
		interval = MinInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	params.Dry = true
	return &Poller{
		provider: provider,
		params:   params,
		interval: interval,
		onUpdate: onUpdate,
		logger:   logger.Named("quote-poller"),
	}
}

// Start fetches immediately and then on every tick
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("quote poller is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(ctx, p.done)
	return nil
}

// Stop cancels any in-flight fetch and waits for the loop to exit. It is safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Latest returns the most recent refresh, or nil before the first one
func (p *Poller) Latest() *Preview {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("stopped")
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	q, err := p.provider.GetQuote(ctx, p.params)
	if ctx.Err() != nil {
		// a fetch cut short by Stop is not a display update
		return
	}

	preview := Preview{Quote: q, Err: err}
	if err != nil {
		p.logger.Warn("display quote failed", zap.Error(err))
	} else {
		preview.Price = Price(q)
	}

	p.mu.Lock()
	p.latest = &preview
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(preview)
	}
}

// Price divides the formatted output by the formatted input. It returns "" when
// either side is missing or not a number.
func Price(q *client.Quote) string {
	if q == nil {
		return ""
	}
	in, err := decimal.NewFromString(q.AmountInFormatted)
	if err != nil || in.IsZero() {
		return ""
	}
	out, err := decimal.NewFromString(q.AmountOutFormatted)
	if err != nil {
		return ""
	}
	return out.DivRound(in, 8).String()
}
