// Package browser manages a bounded pool of headless browser contexts for
// the rendered-DOM strategy.
package browser

import (
	"context"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// Pool bounds how many browser tabs run at once. Checkout is scoped:
// WithTab always returns the slot, success or failure.
type Pool struct {
	sem         chan struct{}
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewPool creates a Pool backed by one shared exec allocator.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 2
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Pool{
		sem:         make(chan struct{}, size),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// WithTab checks out a browser slot, runs fn with a fresh tab context and
// releases everything regardless of fn's outcome.
func (p *Pool) WithTab(ctx context.Context, fn func(tabCtx context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "browser: waiting for pool slot")
	}
	defer func() { <-p.sem }()

	tabCtx, cancel := chromedp.NewContext(p.allocCtx)
	defer cancel()

	// Propagate the caller's deadline onto the tab.
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		tabCtx, dcancel = context.WithDeadline(tabCtx, deadline)
		defer dcancel()
	}

	return fn(tabCtx)
}

// Close tears down the allocator and every browser it spawned.
func (p *Pool) Close() {
	p.allocCancel()
}
