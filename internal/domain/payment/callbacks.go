package payment

import (
	"context"
	"sync"
	"time"
)

// Callbacks routes client-flow confirmations to the checkout attempt
// awaiting them. A gateway announces an intent with Expect; Deliver for an
// unknown intent is refused.
type Callbacks struct {
	mu      sync.Mutex
	pending map[string]chan Confirmation
}

// NewCallbacks creates an empty hub.
func NewCallbacks() *Callbacks {
	return &Callbacks{pending: make(map[string]chan Confirmation)}
}

func callbackKey(p Provider, gatewayOrderID string) string {
	return string(p) + ":" + gatewayOrderID
}

// Expect registers an intent so a confirmation for it can be delivered
// before or after Await starts.
func (c *Callbacks) Expect(p Provider, gatewayOrderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := callbackKey(p, gatewayOrderID)
	if _, ok := c.pending[key]; !ok {
		c.pending[key] = make(chan Confirmation, 1)
	}
}

// Deliver hands conf to the awaiting attempt. It reports false when the
// intent is unknown or already has a confirmation queued.
func (c *Callbacks) Deliver(p Provider, conf Confirmation) bool {
	c.mu.Lock()
	ch, ok := c.pending[callbackKey(p, conf.GatewayOrderID)]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- conf:
		return true
	default:
		return false
	}
}

// Await blocks until a confirmation for the intent arrives, timeout passes
// or ctx is done. The last two resolve to OutcomeFailure. The intent is
// forgotten afterwards.
func (c *Callbacks) Await(ctx context.Context, p Provider, gatewayOrderID string, timeout time.Duration) Confirmation {
	key := callbackKey(p, gatewayOrderID)
	c.mu.Lock()
	ch, ok := c.pending[key]
	if !ok {
		ch = make(chan Confirmation, 1)
		c.pending[key] = ch
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case conf := <-ch:
		return conf
	case <-timer.C:
		return Confirmation{
			Outcome:        OutcomeFailure,
			GatewayOrderID: gatewayOrderID,
			Reason:         "confirmation timed out",
		}
	case <-ctx.Done():
		return Confirmation{
			Outcome:        OutcomeFailure,
			GatewayOrderID: gatewayOrderID,
			Reason:         ctx.Err().Error(),
		}
	}
}

// Pending returns the number of intents awaiting confirmation.
func (c *Callbacks) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
