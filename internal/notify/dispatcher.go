package notify

import (
	"context"
	"sync"
	"time"

	"github.com/fjordcrew/crewfront/internal/emailutil"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/metrics"
)

// DefaultTimeout bounds one delivery attempt including retries.
const DefaultTimeout = 10 * time.Second

// Dispatcher sends messages in the background, detached from the request
// that produced them.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(n Notifier, timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{notifier: n, timeout: timeout, metrics: m}
}

// Dispatch sends msg asynchronously. Failures are logged and counted.
func (d *Dispatcher) Dispatch(msg Message) {
	if len(msg.To) == 0 {
		log.LogDebugWithFields("notify", "No recipients configured, skipping notification", map[string]any{
			"kind": msg.Kind,
		})
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Send(ctx, msg); err != nil {
			to := make([]string, len(msg.To))
			for i, addr := range msg.To {
				to[i] = emailutil.Mask(addr)
			}
			log.LogErrorWithFields("notify", "Failed to send notification", map[string]any{
				"kind":  msg.Kind,
				"to":    to,
				"error": err,
			})
			d.metrics.NotificationFailed(msg.Kind)
		}
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
