package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"bananastore/internal/util"
	"bananastore/pkg/domain"
	"bananastore/pkg/queue"
)

// KindOrderCompleted is the queue job kind for completed orders.
const KindOrderCompleted = "order.completed"

const defaultDeliverTimeout = 15 * time.Second

// OrderEvent announces a completed purchase.
type OrderEvent struct {
	Order       domain.Order         `json:"order"`
	User        domain.User          `json:"user"`
	Method      domain.PaymentMethod `json:"paymentMethod"`
	CompletedAt time.Time            `json:"completedAt"`
}

// Sink delivers events to one downstream system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev OrderEvent) error
}

// Enqueuer persists jobs for the background worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload []byte) (queue.Job, error)
}

// Dispatcher queues order events and fans them out to every sink.
type Dispatcher struct {
	queue   Enqueuer
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
}

// NewDispatcher builds a dispatcher. With a nil queue events are delivered
// in the background without retries.
func NewDispatcher(q Enqueuer, sinks ...Sink) *Dispatcher {
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Dispatcher{queue: q, sinks: active, timeout: defaultDeliverTimeout, now: time.Now}
}

// NotifyOrder schedules delivery of a completed order. It does not wait for
// the sinks.
func (d *Dispatcher) NotifyOrder(ctx context.Context, order domain.Order, user domain.User, method domain.PaymentMethod) error {
	ev := OrderEvent{Order: order, User: user, Method: method, CompletedAt: d.now().UTC()}
	if len(d.sinks) == 0 {
		return nil
	}
	if d.queue == nil {
		bg := context.WithoutCancel(ctx)
		go func() {
			if err := d.Deliver(bg, ev); err != nil {
				util.LoggerFromContext(bg).Error("order notification failed", "order_id", order.ID, "err", err)
			}
		}()
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	job, err := d.queue.Enqueue(ctx, KindOrderCompleted, payload)
	if err != nil {
		return fmt.Errorf("enqueue order event: %w", err)
	}
	util.LoggerFromContext(ctx).Info("order notification queued", "order_id", order.ID, "job_id", job.ID)
	return nil
}

// Handle is the queue handler for order jobs.
func (d *Dispatcher) Handle(ctx context.Context, job queue.Job) error {
	if job.Kind != KindOrderCompleted {
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	var ev OrderEvent
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}
	return d.Deliver(ctx, ev)
}

// Deliver sends ev to every sink concurrently. All sinks are attempted;
// their failures are joined.
func (d *Dispatcher) Deliver(ctx context.Context, ev OrderEvent) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	errs := make([]error, len(d.sinks))
	var g errgroup.Group
	for i, sink := range d.sinks {
		g.Go(func() error {
			if err := sink.Deliver(ctx, ev); err != nil {
				errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
