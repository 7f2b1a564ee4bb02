package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"bananastore/pkg/domain"
	"bananastore/pkg/queue"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []OrderEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, ev OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeSender struct {
	orders []string
	users  []string
}

func (f *fakeSender) SendOrder(_ context.Context, order domain.Order, user *domain.User, _ domain.PaymentMethod) error {
	f.orders = append(f.orders, order.ID)
	f.users = append(f.users, user.ID)
	return nil
}

type fakePublisher struct {
	subject string
	data    []byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return nil
}

func TestDeliverReachesEverySinkAndJoinsErrors(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	broken := &recordingSink{name: "broken", err: errors.New("offline")}
	d := NewDispatcher(nil, ok, broken)

	err := d.Deliver(context.Background(), OrderEvent{Order: domain.Order{ID: "ord-1"}})
	if err == nil || !strings.Contains(err.Error(), "broken: offline") {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if ok.count() != 1 || broken.count() != 1 {
		t.Fatalf("every sink should be attempted, got %d/%d", ok.count(), broken.count())
	}
}

func TestNotifyOrderQueuesAndWorkerDelivers(t *testing.T) {
	srv := miniredis.RunT(t)
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       srv.Addr(),
		Stream:     "test:notify",
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(q, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	order := domain.Order{ID: "ord-9", Status: domain.OrderCompleted}
	if err := d.NotifyOrder(ctx, order, domain.User{ID: "u-1"}, domain.PaymentCrypto); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sink.count() != 0 {
		t.Fatalf("delivery should wait for the worker")
	}
	q.Start(ctx, 1, d.Handle)

	deadline := time.Now().Add(3 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected one delivery, got %d", sink.count())
	}
	sink.mu.Lock()
	got := sink.events[0]
	sink.mu.Unlock()
	if got.Order.ID != "ord-9" || got.User.ID != "u-1" || got.Method != domain.PaymentCrypto {
		t.Fatalf("unexpected event %+v", got)
	}
	cancel()
	q.Wait()
}

func TestNotifyOrderWithoutQueueDeliversInBackground(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(nil, sink)
	if err := d.NotifyOrder(context.Background(), domain.Order{ID: "ord-1"}, domain.User{}, domain.PaymentCard); err != nil {
		t.Fatalf("notify: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected background delivery")
	}
}

func TestHandleRejectsUnknownKind(t *testing.T) {
	d := NewDispatcher(nil, &recordingSink{name: "rec"})
	if err := d.Handle(context.Background(), queue.Job{Kind: "other"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestBotSinkForwardsOrder(t *testing.T) {
	sender := &fakeSender{}
	sink := NewBotSink(sender)
	ev := OrderEvent{Order: domain.Order{ID: "ord-1"}, User: domain.User{ID: "u-1"}}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if sender.orders[0] != "ord-1" || sender.users[0] != "u-1" {
		t.Fatalf("unexpected forward %+v", sender)
	}
}

func TestNATSSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSinkWithPublisher(pub, "")
	ev := OrderEvent{Order: domain.Order{ID: "ord-1"}, Method: domain.PaymentPayPal}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if pub.subject != DefaultSubject {
		t.Fatalf("expected default subject, got %q", pub.subject)
	}
	var decoded OrderEvent
	if err := json.Unmarshal(pub.data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Order.ID != "ord-1" || decoded.Method != domain.PaymentPayPal {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close without conn: %v", err)
	}
}

func TestNewNATSSinkRequiresURL(t *testing.T) {
	if _, err := NewNATSSink(" ", ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
