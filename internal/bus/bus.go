// Package bus implements the in-process, single-address-space publish/
// subscribe event bus (C5), adapted from the teacher's stub event bus
// (internal/stream/stub_bus.go) with priority-tiered, per-subscriber
// ordered delivery added.
package bus

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/metrics"
)

// Priority controls delivery order within a topic: High before Normal
// before Low. Handlers within the same priority fire in subscription
// (FIFO) order.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// Handler receives a published payload. A handler that panics or returns
// an error does not prevent delivery to the remaining handlers.
type Handler func(topic string, payload any) error

// dispatchItem is one queued delivery for a single subscriber.
type dispatchItem struct {
	topic   string
	payload any
}

// deliveryQueue is an unbounded FIFO queue drained by exactly one
// dispatcher goroutine, so pushes from successive Publish calls for the
// same subscriber are always delivered in push order.
type deliveryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []dispatchItem
	closed bool
}

func newDeliveryQueue() *deliveryQueue {
	q := &deliveryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *deliveryQueue) push(item dispatchItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *deliveryQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// pop blocks until an item is available or the queue is closed and
// drained, in which case ok is false.
func (q *deliveryQueue) pop() (item dispatchItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return dispatchItem{}, false
	}
	item, q.items = q.items[0], q.items[1:]
	return item, true
}

type subscription struct {
	id       uint64
	handler  Handler
	priority Priority
	queue    *deliveryQueue
}

// Bus is the in-process event bus.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]subscription
	nextSubID uint64
	shutdown  bool
	wg        sync.WaitGroup

	metrics *metrics.Registry // optional; nil disables instrumentation
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// SetMetrics attaches a metrics registry. Safe to call at any time.
func (b *Bus) SetMetrics(r *metrics.Registry) { b.metrics = r }

// SubscriptionHandle identifies a single subscription for Unsubscribe.
type SubscriptionHandle struct {
	topic string
	id    uint64
}

// Subscribe registers handler on topic at the given priority (defaults to
// Normal semantics are the caller's responsibility — pass Normal
// explicitly). A single dispatcher goroutine is started for this
// subscription and runs for its whole lifetime, draining its delivery
// queue strictly in the order Publish calls pushed into it. Returns a
// handle for Unsubscribe.
func (b *Bus) Subscribe(topic string, handler Handler, priority Priority) SubscriptionHandle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	sub := subscription{id: id, handler: handler, priority: priority, queue: newDeliveryQueue()}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go b.runDispatcher(sub)

	return SubscriptionHandle{topic: topic, id: id}
}

// Unsubscribe removes a previously registered handler and stops its
// dispatcher goroutine once its queue drains.
func (b *Bus) Unsubscribe(handle SubscriptionHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[handle.topic]
	for i, s := range subs {
		if s.id == handle.id {
			b.subs[handle.topic] = append(subs[:i], subs[i+1:]...)
			s.queue.close()
			return
		}
	}
}

// runDispatcher drains a single subscriber's delivery queue to
// completion, one item at a time, for the subscription's lifetime.
// Running exactly one goroutine per subscriber (instead of one per
// Publish call) is what guarantees that events published for the same
// topic in a given order reach this handler in that same order.
func (b *Bus) runDispatcher(s subscription) {
	defer b.wg.Done()
	for {
		item, ok := s.queue.pop()
		if !ok {
			return
		}
		err := b.callHandler(item.topic, item.payload, s.handler)
		if b.metrics != nil {
			b.metrics.BusQueueDepth.Dec()
			b.metrics.RecordBusDispatch(item.topic, err)
		}
	}
}

// Publish enqueues payload for delivery to every subscriber of topic, in
// priority order (High, Normal, Low) and FIFO within a priority tier.
// Each subscriber has its own persistent dispatcher goroutine, so a slow
// or blocking handler cannot stall delivery to the others; panics and
// errors are logged and do not abort delivery to remaining handlers or
// future events for this handler. Publish itself returns once all
// handlers for this call have been enqueued (not necessarily completed),
// but enqueueing order across successive Publish calls to the same
// handler is preserved, so delivery order matches publish order.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	if b.shutdown {
		b.mu.RUnlock()
		return
	}
	subs := append([]subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	ordered := orderByPriority(subs)
	if b.metrics != nil {
		b.metrics.BusQueueDepth.Add(float64(len(ordered)))
	}
	for _, s := range ordered {
		s.queue.push(dispatchItem{topic: topic, payload: payload})
	}
}

// PublishBatch publishes each payload to topic in order.
func (b *Bus) PublishBatch(topic string, payloads []any) {
	for _, p := range payloads {
		b.Publish(topic, p)
	}
}

func (b *Bus) callHandler(topic string, payload any, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("topic", topic).
				Interface("panic", r).
				Msg("event_bus.handler_panic_recovered")
		}
	}()
	err = handler(topic, payload)
	if err != nil {
		log.Error().
			Str("topic", topic).
			Err(err).
			Msg("event_bus.handler_error")
	}
	return err
}

func orderByPriority(subs []subscription) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, p := range []Priority{High, Normal, Low} {
		for _, s := range subs {
			if s.priority == p {
				out = append(out, s)
			}
		}
	}
	return out
}

// Shutdown unsubscribes everything, closes every subscriber's delivery
// queue, and waits for in-flight and already-queued deliveries to drain.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	b.shutdown = true
	all := b.subs
	b.subs = make(map[string][]subscription)
	b.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			s.queue.close()
		}
	}
	b.wg.Wait()
}
