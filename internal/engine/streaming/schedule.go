package streaming

import (
	"container/heap"
	"context"
	"time"

	"github.com/marketpulse/indicatorengine/internal/dispatch"
	"github.com/marketpulse/indicatorengine/internal/events"
)

func lookback(b *binding) float64 {
	return dispatch.MaxLookback(b.Algorithm, b.Parameters)
}

// timeQueue is a min-heap of time-driven bindings ordered by NextDue,
// adapted from the standard container/heap example for a priority
// ordered-by-timestamp work queue.
type timeQueue []*binding

func (q timeQueue) Len() int            { return len(q) }
func (q timeQueue) Less(i, j int) bool  { return q[i].NextDue < q[j].NextDue }
func (q timeQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].heapIndex = i; q[j].heapIndex = j }
func (q *timeQueue) Push(x any) {
	b := x.(*binding)
	b.heapIndex = len(*q)
	*q = append(*q, b)
}
func (q *timeQueue) Pop() any {
	old := *q
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.heapIndex = -1
	*q = old[:n-1]
	return b
}

func (q *timeQueue) push(b *binding) { heap.Push(q, b) }

func (q *timeQueue) remove(b *binding) {
	if b.heapIndex < 0 || b.heapIndex >= len(*q) || (*q)[b.heapIndex] != b {
		return
	}
	heap.Remove(q, b.heapIndex)
}

// runTimeLoop is the single goroutine driving every time-driven
// indicator: it sleeps until the next scheduled tick, reschedules by
// refresh interval, and collapses missed ticks under load to "now"
// instead of building a backlog.
func (e *Engine) runTimeLoop(ctx context.Context) {
	defer e.wg.Done()

	minSleep := e.cfg.TickLoopMinSleep
	if minSleep <= 0 {
		minSleep = 10 * time.Millisecond
	}

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		e.mu.Lock()
		var due *binding
		if e.timeQueue.Len() > 0 {
			now := e.Clock()
			if e.timeQueue[0].NextDue <= now {
				due = heap.Pop(&e.timeQueue).(*binding)
			}
		}
		e.mu.Unlock()

		if due == nil {
			time.Sleep(minSleep)
			continue
		}

		e.fireTimeDriven(due)
	}
}

func (e *Engine) fireTimeDriven(b *binding) {
	now := e.Clock()

	e.mu.Lock()
	priceHist := e.priceHistory[b.Symbol]
	volHist := e.volumeHistory[b.Symbol]
	obHist := e.obHistory[b.Symbol]
	e.mu.Unlock()

	value := dispatch.Evaluate(b.Algorithm, priceHist, volHist, obHist, b.Parameters, now)

	e.mu.Lock()
	b.LastValue = value
	b.LastTimestamp = now
	// Missed ticks collapse to now rather than stacking a backlog of
	// overdue reschedules.
	next := b.NextDue + b.RefreshInterval
	if next <= now {
		next = now + b.RefreshInterval
	}
	b.NextDue = next
	if _, stillBound := e.bindings[b.IndicatorID]; stillBound {
		e.timeQueue.push(b)
	}
	e.mu.Unlock()

	if value == nil {
		return
	}
	e.bus.Publish(events.TopicIndicatorUpdated, events.IndicatorUpdated{
		IndicatorID: b.IndicatorID,
		Symbol:      b.Symbol,
		Value:       *value,
		Timestamp:   now,
	})
}
