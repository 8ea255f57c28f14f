package channel

import "go.uber.org/atomic"

type queuedMessage struct {
	topic    string
	payload  []byte
	attempts int
}

// offlineQueue buffers sealed messages while the link is down. It is a
// fixed-arena ring: a push into a full ring evicts the oldest entry, and a
// message is discarded once its failed deliveries exceed the retry ceiling.
type offlineQueue struct {
	items        []queuedMessage
	head         int
	size         int
	capacity     int
	retryCeiling int
	dropped      atomic.Int64
}

func newOfflineQueue(capacity, retryCeiling int) *offlineQueue {
	return &offlineQueue{
		items:        make([]queuedMessage, capacity),
		capacity:     capacity,
		retryCeiling: retryCeiling,
	}
}

func (q *offlineQueue) push(topic string, payload []byte) {
	if q.size == q.capacity {
		q.head = (q.head + 1) % q.capacity
		q.size--
		q.dropped.Inc()
	}
	q.items[(q.head+q.size)%q.capacity] = queuedMessage{topic: topic, payload: payload}
	q.size++
}

func (q *offlineQueue) pop() (queuedMessage, bool) {
	if q.size == 0 {
		return queuedMessage{}, false
	}
	m := q.items[q.head]
	q.items[q.head] = queuedMessage{}
	q.head = (q.head + 1) % q.capacity
	q.size--
	return m, true
}

// requeue puts a message back at the head after a failed delivery attempt.
// The message survives ceiling failures and is dropped on the one after;
// requeue reports false when that happens.
func (q *offlineQueue) requeue(m queuedMessage) bool {
	m.attempts++
	if m.attempts > q.retryCeiling {
		q.dropped.Inc()
		return false
	}
	q.head = (q.head - 1 + q.capacity) % q.capacity
	q.items[q.head] = m
	q.size++
	return true
}

func (q *offlineQueue) depth() int { return q.size }

func (q *offlineQueue) droppedCount() int64 { return q.dropped.Load() }
