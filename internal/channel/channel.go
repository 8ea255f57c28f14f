package channel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"aeras-dispatch/internal/logger"
	"aeras-dispatch/internal/observability"
)

// InboundMessage is one verified-pending message pulled off the transport.
type InboundMessage struct {
	Topic   string
	Payload []byte
}

// Transport moves raw bytes to and from the broker. Implementations must make
// Poll non-blocking; the channel drains it once per control-loop tick.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topics ...string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Poll() []InboundMessage
	Close() error
}

// Handler receives the document of one inbound message.
// Handlers run synchronously on the control loop.
type Handler func(payload []byte) error

// Channel is the unit's resilient link to the dispatch backend. Every outbound
// message is sealed in a signed envelope; inbound backend documents arrive as
// plain JSON and are dispatched as-is. While the link is down, best-effort
// traffic lands in a bounded offline queue and reconnects are paced by
// exponential backoff.
type Channel struct {
	log       *logger.Logger
	transport Transport
	key       []byte
	queue     *offlineQueue

	deviceID string
	driverID string
	started  time.Time

	handlers map[string]Handler
	topics   []string

	connected   atomic.Bool
	backoff     time.Duration
	backoffInit time.Duration
	backoffMax  time.Duration
	nextAttempt time.Time

	heartbeatEvery time.Duration
	lastHeartbeat  time.Time
	heartbeat      func() []byte

	now func() time.Time
}

func New(transport Transport, presharedKey []byte, queueCapacity, retryCeiling int,
	backoffInitial, backoffMax, heartbeatEvery time.Duration, log *logger.Logger) *Channel {
	return &Channel{
		log:            log,
		transport:      transport,
		key:            presharedKey,
		queue:          newOfflineQueue(queueCapacity, retryCeiling),
		handlers:       make(map[string]Handler),
		backoff:        backoffInitial,
		backoffInit:    backoffInitial,
		backoffMax:     backoffMax,
		heartbeatEvery: heartbeatEvery,
		started:        time.Now(),
		now:            time.Now,
	}
}

// SetIdentity installs the sender identity stamped into every outbound
// envelope. The driver id is empty on kiosk units.
func (c *Channel) SetIdentity(deviceID, driverID string) {
	c.deviceID = deviceID
	c.driverID = driverID
}

// Handle registers the handler for a topic and subscribes to it on connect.
// Call before the first Update.
func (c *Channel) Handle(topic string, h Handler) {
	c.handlers[topic] = h
	c.topics = append(c.topics, topic)
}

// SetHeartbeatSource installs the payload builder for periodic heartbeats.
// Without one, no heartbeats are sent.
func (c *Channel) SetHeartbeatSource(build func() []byte) {
	c.heartbeat = build
}

// Connected reports the current link state.
func (c *Channel) Connected() bool { return c.connected.Load() }

// QueueDepth returns the number of messages waiting in the offline queue.
func (c *Channel) QueueDepth() int { return c.queue.depth() }

// Update advances the link by one tick: reconnect if due, dispatch verified
// inbound messages, emit a heartbeat when one is owed, and retry one queued
// message. Call it once per control-loop iteration.
func (c *Channel) Update(ctx context.Context) {
	if !c.connected.Load() {
		c.tryConnect(ctx)
	}
	if !c.connected.Load() {
		return
	}

	c.dispatchInbound()
	c.maybeHeartbeat(ctx)
	c.drainOne(ctx)
	observability.QueueDepth.Set(float64(c.queue.depth()))
}

// Publish seals data and delivers it immediately. It never queues: a down
// link or transport failure is returned to the caller, who decides whether
// to retry.
func (c *Channel) Publish(ctx context.Context, topic string, data []byte) error {
	if !c.connected.Load() {
		return fmt.Errorf("link down")
	}
	sealed, err := c.seal(topic, data)
	if err != nil {
		return fmt.Errorf("sealing %s: %w", topic, err)
	}
	if err := c.transport.Publish(ctx, topic, sealed); err != nil {
		observability.PublishFailures.Inc()
		c.markDisconnected(err)
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	observability.MessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

// PublishOrQueue seals data and delivers it best effort: when the link is
// down or the publish fails, the sealed message is parked in the offline
// queue for later retry.
func (c *Channel) PublishOrQueue(ctx context.Context, topic string, data []byte) {
	sealed, err := c.seal(topic, data)
	if err != nil {
		c.log.Errorf("sealing %s: %v", topic, err)
		return
	}
	if c.connected.Load() {
		err := c.transport.Publish(ctx, topic, sealed)
		if err == nil {
			observability.MessagesPublished.WithLabelValues(topic).Inc()
			return
		}
		observability.PublishFailures.Inc()
		c.markDisconnected(err)
	}
	c.queue.push(topic, sealed)
	observability.MessagesQueued.Inc()
	c.log.Debugf("queued %s (depth %d)", topic, c.queue.depth())
}

// Close shuts the transport down.
func (c *Channel) Close() error {
	c.connected.Store(false)
	observability.LinkUp.Set(0)
	return c.transport.Close()
}

func (c *Channel) tryConnect(ctx context.Context) {
	now := c.now()
	if now.Before(c.nextAttempt) {
		return
	}
	if err := c.transport.Connect(ctx); err != nil {
		c.log.Warnf("connect failed, next attempt in %s: %v", c.backoff, err)
		c.nextAttempt = now.Add(c.backoff)
		c.backoff *= 2
		if c.backoff > c.backoffMax {
			c.backoff = c.backoffMax
		}
		return
	}
	if err := c.transport.Subscribe(ctx, c.topics...); err != nil {
		c.log.Warnf("subscribe failed, next attempt in %s: %v", c.backoff, err)
		c.nextAttempt = now.Add(c.backoff)
		c.backoff *= 2
		if c.backoff > c.backoffMax {
			c.backoff = c.backoffMax
		}
		return
	}
	c.backoff = c.backoffInit
	c.connected.Store(true)
	observability.LinkUp.Set(1)
	observability.Reconnects.Inc()
	c.log.Infof("link established, %d messages queued for drain", c.queue.depth())
}

// seal stamps the event kind, sender identity and link uptime into the
// outbound envelope.
func (c *Channel) seal(topic string, data []byte) ([]byte, error) {
	return Seal(c.key, EventKind(topic), c.deviceID, c.driverID,
		c.now().Sub(c.started).Milliseconds(), data)
}

// dispatchInbound hands backend documents to their topic handlers. The
// backend publishes plain JSON; only unit-to-backend traffic is signed.
func (c *Channel) dispatchInbound() {
	for _, msg := range c.transport.Poll() {
		h, ok := c.handlers[msg.Topic]
		if !ok {
			c.log.Debugf("no handler for %s", msg.Topic)
			continue
		}
		observability.MessagesReceived.WithLabelValues(msg.Topic).Inc()
		if err := h(msg.Payload); err != nil {
			c.log.Warnf("handler for %s: %v", msg.Topic, err)
		}
	}
}

func (c *Channel) maybeHeartbeat(ctx context.Context) {
	if c.heartbeat == nil {
		return
	}
	now := c.now()
	if !c.lastHeartbeat.IsZero() && now.Sub(c.lastHeartbeat) < c.heartbeatEvery {
		return
	}
	c.lastHeartbeat = now
	if err := c.Publish(ctx, TopicHeartbeat, c.heartbeat()); err != nil {
		c.log.Debugf("heartbeat: %v", err)
	}
}

// drainOne retries at most one queued message per tick so a long backlog
// cannot starve the control loop.
func (c *Channel) drainOne(ctx context.Context) {
	m, ok := c.queue.pop()
	if !ok {
		return
	}
	if err := c.transport.Publish(ctx, m.topic, m.payload); err != nil {
		observability.PublishFailures.Inc()
		if !c.queue.requeue(m) {
			observability.MessagesDropped.Inc()
			c.log.Warnf("dropping %s after %d attempts", m.topic, m.attempts+1)
		}
		c.markDisconnected(err)
		return
	}
	observability.MessagesPublished.WithLabelValues(m.topic).Inc()
	c.log.Debugf("drained %s (depth %d)", m.topic, c.queue.depth())
}

func (c *Channel) markDisconnected(cause error) {
	if !c.connected.Swap(false) {
		return
	}
	observability.LinkUp.Set(0)
	c.nextAttempt = c.now().Add(c.backoff)
	c.log.Warnf("link lost: %v", cause)
}
