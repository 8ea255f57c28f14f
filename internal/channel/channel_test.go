package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"aeras-dispatch/internal/logger"
)

type fakeTransport struct {
	connectErr error
	publishErr error

	connectCalls int
	subscribed   []string
	published    []InboundMessage
	inbound      []InboundMessage
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.connectCalls++
	return f.connectErr
}

func (f *fakeTransport) Subscribe(ctx context.Context, topics ...string) error {
	f.subscribed = append(f.subscribed, topics...)
	return nil
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, InboundMessage{Topic: topic, Payload: payload})
	return nil
}

func (f *fakeTransport) Poll() []InboundMessage {
	out := f.inbound
	f.inbound = nil
	return out
}

func (f *fakeTransport) Close() error { return nil }

type channelClock struct {
	t time.Time
}

func (c *channelClock) now() time.Time          { return c.t }
func (c *channelClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestChannel() (*Channel, *fakeTransport, *channelClock) {
	tr := &fakeTransport{}
	clk := &channelClock{t: time.Unix(1000, 0)}
	c := New(tr, testKey, 5, 3, time.Second, 32*time.Second, 30*time.Second,
		logger.NewLogger(nil, logger.LogLevelNone))
	c.SetIdentity("RU_001", "DRIVER_001")
	c.now = clk.now
	c.started = clk.t
	return c, tr, clk
}

// ===== Link management =====

func TestConnectSubscribesAndResetsBackoff(t *testing.T) {
	c, tr, _ := newTestChannel()
	c.Handle("aeras/ride/notify", func([]byte) error { return nil })

	c.Update(context.Background())
	if !c.Connected() {
		t.Fatal("expected connection")
	}
	if len(tr.subscribed) != 1 || tr.subscribed[0] != "aeras/ride/notify" {
		t.Errorf("subscribed = %v", tr.subscribed)
	}
	if c.backoff != time.Second {
		t.Errorf("backoff = %s after success, want 1s", c.backoff)
	}
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	c, tr, clk := newTestChannel()
	tr.connectErr = errors.New("broker down")

	ctx := context.Background()
	waits := []time.Duration{}
	for i := 0; i < 8; i++ {
		before := tr.connectCalls
		c.Update(ctx)
		if tr.connectCalls != before+1 {
			t.Fatalf("attempt %d not made", i)
		}
		waits = append(waits, c.nextAttempt.Sub(clk.t))
		clk.t = c.nextAttempt
	}

	want := []time.Duration{1, 2, 4, 8, 16, 32, 32, 32}
	for i, w := range want {
		if waits[i] != w*time.Second {
			t.Errorf("wait %d = %s, want %ds", i, waits[i], w)
		}
	}
}

func TestNoAttemptBeforeBackoffExpires(t *testing.T) {
	c, tr, clk := newTestChannel()
	tr.connectErr = errors.New("broker down")

	ctx := context.Background()
	c.Update(ctx)
	c.Update(ctx) // still inside the backoff window
	if tr.connectCalls != 1 {
		t.Fatalf("connect attempted during backoff, calls = %d", tr.connectCalls)
	}
	clk.advance(time.Second)
	c.Update(ctx)
	if tr.connectCalls != 2 {
		t.Errorf("expected retry after backoff, calls = %d", tr.connectCalls)
	}
}

// ===== Publishing =====

func TestPublishSealsEnvelope(t *testing.T) {
	c, tr, _ := newTestChannel()
	ctx := context.Background()
	c.Update(ctx)

	data := []byte(`{"ride_id":"R1"}`)
	if err := c.Publish(ctx, TopicRideAccept, data); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(tr.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(tr.published))
	}
	inner, err := Open(testKey, tr.published[0].Payload)
	if err != nil {
		t.Fatalf("published payload does not verify: %v", err)
	}
	if !bytes.Equal(inner, data) {
		t.Errorf("inner = %s, want %s", inner, data)
	}

	var env Envelope
	if err := json.Unmarshal(tr.published[0].Payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != "ride_accept" {
		t.Errorf("event = %q, want ride_accept", env.Event)
	}
	if env.DeviceID != "RU_001" || env.DriverID != "DRIVER_001" {
		t.Errorf("sender identity = %q/%q", env.DeviceID, env.DriverID)
	}
	if env.Timestamp < 0 {
		t.Errorf("timestamp = %d", env.Timestamp)
	}
}

func TestPublishFailsWhileLinkDown(t *testing.T) {
	c, tr, _ := newTestChannel()
	if err := c.Publish(context.Background(), TopicRideAccept, []byte(`{}`)); err == nil {
		t.Error("publish on a down link must fail")
	}
	if len(tr.published) != 0 {
		t.Error("nothing may reach the transport while down")
	}
}

func TestPublishFailureDropsLink(t *testing.T) {
	c, tr, _ := newTestChannel()
	ctx := context.Background()
	c.Update(ctx)

	tr.publishErr = errors.New("pipe broken")
	if err := c.Publish(ctx, TopicDeviceStatus, []byte(`{}`)); err == nil {
		t.Fatal("expected publish error")
	}
	if c.Connected() {
		t.Error("a failed publish must mark the link down")
	}
}

func TestPublishOrQueueParksWhileDown(t *testing.T) {
	c, _, _ := newTestChannel()
	c.PublishOrQueue(context.Background(), TopicDeviceLocation, []byte(`{"lat":1}`))
	if c.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1", c.QueueDepth())
	}
}

// ===== Queue drain =====

func TestDrainOneMessagePerTick(t *testing.T) {
	c, tr, clk := newTestChannel()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c.PublishOrQueue(ctx, TopicDeviceLocation, []byte(`{}`))
	}

	c.Update(ctx) // connects, drains one
	if got := len(tr.published); got != 1 {
		t.Fatalf("published after 1 tick = %d, want 1", got)
	}
	clk.advance(time.Second)
	c.Update(ctx)
	clk.advance(time.Second)
	c.Update(ctx)
	if got := len(tr.published); got != 3 {
		t.Errorf("published after 3 ticks = %d, want 3", got)
	}
	if c.QueueDepth() != 0 {
		t.Errorf("queue depth = %d, want 0", c.QueueDepth())
	}
}

// ===== Inbound dispatch =====

func TestInboundPlainDocumentDispatched(t *testing.T) {
	// The backend publishes bare JSON documents; they must reach the
	// handler untouched.
	c, tr, _ := newTestChannel()
	var got []byte
	c.Handle(TopicRideNotify, func(p []byte) error {
		got = p
		return nil
	})

	data := []byte(`{"ride_id":"R9","pickup_lat":22.4596}`)
	ctx := context.Background()
	c.Update(ctx) // connect
	tr.inbound = []InboundMessage{{Topic: TopicRideNotify, Payload: data}}
	c.Update(ctx)

	if !bytes.Equal(got, data) {
		t.Errorf("handler received %s, want %s", got, data)
	}
}

func TestInboundUnknownTopicIgnored(t *testing.T) {
	c, tr, _ := newTestChannel()
	called := false
	c.Handle(TopicRideNotify, func([]byte) error {
		called = true
		return nil
	})

	ctx := context.Background()
	c.Update(ctx)
	tr.inbound = []InboundMessage{{Topic: "aeras/ride/other", Payload: []byte(`{}`)}}
	c.Update(ctx)

	if called {
		t.Error("handler must not run for another topic")
	}
}

// ===== Heartbeat =====

func TestHeartbeatEmittedOnInterval(t *testing.T) {
	c, tr, clk := newTestChannel()
	c.SetHeartbeatSource(func() []byte { return []byte(`{"device_id":"RU_001"}`) })

	ctx := context.Background()
	c.Update(ctx) // first tick sends the initial heartbeat
	if len(tr.published) != 1 || tr.published[0].Topic != TopicHeartbeat {
		t.Fatalf("expected initial heartbeat, got %v", tr.published)
	}
	clk.advance(10 * time.Second)
	c.Update(ctx)
	if len(tr.published) != 1 {
		t.Fatal("heartbeat sent before the interval elapsed")
	}
	clk.advance(20 * time.Second)
	c.Update(ctx)
	if len(tr.published) != 2 {
		t.Errorf("expected second heartbeat after 30s, published = %d", len(tr.published))
	}
}
