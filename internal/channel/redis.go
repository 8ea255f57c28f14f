package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"aeras-dispatch/internal/logger"
)

const inboundBuffer = 64

// RedisTransport carries channel traffic over Redis pub/sub. A background
// pump copies subscription messages into a buffered inbox that Poll drains
// non-blocking; when the inbox overflows, the oldest-waiting delivery is lost
// (the offline queue and backend retries cover that case).
type RedisTransport struct {
	client *redis.Client
	log    *logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	inbox  chan InboundMessage
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisTransport(addr string, log *logger.Logger) *RedisTransport {
	return &RedisTransport{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: 0}),
		log:    log,
		inbox:  make(chan InboundMessage, inboundBuffer),
	}
}

func (t *RedisTransport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}
	t.log.Infof("connected to broker at %s", t.client.Options().Addr)
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopPumpLocked()

	pumpCtx, cancel := context.WithCancel(context.Background())
	pubsub := t.client.Subscribe(pumpCtx, topics...)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	t.pubsub = pubsub
	t.cancel = cancel

	t.wg.Add(1)
	go t.pump(pumpCtx, pubsub)
	t.log.Infof("subscribed to %d topics", len(topics))
	return nil
}

func (t *RedisTransport) pump(ctx context.Context, pubsub *redis.PubSub) {
	defer t.wg.Done()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				t.log.Warnf("subscription stream closed")
				return
			}
			select {
			case t.inbox <- InboundMessage{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
			default:
				t.log.Warnf("inbox full, dropping message on %s", msg.Channel)
			}
		}
	}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return t.client.Publish(ctx, topic, payload).Err()
}

// Poll drains everything currently in the inbox without blocking.
func (t *RedisTransport) Poll() []InboundMessage {
	var out []InboundMessage
	for {
		select {
		case m := <-t.inbox:
			out = append(out, m)
		default:
			return out
		}
	}
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	t.stopPumpLocked()
	t.mu.Unlock()
	t.wg.Wait()
	return t.client.Close()
}

func (t *RedisTransport) stopPumpLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.pubsub != nil {
		_ = t.pubsub.Close()
		t.pubsub = nil
	}
}
