package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrChannelUnavailable is returned when a subscribe or publish cannot reach
// the channel. Callers log it; the transport is responsible for retrying.
var ErrChannelUnavailable = errors.New("broadcast channel unavailable")

type Message struct {
	Topic   string
	Payload []byte
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber delivers messages for a topic until ctx is done. The returned
// channel is closed when the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
}

func PublishJSON(ctx context.Context, p Publisher, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s message: %w", topic, err)
	}
	return p.Publish(ctx, topic, payload)
}

type subscriber struct {
	topic string
	ch    chan Message
}

// Bus is an in-process broadcast channel. Delivery is non-blocking: a
// subscriber whose buffer is full misses the message.
type Bus struct {
	subscribers map[uint64]subscriber
	nextID      atomic.Uint64
	closed      bool
	done        chan struct{}
	mu          sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		done:        make(chan struct{}),
	}
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	id, ch, err := b.subscribe(topic)
	if err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(id)
		case <-b.done:
		}
	}()

	return ch, nil
}

func (b *Bus) subscribe(topic string) (uint64, chan Message, error) {
	id := b.nextID.Add(1)
	ch := make(chan Message, 100)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, nil, ErrChannelUnavailable
	}
	b.subscribers[id] = subscriber{topic: topic, ch: ch}

	return id, ch, nil
}

func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	if s, ok := b.subscribers[id]; ok {
		close(s.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrChannelUnavailable
	}

	msg := Message{Topic: topic, Payload: payload}
	for _, s := range b.subscribers {
		if s.topic != topic {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			// Skip slow subscribers
		}
	}
	return nil
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels and rejects further use.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, s := range b.subscribers {
		close(s.ch)
		delete(b.subscribers, id)
	}
}
