package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBus carries broadcast topics over Kafka. Every agent must use its own
// consumer group so each device sees every message.
type KafkaBus struct {
	broker  string
	groupID string
	writer  *kafka.Writer
}

func NewKafkaBus(broker, groupID string) *KafkaBus {
	return &KafkaBus{
		broker:  broker,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (k *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", ErrChannelUnavailable, topic, err)
	}
	return nil
}

func (k *KafkaBus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{k.broker},
		Topic:       topic,
		GroupID:     k.groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     1 * time.Second,
		StartOffset: kafka.LastOffset,
	})

	ch := make(chan Message, 100)
	go func() {
		defer close(ch)
		defer r.Close()

		slog.Info("kafka subscription started", "topic", topic, "group_id", k.groupID)
		for {
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("kafka read failed", "topic", topic, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			select {
			case ch <- Message{Topic: m.Topic, Payload: m.Value}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (k *KafkaBus) Close() error {
	return k.writer.Close()
}

// EnsureTopics creates the given topics on the cluster controller if missing.
func EnsureTopics(broker string, topics ...string) error {
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrChannelUnavailable, broker, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("error finding controller: %w", err)
	}
	ctrlConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("error dialing controller: %w", err)
	}
	defer ctrlConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}
	if err := ctrlConn.CreateTopics(configs...); err != nil {
		return fmt.Errorf("error creating topics: %w", err)
	}
	return nil
}
