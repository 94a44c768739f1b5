package broadcast

import (
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-safety-agent/internal/config"
)

const (
	DriverMemory = "memory"
	DriverKafka  = "kafka"
)

type Channel interface {
	Publisher
	Subscriber
}

// Open builds the configured channel. The returned func releases it.
func Open(cfg config.BusConfig, deviceID string) (Channel, func(), error) {
	switch cfg.Driver {
	case DriverMemory, "":
		b := NewBus()
		return b, b.Close, nil
	case DriverKafka:
		if err := EnsureTopics(cfg.KafkaBroker, cfg.AlertTopic, cfg.TrackingTopic); err != nil {
			slog.Warn("could not ensure kafka topics", "broker", cfg.KafkaBroker, "error", err)
		}
		k := NewKafkaBus(cfg.KafkaBroker, GroupID(cfg.KafkaGroupID, deviceID))
		return k, func() {
			if err := k.Close(); err != nil {
				slog.Error("kafka writer close failed", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

// GroupID scopes the consumer group to one device so every agent receives
// every alert.
func GroupID(base, deviceID string) string {
	if deviceID == "" {
		return base
	}
	return base + "-" + deviceID
}
