package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mr1hm/go-safety-agent/internal/broadcast"
	"github.com/mr1hm/go-safety-agent/internal/config"
	"github.com/mr1hm/go-safety-agent/internal/models"
	"github.com/mr1hm/go-safety-agent/internal/proximity"
	"github.com/mr1hm/go-safety-agent/internal/worker"
)

// EventHandler is satisfied by proximity.Matcher.
type EventHandler interface {
	Kind() proximity.Kind
	HandleEvent(ctx context.Context, ev models.EmergencyBroadcastEvent) (proximity.Escalation, bool)
}

// Manager consumes the alert topic and fans each event out to every matcher
// through the worker pool.
type Manager struct {
	cfg        *config.Config
	subscriber broadcast.Subscriber
	handlers   []EventHandler
	pool       *worker.Pool[models.EmergencyBroadcastEvent]
	wg         sync.WaitGroup
}

func NewManager(cfg *config.Config, subscriber broadcast.Subscriber, handlers ...EventHandler) *Manager {
	return &Manager{
		cfg:        cfg,
		subscriber: subscriber,
		handlers:   handlers,
	}
}

func (m *Manager) Start(ctx context.Context) error {
	messages, err := m.subscriber.Subscribe(ctx, m.cfg.Bus.AlertTopic)
	if err != nil {
		return fmt.Errorf("error subscribing to %s: %w", m.cfg.Bus.AlertTopic, err)
	}

	m.pool = worker.NewPool("alerts", m.cfg.Worker.Count, m.cfg.Worker.BufferSize, m.process)
	m.pool.Start(ctx)

	m.wg.Add(1)
	go m.consume(ctx, messages)

	slog.Info("alerts manager started", "topic", m.cfg.Bus.AlertTopic, "handlers", len(m.handlers))
	return nil
}

func (m *Manager) process(ctx context.Context, ev models.EmergencyBroadcastEvent) error {
	for _, h := range m.handlers {
		h.HandleEvent(ctx, ev)
	}
	return nil
}

func (m *Manager) consume(ctx context.Context, messages <-chan broadcast.Message) {
	defer m.wg.Done()

	for msg := range messages {
		ev, err := decodeEvent(msg.Payload)
		if err != nil {
			slog.Warn("dropping undecodable emergency event", "topic", msg.Topic, "error", err)
			continue
		}

		if err := m.pool.Submit(ctx, ev); err != nil {
			slog.Debug("event not dispatched", "alert_id", ev.AlertID, "error", err)
			return
		}
	}
	slog.Info("alert subscription closed", "topic", m.cfg.Bus.AlertTopic)
}

// Stop waits for the consumer to drain. Cancel the Start context first.
func (m *Manager) Stop() {
	m.wg.Wait()
	if m.pool != nil {
		m.pool.Stop()
	}
	slog.Info("alerts manager stopped")
}

func decodeEvent(payload []byte) (models.EmergencyBroadcastEvent, error) {
	var ev models.EmergencyBroadcastEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("error decoding event: %w", err)
	}
	if ev.AlertID == "" {
		return ev, fmt.Errorf("event has no alertId")
	}
	return ev, nil
}
