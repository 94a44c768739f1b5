package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/broadcast"
	"github.com/mr1hm/go-safety-agent/internal/models"
)

var ErrSessionActive = errors.New("another emergency session is already active")

type State int

const (
	Idle State = iota
	Publishing
)

func (s State) String() string {
	if s == Publishing {
		return "publishing"
	}
	return "idle"
}

// PositionReader exposes the last known fix without touching any sensor.
type PositionReader interface {
	Latest() (models.Position, bool)
}

type TrackingStore interface {
	AddTrackingRow(ctx context.Context, row models.TrackingRow) error
}

// Publisher streams the victim's position while an emergency session is open.
type Publisher struct {
	userID   string
	topic    string
	interval time.Duration
	reader   PositionReader
	store    TrackingStore
	bus      broadcast.Publisher
	now      func() time.Time

	mu      sync.Mutex
	session models.EmergencySession
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPublisher(userID, topic string, interval time.Duration, reader PositionReader, store TrackingStore, bus broadcast.Publisher) *Publisher {
	return &Publisher{
		userID:   userID,
		topic:    topic,
		interval: interval,
		reader:   reader,
		store:    store,
		bus:      bus,
		now:      time.Now,
	}
}

// Start opens a session for emergencyID and begins publishing. Starting the
// session that is already running is a no-op.
func (p *Publisher) Start(emergencyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session.Active {
		if p.session.EmergencyID == emergencyID {
			return nil
		}
		return ErrSessionActive
	}

	p.session = models.EmergencySession{
		EmergencyID: emergencyID,
		StartedAt:   p.now(),
		Active:      true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, emergencyID, p.done)

	slog.Info("live position publishing started", "emergency_id", emergencyID, "interval", p.interval)
	return nil
}

// Stop ends the session and waits for the loop to exit. Safe to call when idle.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.session.Active {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.session.Active = false
	p.cancel, p.done = nil, nil
	emergencyID := p.session.EmergencyID
	p.mu.Unlock()

	cancel()
	<-done

	slog.Info("live position publishing stopped", "emergency_id", emergencyID)
}

func (p *Publisher) Session() (models.EmergencySession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.session.Active
}

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session.Active {
		return Publishing
	}
	return Idle
}

func (p *Publisher) run(ctx context.Context, emergencyID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, emergencyID)
		}
	}
}

func (p *Publisher) tick(ctx context.Context, emergencyID string) {
	pos, ok := p.reader.Latest()
	if !ok {
		slog.Debug("no cached position, skipping tick", "emergency_id", emergencyID)
		return
	}

	// Rows carry the capture time so a stale fix is not recorded as fresh.
	capturedAt := pos.CapturedAt()
	if pos.CapturedAtMs == 0 {
		capturedAt = p.now()
	}

	row := models.TrackingRow{
		EmergencyID: emergencyID,
		UserID:      p.userID,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Timestamp:   capturedAt,
		Accuracy:    pos.AccuracyMeters,
		Speed:       pos.SpeedMps,
		Heading:     pos.Heading,
	}
	if err := p.store.AddTrackingRow(ctx, row); err != nil {
		slog.Error("failed to store tracking row", "emergency_id", emergencyID, "error", err)
	}

	update := models.TrackingUpdate{
		EmergencyID: emergencyID,
		Lat:         pos.Latitude,
		Lng:         pos.Longitude,
	}
	if err := broadcast.PublishJSON(ctx, p.bus, p.topic, update); err != nil {
		slog.Error("failed to publish tracking update", "emergency_id", emergencyID, "error", err)
	}
}
