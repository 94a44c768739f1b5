package proximity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-safety-agent/internal/geo"
	"github.com/mr1hm/go-safety-agent/internal/models"
)

type Kind string

const (
	// KindRescuer matches nearby rescuers to a victim's SOS.
	KindRescuer Kind = "rescuer"
	// KindNeighbor is the wider consumer-facing neighbor alert.
	KindNeighbor Kind = "neighbor"
)

// Interrupt describes the high-salience UI interruption for an escalation.
type Interrupt struct {
	Sound            string `json:"sound"`
	VibrationPattern []int  `json:"vibration_pattern"`
	Modal            bool   `json:"modal"`
}

type Escalation struct {
	ID             string             `json:"id"`
	Kind           Kind               `json:"kind"`
	AlertID        string             `json:"alert_id"`
	VictimID       string             `json:"victim_id"`
	Coords         models.Coordinates `json:"coords"`
	DistanceMeters float64            `json:"distance_meters"`
	Interrupt      Interrupt          `json:"interrupt"`
	At             time.Time          `json:"at"`
}

type Locator interface {
	Acquire(ctx context.Context) (models.Position, error)
}

type Notifier interface {
	Notify(e Escalation)
}

// Matcher filters inbound emergency broadcasts down to those close enough to
// the local device to escalate.
type Matcher struct {
	kind     Kind
	radius   float64
	selfID   string
	locator  Locator
	dedup    *Deduplicator
	state    *RescueState
	notifier Notifier
	now      func() time.Time
}

func NewMatcher(kind Kind, radiusMeters float64, selfID string, locator Locator, dedup *Deduplicator, state *RescueState, notifier Notifier) *Matcher {
	return &Matcher{
		kind:     kind,
		radius:   radiusMeters,
		selfID:   selfID,
		locator:  locator,
		dedup:    dedup,
		state:    state,
		notifier: notifier,
		now:      time.Now,
	}
}

func (m *Matcher) Kind() Kind {
	return m.kind
}

func (m *Matcher) Radius() float64 {
	return m.radius
}

// HandleEvent escalates ev when it lies within the radius and has not
// escalated before. Failure to locate the device never escalates.
func (m *Matcher) HandleEvent(ctx context.Context, ev models.EmergencyBroadcastEvent) (Escalation, bool) {
	if ev.AlertID == "" || !geo.IsValidCoordinate(ev.Lat, ev.Lng) {
		slog.Debug("ignoring malformed emergency event", "kind", m.kind, "alert_id", ev.AlertID)
		return Escalation{}, false
	}
	if m.selfID != "" && ev.VictimID == m.selfID {
		return Escalation{}, false
	}
	if m.dedup.Seen(m.kind, ev.AlertID) {
		return Escalation{}, false
	}

	pos, err := m.locator.Acquire(ctx)
	if err != nil {
		slog.Debug("cannot evaluate emergency event without a position",
			"kind", m.kind, "alert_id", ev.AlertID, "error", err)
		return Escalation{}, false
	}

	distance := geo.Distance(pos.Coordinates(), ev.Coordinates())
	if distance > m.radius {
		return Escalation{}, false
	}

	if !m.dedup.RecordAlert(m.kind, ev.AlertID) {
		return Escalation{}, false
	}

	esc := Escalation{
		ID:             uuid.NewString(),
		Kind:           m.kind,
		AlertID:        ev.AlertID,
		VictimID:       ev.VictimID,
		Coords:         ev.Coordinates(),
		DistanceMeters: distance,
		Interrupt:      interruptFor(m.kind),
		At:             m.now(),
	}

	m.state.Activate(esc)
	if m.notifier != nil {
		m.notifier.Notify(esc)
	}

	slog.Info("emergency escalated",
		"kind", m.kind,
		"alert_id", ev.AlertID,
		"victim_id", ev.VictimID,
		"distance_m", distance)
	return esc, true
}

func interruptFor(kind Kind) Interrupt {
	if kind == KindRescuer {
		return Interrupt{
			Sound:            "sos-siren",
			VibrationPattern: []int{500, 200, 500, 200, 500},
			Modal:            true,
		}
	}
	return Interrupt{
		Sound:            "neighbor-alert",
		VibrationPattern: []int{300, 100, 300},
		Modal:            true,
	}
}
