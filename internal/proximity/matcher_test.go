package proximity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-safety-agent/internal/geo"
	"github.com/mr1hm/go-safety-agent/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubLocator struct {
	mu  sync.Mutex
	pos models.Position
	err error
}

func (s *stubLocator) Acquire(ctx context.Context) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.err
}

func (s *stubLocator) set(pos models.Position, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos, s.err = pos, err
}

type countingNotifier struct {
	mu          sync.Mutex
	escalations []Escalation
}

func (n *countingNotifier) Notify(e Escalation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalations = append(n.escalations, e)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.escalations)
}

// northOf returns the latitude that lies meters north of lat on a meridian.
func northOf(lat, meters float64) float64 {
	return lat + meters/(geo.EarthRadiusMeters*3.141592653589793/180)
}

func newTestMatcher(t *testing.T, kind Kind, radius float64, locator Locator) (*Matcher, *RescueState, *countingNotifier) {
	t.Helper()
	dedup := NewDeduplicator()
	t.Cleanup(dedup.Stop)
	state := NewRescueState()
	notifier := &countingNotifier{}
	return NewMatcher(kind, radius, "me", locator, dedup, state, notifier), state, notifier
}

func TestMatcher_RadiusBoundary(t *testing.T) {
	here := &stubLocator{pos: models.Position{Latitude: 10, Longitude: 20}}

	t.Run("499m escalates", func(t *testing.T) {
		m, state, notifier := newTestMatcher(t, KindRescuer, 500, here)

		esc, ok := m.HandleEvent(context.Background(), models.EmergencyBroadcastEvent{
			AlertID: "a1", VictimID: "v1", Lat: northOf(10, 499), Lng: 20,
		})
		require.True(t, ok)
		assert.InDelta(t, 499, esc.DistanceMeters, 0.5)
		assert.True(t, state.Active())
		assert.Equal(t, 1, notifier.count())
		assert.Equal(t, "v1", esc.VictimID)
		assert.True(t, esc.Interrupt.Modal)
		assert.NotEmpty(t, esc.Interrupt.VibrationPattern)
	})

	t.Run("501m does not escalate", func(t *testing.T) {
		m, state, notifier := newTestMatcher(t, KindRescuer, 500, here)

		_, ok := m.HandleEvent(context.Background(), models.EmergencyBroadcastEvent{
			AlertID: "a1", VictimID: "v1", Lat: northOf(10, 501), Lng: 20,
		})
		assert.False(t, ok)
		assert.False(t, state.Active())
		assert.Equal(t, 0, notifier.count())
	})

	t.Run("neighbor radius is wider", func(t *testing.T) {
		m, _, _ := newTestMatcher(t, KindNeighbor, 1000, here)

		_, ok := m.HandleEvent(context.Background(), models.EmergencyBroadcastEvent{
			AlertID: "a1", VictimID: "v1", Lat: northOf(10, 800), Lng: 20,
		})
		assert.True(t, ok)
	})
}

func TestMatcher_DuplicateAlertEscalatesOnce(t *testing.T) {
	here := &stubLocator{pos: models.Position{Latitude: 10, Longitude: 20}}
	m, state, notifier := newTestMatcher(t, KindRescuer, 500, here)

	ev := models.EmergencyBroadcastEvent{AlertID: "sos-1", VictimID: "v1", Lat: northOf(10, 100), Lng: 20}

	_, first := m.HandleEvent(context.Background(), ev)
	time.Sleep(20 * time.Millisecond) // redelivery arrives later
	_, second := m.HandleEvent(context.Background(), ev)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, notifier.count())
	assert.Len(t, state.Escalations(), 1)
}

func TestMatcher_ConcurrentDuplicates(t *testing.T) {
	here := &stubLocator{pos: models.Position{Latitude: 10, Longitude: 20}}
	m, _, notifier := newTestMatcher(t, KindRescuer, 500, here)

	ev := models.EmergencyBroadcastEvent{AlertID: "sos-1", VictimID: "v1", Lat: 10, Lng: 20}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.HandleEvent(context.Background(), ev)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, notifier.count())
}

func TestMatcher_DistinctAlertsEscalateIndependently(t *testing.T) {
	here := &stubLocator{pos: models.Position{Latitude: 10, Longitude: 20}}
	m, state, notifier := newTestMatcher(t, KindRescuer, 500, here)

	for _, id := range []string{"a1", "a2", "a3"} {
		_, ok := m.HandleEvent(context.Background(), models.EmergencyBroadcastEvent{AlertID: id, VictimID: "v-" + id, Lat: 10, Lng: 20})
		assert.True(t, ok)
	}

	assert.Equal(t, 3, notifier.count())
	assert.Len(t, state.Escalations(), 3)
}

func TestMatcher_NoPositionIsIgnored(t *testing.T) {
	here := &stubLocator{err: errors.New("no location available")}
	m, state, notifier := newTestMatcher(t, KindRescuer, 500, here)

	ev := models.EmergencyBroadcastEvent{AlertID: "a1", VictimID: "v1", Lat: 10, Lng: 20}

	_, ok := m.HandleEvent(context.Background(), ev)
	assert.False(t, ok)
	assert.False(t, state.Active())
	assert.Equal(t, 0, notifier.count())

	// A redelivery after a fix becomes available may still escalate.
	here.set(models.Position{Latitude: 10, Longitude: 20}, nil)
	_, ok = m.HandleEvent(context.Background(), ev)
	assert.True(t, ok)
}

func TestMatcher_IgnoresOwnAndMalformedEvents(t *testing.T) {
	here := &stubLocator{pos: models.Position{Latitude: 10, Longitude: 20}}
	m, _, notifier := newTestMatcher(t, KindRescuer, 500, here)

	_, ok := m.HandleEvent(context.Background(), models.EmergencyBroadcastEvent{AlertID: "a1", VictimID: "me", Lat: 10, Lng: 20})
	assert.False(t, ok, "own alert must not escalate")

	_, ok = m.HandleEvent(context.Background(), models.EmergencyBroadcastEvent{AlertID: "", VictimID: "v1", Lat: 10, Lng: 20})
	assert.False(t, ok, "missing alert id")

	_, ok = m.HandleEvent(context.Background(), models.EmergencyBroadcastEvent{AlertID: "a2", VictimID: "v1", Lat: 95, Lng: 20})
	assert.False(t, ok, "invalid coordinates")

	assert.Equal(t, 0, notifier.count())
}

func TestMatcher_KindsHaveSeparateNamespaces(t *testing.T) {
	here := &stubLocator{pos: models.Position{Latitude: 10, Longitude: 20}}
	dedup := NewDeduplicator()
	defer dedup.Stop()
	state := NewRescueState()

	rescuer := NewMatcher(KindRescuer, 500, "", here, dedup, state, nil)
	neighbor := NewMatcher(KindNeighbor, 1000, "", here, dedup, state, nil)

	ev := models.EmergencyBroadcastEvent{AlertID: "a1", VictimID: "v1", Lat: 10, Lng: 20}

	_, ok := rescuer.HandleEvent(context.Background(), ev)
	assert.True(t, ok)
	_, ok = neighbor.HandleEvent(context.Background(), ev)
	assert.True(t, ok)
	assert.Len(t, state.Escalations(), 2)

	assert.True(t, state.Dismiss("a1"))
	assert.False(t, state.Active())
	assert.False(t, state.Dismiss("a1"))
}
