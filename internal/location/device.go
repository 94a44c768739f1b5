package location

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/models"
)

type watcher struct {
	fn func(models.Position)
}

// DeviceSource is a PositionSource fed by fixes the device reports to the
// agent, one instance per sensor API (native shell, browser).
type DeviceSource struct {
	name               string
	highAccuracyMeters float64
	permissions        *PermissionState
	now                func() time.Time

	mu       sync.Mutex
	latest   *models.Position
	waiters  map[uint64]waiter
	watchers map[uint64]watcher
	nextID   atomic.Uint64
}

type waiter struct {
	opts Options
	ch   chan models.Position
}

func NewDeviceSource(name string, highAccuracyMeters float64, permissions *PermissionState) *DeviceSource {
	return &DeviceSource{
		name:               name,
		highAccuracyMeters: highAccuracyMeters,
		permissions:        permissions,
		now:                time.Now,
		waiters:            make(map[uint64]waiter),
		watchers:           make(map[uint64]watcher),
	}
}

func (d *DeviceSource) Name() string {
	return d.name
}

// Report delivers a fix from the device to pending reads and watchers.
func (d *DeviceSource) Report(p models.Position) {
	if p.CapturedAtMs == 0 {
		p.CapturedAtMs = d.now().UnixMilli()
	}

	d.mu.Lock()
	d.latest = &p
	for id, w := range d.waiters {
		if !d.acceptable(p, w.opts) {
			continue
		}
		w.ch <- p // buffered, one send per waiter
		delete(d.waiters, id)
	}
	fns := make([]func(models.Position), 0, len(d.watchers))
	for _, w := range d.watchers {
		fns = append(fns, w.fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// CurrentPosition returns the latest fix if it satisfies opts, otherwise it
// waits for the next acceptable one until ctx is done.
func (d *DeviceSource) CurrentPosition(ctx context.Context, opts Options) (models.Position, error) {
	if d.denied() {
		return models.Position{}, ErrPermissionDenied
	}

	d.mu.Lock()
	if d.latest != nil && d.acceptable(*d.latest, opts) && d.latest.Age(d.now()) <= opts.MaxAge {
		p := *d.latest
		d.mu.Unlock()
		return p, nil
	}
	id := d.nextID.Add(1)
	ch := make(chan models.Position, 1)
	d.waiters[id] = waiter{opts: opts, ch: ch}
	d.mu.Unlock()

	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.waiters, id)
		d.mu.Unlock()
		return models.Position{}, ctx.Err()
	}
}

// Watch registers fn for every reported fix, whatever its accuracy.
// HighAccuracy only filters one-shot reads. A latest fix younger than
// opts.MaxAge is delivered immediately.
func (d *DeviceSource) Watch(opts Options, fn func(models.Position)) (Subscription, error) {
	if d.denied() {
		return nil, ErrPermissionDenied
	}

	id := d.nextID.Add(1)

	d.mu.Lock()
	d.watchers[id] = watcher{fn: fn}
	var initial *models.Position
	if d.latest != nil && d.latest.Age(d.now()) <= opts.MaxAge {
		p := *d.latest
		initial = &p
	}
	d.mu.Unlock()

	if initial != nil {
		fn(*initial)
	}

	return &deviceSubscription{source: d, id: id}, nil
}

func (d *DeviceSource) WatcherCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers)
}

func (d *DeviceSource) acceptable(p models.Position, opts Options) bool {
	if !opts.HighAccuracy {
		return true
	}
	return p.AccuracyMeters != nil && *p.AccuracyMeters <= d.highAccuracyMeters
}

func (d *DeviceSource) denied() bool {
	if d.permissions == nil {
		return false
	}
	perm, _ := d.permissions.Permission(context.Background())
	return perm == PermissionDenied
}

type deviceSubscription struct {
	source *DeviceSource
	id     uint64
	once   sync.Once
}

func (s *deviceSubscription) Close() {
	s.once.Do(func() {
		s.source.mu.Lock()
		delete(s.source.watchers, s.id)
		s.source.mu.Unlock()
	})
}

// StaticSource always reports the same position. Useful for fixed
// installations and tests.
type StaticSource struct {
	position models.Position
	now      func() time.Time
}

func NewStaticSource(lat, lng float64) *StaticSource {
	return &StaticSource{
		position: models.Position{Latitude: lat, Longitude: lng},
		now:      time.Now,
	}
}

func (s *StaticSource) CurrentPosition(ctx context.Context, opts Options) (models.Position, error) {
	if err := ctx.Err(); err != nil {
		return models.Position{}, err
	}
	p := s.position
	p.CapturedAtMs = s.now().UnixMilli()
	return p, nil
}

func (s *StaticSource) Watch(opts Options, fn func(models.Position)) (Subscription, error) {
	p, _ := s.CurrentPosition(context.Background(), opts)
	fn(p)
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Close() {}
