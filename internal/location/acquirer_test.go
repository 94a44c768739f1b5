package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-safety-agent/internal/config"
	"github.com/mr1hm/go-safety-agent/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	source       string
	highAccuracy bool
}

// fakeSource records every call into a shared log and answers with respond.
type fakeSource struct {
	name    string
	log     *callLog
	respond func(ctx context.Context, opts Options) (models.Position, error)

	mu      sync.Mutex
	watches int
	closed  int
	watchFn func(models.Position)
}

type callLog struct {
	mu    sync.Mutex
	calls []call
}

func (l *callLog) add(c call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) snapshot() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]call(nil), l.calls...)
}

func (f *fakeSource) CurrentPosition(ctx context.Context, opts Options) (models.Position, error) {
	f.log.add(call{source: f.name, highAccuracy: opts.HighAccuracy})
	return f.respond(ctx, opts)
}

func (f *fakeSource) Watch(opts Options, fn func(models.Position)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches++
	f.watchFn = fn
	return &fakeSubscription{source: f}, nil
}

func (f *fakeSource) emit(p models.Position) {
	f.mu.Lock()
	fn := f.watchFn
	f.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

type fakeSubscription struct {
	source *fakeSource
	once   sync.Once
}

func (s *fakeSubscription) Close() {
	s.once.Do(func() {
		s.source.mu.Lock()
		s.source.closed++
		s.source.watchFn = nil
		s.source.mu.Unlock()
	})
}

var errSensor = errors.New("sensor unavailable")

func failing(ctx context.Context, opts Options) (models.Position, error) {
	return models.Position{}, errSensor
}

func fixedAt(lat, lng float64) func(ctx context.Context, opts Options) (models.Position, error) {
	return func(ctx context.Context, opts Options) (models.Position, error) {
		return models.Position{Latitude: lat, Longitude: lng, CapturedAtMs: time.Now().UnixMilli()}, nil
	}
}

func testConfig(env, platform string) *config.Config {
	return &config.Config{
		Env: env,
		Location: config.LocationConfig{
			Platform:            platform,
			FallbackLat:         38.7223,
			FallbackLng:         -9.1393,
			CacheValidity:       30 * time.Second,
			TrackingMaxAge:      5 * time.Second,
			HighAccuracyTimeout: 50 * time.Millisecond,
			LowAccuracyTimeout:  50 * time.Millisecond,
			LowAccuracyMaxAge:   time.Minute,
			HighAccuracyMeters:  50,
		},
	}
}

func newTestAcquirer(cfg *config.Config, native, web PositionSource, perms PermissionChecker) *Acquirer {
	return NewAcquirer(cfg, Strategies(cfg.Location, native, web), NewCache(), perms)
}

func TestStrategies_Ordering(t *testing.T) {
	native := &fakeSource{name: "native"}
	web := &fakeSource{name: "web"}

	t.Run("native shell tries native first", func(t *testing.T) {
		cfg := testConfig(config.EnvProduction, PlatformNative)
		names := strategyNames(Strategies(cfg.Location, native, web))
		assert.Equal(t, []string{"native-high-accuracy", "native-low-accuracy", "web-high-accuracy", "web-low-accuracy"}, names)
	})

	t.Run("browser tries web first", func(t *testing.T) {
		cfg := testConfig(config.EnvProduction, PlatformWeb)
		names := strategyNames(Strategies(cfg.Location, native, web))
		assert.Equal(t, []string{"web-high-accuracy", "web-low-accuracy", "native-high-accuracy", "native-low-accuracy"}, names)
	})
}

func strategyNames(ss []Strategy) []string {
	names := make([]string, len(ss))
	for i, s := range ss {
		names[i] = s.Name
	}
	return names
}

func TestAcquire_CacheHit(t *testing.T) {
	log := &callLog{}
	native := &fakeSource{name: "native", log: log, respond: fixedAt(10, 20)}
	a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), native, nil, nil)

	first, err := a.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, log.snapshot(), 1)

	second, err := a.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second, "cached position should be returned unchanged")
	assert.Len(t, log.snapshot(), 1, "cache hit must not call any strategy")
}

func TestAcquire_CacheExpires(t *testing.T) {
	log := &callLog{}
	native := &fakeSource{name: "native", log: log, respond: fixedAt(10, 20)}
	a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), native, nil, nil)

	_, err := a.Acquire(context.Background())
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(31 * time.Second) }

	_, err = a.Acquire(context.Background())
	require.NoError(t, err)
	assert.Len(t, log.snapshot(), 2, "stale cache must trigger a fresh read")
}

func TestAcquire_PermissionDenied(t *testing.T) {
	log := &callLog{}
	native := &fakeSource{name: "native", log: log, respond: fixedAt(10, 20)}
	perms := NewPermissionState()
	perms.Set(PermissionDenied)
	a := newTestAcquirer(testConfig(config.EnvDevelopment, PlatformNative), native, nil, perms)

	_, err := a.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, log.snapshot(), "denied permission must not reach any sensor")
}

func TestAcquire_FallsThroughInOrder(t *testing.T) {
	log := &callLog{}
	native := &fakeSource{name: "native", log: log, respond: failing}
	web := &fakeSource{name: "web", log: log, respond: fixedAt(1, 2)}
	a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), native, web, nil)

	p, err := a.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Latitude)

	assert.Equal(t, []call{
		{source: "native", highAccuracy: true},
		{source: "native", highAccuracy: false},
		{source: "web", highAccuracy: true},
	}, log.snapshot())

	cached, ok := a.Cache().Latest()
	require.True(t, ok)
	assert.Equal(t, p, cached, "successful fix should be written to the cache")
}

func TestAcquire_TimeoutIsBoundedEvenIfSourceHangs(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	log := &callLog{}
	hanging := &fakeSource{name: "web", log: log, respond: func(ctx context.Context, opts Options) (models.Position, error) {
		<-release // ignores ctx on purpose
		return models.Position{}, errSensor
	}}
	native := &fakeSource{name: "native", log: log, respond: fixedAt(5, 6)}
	a := newTestAcquirer(testConfig(config.EnvProduction, PlatformWeb), native, hanging, nil)

	start := time.Now()
	p, err := a.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5.0, p.Latitude)
	assert.Less(t, time.Since(start), time.Second, "two 50ms timeouts should bound the wait")
}

func TestAcquire_Exhaustion(t *testing.T) {
	t.Run("production returns NoLocation", func(t *testing.T) {
		log := &callLog{}
		native := &fakeSource{name: "native", log: log, respond: failing}
		web := &fakeSource{name: "web", log: log, respond: failing}
		a := newTestAcquirer(testConfig(config.EnvProduction, PlatformWeb), native, web, nil)

		_, err := a.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrNoLocation)
		assert.Len(t, log.snapshot(), 4)
	})

	t.Run("development returns the fixed fallback", func(t *testing.T) {
		log := &callLog{}
		native := &fakeSource{name: "native", log: log, respond: failing}
		web := &fakeSource{name: "web", log: log, respond: failing}
		a := newTestAcquirer(testConfig(config.EnvDevelopment, PlatformWeb), native, web, nil)

		p, err := a.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 38.7223, p.Latitude)
		assert.Equal(t, -9.1393, p.Longitude)

		_, cached := a.Cache().Latest()
		assert.False(t, cached, "fallback position is not cached")
	})
}

func TestAcquire_DeniedMidChainIsTerminal(t *testing.T) {
	log := &callLog{}
	native := &fakeSource{name: "native", log: log, respond: func(ctx context.Context, opts Options) (models.Position, error) {
		return models.Position{}, ErrPermissionDenied
	}}
	web := &fakeSource{name: "web", log: log, respond: fixedAt(1, 2)}
	a := newTestAcquirer(testConfig(config.EnvDevelopment, PlatformNative), native, web, nil)

	_, err := a.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Len(t, log.snapshot(), 1)
}

func TestAcquire_CancelledContext(t *testing.T) {
	log := &callLog{}
	native := &fakeSource{name: "native", log: log, respond: func(ctx context.Context, opts Options) (models.Position, error) {
		<-ctx.Done()
		return models.Position{}, ctx.Err()
	}}
	a := newTestAcquirer(testConfig(config.EnvDevelopment, PlatformNative), native, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPin(t *testing.T) {
	log := &callLog{}
	native := &fakeSource{name: "native", log: log, respond: failing}
	a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), native, nil, nil)

	pinned := a.Pin(40.1, -8.2)

	p, err := a.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pinned, p)
	assert.Empty(t, log.snapshot())
}

func TestTracking(t *testing.T) {
	t.Run("stop when never started is a no-op", func(t *testing.T) {
		a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), &fakeSource{name: "native"}, nil, nil)
		assert.NotPanics(t, a.StopTracking)
		assert.False(t, a.Tracking())
	})

	t.Run("ticks update the cache", func(t *testing.T) {
		native := &fakeSource{name: "native"}
		a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), native, nil, nil)

		require.NoError(t, a.StartTracking())
		defer a.StopTracking()

		native.emit(models.Position{Latitude: 3, Longitude: 4, CapturedAtMs: time.Now().UnixMilli()})

		p, ok := a.Cache().Latest()
		require.True(t, ok)
		assert.Equal(t, 3.0, p.Latitude)
	})

	t.Run("coarse fixes still update the cache", func(t *testing.T) {
		web := NewDeviceSource(PlatformWeb, 50, nil)
		a := newTestAcquirer(testConfig(config.EnvProduction, PlatformWeb), nil, web, nil)

		require.NoError(t, a.StartTracking())
		defer a.StopTracking()

		coarse := 80.0
		web.Report(models.Position{Latitude: 1, Longitude: 2, AccuracyMeters: &coarse})
		p, ok := a.Cache().Latest()
		require.True(t, ok)
		assert.Equal(t, 1.0, p.Latitude)

		web.Report(models.Position{Latitude: 5, Longitude: 6})
		p, ok = a.Cache().Latest()
		require.True(t, ok)
		assert.Equal(t, 5.0, p.Latitude)
	})

	t.Run("restart tears down the previous subscription", func(t *testing.T) {
		native := &fakeSource{name: "native"}
		a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), native, nil, nil)

		require.NoError(t, a.StartTracking())
		require.NoError(t, a.StartTracking())

		native.mu.Lock()
		assert.Equal(t, 2, native.watches)
		assert.Equal(t, 1, native.closed)
		native.mu.Unlock()

		a.StopTracking()
		a.StopTracking()

		native.mu.Lock()
		assert.Equal(t, 2, native.closed)
		native.mu.Unlock()
		assert.False(t, a.Tracking())
	})

	t.Run("one-shot acquire reuses tracking fix", func(t *testing.T) {
		log := &callLog{}
		native := &fakeSource{name: "native", log: log, respond: failing}
		a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), native, nil, nil)

		require.NoError(t, a.StartTracking())
		defer a.StopTracking()
		native.emit(models.Position{Latitude: 7, Longitude: 8, CapturedAtMs: time.Now().UnixMilli()})

		p, err := a.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7.0, p.Latitude)
		assert.Empty(t, log.snapshot())
	})

	t.Run("no source available", func(t *testing.T) {
		a := newTestAcquirer(testConfig(config.EnvProduction, PlatformNative), nil, nil, nil)
		assert.ErrorIs(t, a.StartTracking(), ErrNoLocation)
	})
}
