package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/config"
	"github.com/mr1hm/go-safety-agent/internal/models"
)

const (
	PlatformNative = "native"
	PlatformWeb    = "web"
)

// Strategy is one way of obtaining a fix. Strategies run strictly in order,
// one sensor call at a time.
type Strategy struct {
	Name    string
	Source  PositionSource
	Options Options
}

// Strategies builds the platform ordering: native sensors first inside the
// packaged shell, browser sensors first everywhere else.
func Strategies(cfg config.LocationConfig, native, web PositionSource) []Strategy {
	high := Options{HighAccuracy: true, Timeout: cfg.HighAccuracyTimeout}
	low := Options{HighAccuracy: false, Timeout: cfg.LowAccuracyTimeout, MaxAge: cfg.LowAccuracyMaxAge}

	nativeFirst := []Strategy{
		{Name: "native-high-accuracy", Source: native, Options: high},
		{Name: "native-low-accuracy", Source: native, Options: low},
		{Name: "web-high-accuracy", Source: web, Options: high},
		{Name: "web-low-accuracy", Source: web, Options: low},
	}
	if cfg.Platform == PlatformNative {
		return nativeFirst
	}
	return append(nativeFirst[2:], nativeFirst[:2]...)
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeTimeout
	outcomeDenied
	outcomeError
)

type attemptResult struct {
	outcome  outcome
	position models.Position
	err      error
}

// Acquirer obtains a trustworthy device position through a cached strategy chain.
type Acquirer struct {
	strategies     []Strategy
	cache          *Cache
	permissions    PermissionChecker
	validity       time.Duration
	trackingMaxAge time.Duration
	development    bool
	fallback       models.Position
	now            func() time.Time

	mu sync.Mutex // one strategy chain in flight

	trackMu  sync.Mutex
	tracking Subscription
}

func NewAcquirer(cfg *config.Config, strategies []Strategy, cache *Cache, permissions PermissionChecker) *Acquirer {
	return &Acquirer{
		strategies:     strategies,
		cache:          cache,
		permissions:    permissions,
		validity:       cfg.Location.CacheValidity,
		trackingMaxAge: cfg.Location.TrackingMaxAge,
		development:    cfg.Development(),
		fallback: models.Position{
			Latitude:  cfg.Location.FallbackLat,
			Longitude: cfg.Location.FallbackLng,
		},
		now: time.Now,
	}
}

func (a *Acquirer) Cache() *Cache {
	return a.cache
}

// Acquire returns the current position. Individual strategy failures are
// absorbed; only permission denial or total exhaustion reach the caller.
func (a *Acquirer) Acquire(ctx context.Context) (models.Position, error) {
	if p, ok := a.fresh(); ok {
		return p, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// A concurrent chain or tracking tick may have filled the cache meanwhile.
	if p, ok := a.fresh(); ok {
		return p, nil
	}

	if a.permissions != nil {
		perm, err := a.permissions.Permission(ctx)
		if err != nil {
			slog.Debug("permission check failed", "error", err)
		} else if perm == PermissionDenied {
			return models.Position{}, ErrPermissionDenied
		}
	}

	for _, s := range a.strategies {
		if s.Source == nil {
			continue
		}

		r := a.attempt(ctx, s)
		switch r.outcome {
		case outcomeSuccess:
			a.cache.Store(r.position, a.now())
			return r.position, nil
		case outcomeDenied:
			return models.Position{}, ErrPermissionDenied
		default:
			slog.Debug("location strategy failed", "strategy", s.Name, "error", r.err)
		}

		if err := ctx.Err(); err != nil {
			return models.Position{}, fmt.Errorf("acquire location: %w", err)
		}
	}

	if a.development {
		slog.Warn("all location strategies failed, using development fallback",
			"latitude", a.fallback.Latitude, "longitude", a.fallback.Longitude)
		p := a.fallback
		p.CapturedAtMs = a.now().UnixMilli()
		return p, nil
	}

	return models.Position{}, ErrNoLocation
}

// Pin stores a manually placed position as the current fix.
func (a *Acquirer) Pin(lat, lng float64) models.Position {
	now := a.now()
	p := models.Position{
		Latitude:     lat,
		Longitude:    lng,
		CapturedAtMs: now.UnixMilli(),
	}
	a.cache.Store(p, now)
	return p
}

func (a *Acquirer) fresh() (models.Position, bool) {
	cp, ok := a.cache.Load()
	if !ok {
		return models.Position{}, false
	}
	if cp.Position.Age(a.now()) >= a.validity {
		return models.Position{}, false
	}
	return cp.Position, true
}

// attempt runs a single strategy bounded by its own timeout. The select
// guarantees the bound even when a source ignores its context.
func (a *Acquirer) attempt(ctx context.Context, s Strategy) attemptResult {
	ctx, cancel := context.WithTimeout(ctx, s.Options.Timeout)
	defer cancel()

	ch := make(chan attemptResult, 1)
	go func() {
		p, err := s.Source.CurrentPosition(ctx, s.Options)
		ch <- classify(p, err)
	}()

	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return attemptResult{outcome: outcomeTimeout, err: ErrSensorTimeout}
	}
}

func classify(p models.Position, err error) attemptResult {
	switch {
	case err == nil:
		return attemptResult{outcome: outcomeSuccess, position: p}
	case errors.Is(err, ErrPermissionDenied):
		return attemptResult{outcome: outcomeDenied, err: err}
	case errors.Is(err, ErrSensorTimeout), errors.Is(err, context.DeadlineExceeded):
		return attemptResult{outcome: outcomeTimeout, err: err}
	default:
		return attemptResult{outcome: outcomeError, err: err}
	}
}

// StartTracking subscribes to the highest-priority source and writes every
// tick to the cache. A running subscription is torn down first.
func (a *Acquirer) StartTracking() error {
	a.trackMu.Lock()
	defer a.trackMu.Unlock()

	if a.tracking != nil {
		a.tracking.Close()
		a.tracking = nil
	}

	for _, s := range a.strategies {
		if s.Source == nil {
			continue
		}

		opts := Options{
			HighAccuracy: true,
			Timeout:      s.Options.Timeout,
			MaxAge:       a.trackingMaxAge,
		}
		sub, err := s.Source.Watch(opts, func(p models.Position) {
			a.cache.Store(p, a.now())
		})
		if err != nil {
			return fmt.Errorf("start tracking with %s: %w", s.Name, err)
		}

		a.tracking = sub
		slog.Info("location tracking started", "strategy", s.Name)
		return nil
	}

	return fmt.Errorf("start tracking: %w", ErrNoLocation)
}

// StopTracking releases the subscription. It is a no-op when not tracking.
func (a *Acquirer) StopTracking() {
	a.trackMu.Lock()
	defer a.trackMu.Unlock()

	if a.tracking == nil {
		return
	}
	a.tracking.Close()
	a.tracking = nil
	slog.Info("location tracking stopped")
}

func (a *Acquirer) Tracking() bool {
	a.trackMu.Lock()
	defer a.trackMu.Unlock()
	return a.tracking != nil
}
