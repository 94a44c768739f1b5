package location

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/models"
)

var (
	// ErrPermissionDenied means the user or OS refused location access. It is
	// terminal for the current call and is never retried automatically.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrSensorTimeout means a single strategy attempt exceeded its bound.
	ErrSensorTimeout = errors.New("location sensor timed out")

	// ErrNoLocation means every strategy was exhausted.
	ErrNoLocation = errors.New("no location available")
)

// Options mirrors the geolocation request options of the device APIs.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// Subscription is the handle returned by Watch. Close is clearWatch and is
// safe to call more than once.
type Subscription interface {
	Close()
}

// PositionSource is a device geolocation provider.
type PositionSource interface {
	CurrentPosition(ctx context.Context, opts Options) (models.Position, error)
	Watch(opts Options, fn func(models.Position)) (Subscription, error)
}

type Permission int32

const (
	PermissionPrompt Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "prompt"
	}
}

func ParsePermission(s string) (Permission, bool) {
	switch s {
	case "granted":
		return PermissionGranted, true
	case "denied":
		return PermissionDenied, true
	case "prompt":
		return PermissionPrompt, true
	default:
		return PermissionPrompt, false
	}
}

type PermissionChecker interface {
	Permission(ctx context.Context) (Permission, error)
}

// PermissionState holds the permission most recently reported by the device.
type PermissionState struct {
	state atomic.Int32
}

func NewPermissionState() *PermissionState {
	return &PermissionState{}
}

func (s *PermissionState) Set(p Permission) {
	s.state.Store(int32(p))
}

func (s *PermissionState) Permission(ctx context.Context) (Permission, error) {
	return Permission(s.state.Load()), nil
}
