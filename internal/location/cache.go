package location

import (
	"sync/atomic"
	"time"

	"github.com/mr1hm/go-safety-agent/internal/models"
)

// Cache holds the single shared CachedPosition. Writes swap the pointer and
// readers always see the latest committed value without blocking.
type Cache struct {
	current atomic.Pointer[models.CachedPosition]
}

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) Store(p models.Position, at time.Time) {
	c.current.Store(&models.CachedPosition{
		Position: p,
		StoredAt: at,
	})
}

func (c *Cache) Load() (models.CachedPosition, bool) {
	cp := c.current.Load()
	if cp == nil {
		return models.CachedPosition{}, false
	}
	return *cp, true
}

// Latest returns the cached position regardless of its age.
func (c *Cache) Latest() (models.Position, bool) {
	cp, ok := c.Load()
	return cp.Position, ok
}
