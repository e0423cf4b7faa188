package schema

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// probeSchedule runs the generation check every five minutes, the spec
// ceiling for the optional staleness probe.
const probeSchedule = "@every 5m"

// Prober periodically compares MAX(LAST_DDL_TIME) against the cached
// generation and marks the whole schema stale when the catalog moved
// underneath the process. Third-party DDL coherence stays bounded, not
// zero.
type Prober struct {
	cache *Cache
	cron  *cron.Cron
}

// NewProber builds a stopped prober for the cache.
func NewProber(cache *Cache) *Prober {
	return &Prober{cache: cache, cron: cron.New()}
}

// Start schedules the probe. Errors from a single probe run are logged
// and do not stop the schedule.
func (p *Prober) Start() error {
	_, err := p.cron.AddFunc(probeSchedule, p.run)
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule and waits for an in-flight probe.
func (p *Prober) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *Prober) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := p.cache
	generation, err := c.source.Generation(ctx, c.schema)
	if err != nil {
		c.logger.Warn("staleness probe failed", "error", err)
		return
	}

	c.mu.RLock()
	cached := c.generation
	c.mu.RUnlock()

	if !generation.Truncate(time.Second).After(cached.Truncate(time.Second)) {
		return
	}
	c.logger.Info("catalog generation advanced, invalidating schema",
		"cached", cached, "current", generation)
	c.Invalidate(ObjectRef{Schema: c.schema})

	c.mu.Lock()
	c.generation = generation
	c.mu.Unlock()
}
