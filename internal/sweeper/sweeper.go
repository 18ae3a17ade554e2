// Package sweeper runs the periodic reclamation loop for the crewd daemon.
package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fentz26/crewd/internal/coordination"
	"github.com/fentz26/crewd/internal/store"
)

// Sweeper periodically declares stale agents dead (cascading into lock
// release) and purges expired lock rows. The coordination core itself is
// cooperative-pull: it only reclaims when swept, and this loop is the
// scheduler that does the sweeping inside the daemon.
type Sweeper struct {
	store    *store.Store
	registry *coordination.AgentRegistry
	config   *Config

	mu           sync.Mutex
	sweeps       int
	agentsSwept  int
	locksExpired int
	lastSweep    time.Time
	lastSweepErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config defines the sweeper configuration.
type Config struct {
	// Interval between sweep passes.
	Interval time.Duration `yaml:"interval"`
	// StaleThreshold is how long an agent may miss heartbeats before being
	// declared dead.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:       30 * time.Second,
		StaleThreshold: coordination.DefaultStaleThreshold,
	}
}

// New creates a new sweeper.
func New(s *store.Store, registry *coordination.AgentRegistry, cfg *Config) *Sweeper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = coordination.DefaultStaleThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:    s,
		registry: registry,
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the sweep loop.
func (sw *Sweeper) Start() {
	sw.wg.Add(1)
	go sw.loop()
	log.Printf("Sweeper started (interval %s, stale threshold %s)", sw.config.Interval, sw.config.StaleThreshold)
}

// Stop gracefully stops the sweep loop.
func (sw *Sweeper) Stop() {
	sw.cancel()
	sw.wg.Wait()
	log.Println("Sweeper stopped")
}

func (sw *Sweeper) loop() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			return
		case <-ticker.C:
			sw.SweepOnce()
		}
	}
}

// SweepOnce performs one reclamation pass. Safe to invoke directly; the
// sweep and the lock release underneath it are idempotent.
func (sw *Sweeper) SweepOnce() {
	reclaimed, err := sw.registry.SweepDeadAgents(sw.ctx, sw.config.StaleThreshold)
	if err != nil {
		log.Printf("Error sweeping dead agents: %v", err)
		sw.recordSweep(0, 0, err)
		return
	}
	if reclaimed > 0 {
		log.Printf("Swept %d dead agent(s)", reclaimed)
	}

	expired, err := sw.store.PurgeExpiredLocks()
	if err != nil {
		log.Printf("Error purging expired locks: %v", err)
		sw.recordSweep(reclaimed, 0, err)
		return
	}

	sw.recordSweep(reclaimed, expired, nil)
}

func (sw *Sweeper) recordSweep(agents, locks int, err error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.sweeps++
	sw.agentsSwept += agents
	sw.locksExpired += locks
	sw.lastSweep = time.Now().UTC()
	sw.lastSweepErr = err
}

// Stats returns a snapshot of sweeper counters.
func (sw *Sweeper) Stats() map[string]interface{} {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	stats := map[string]interface{}{
		"sweeps":          sw.sweeps,
		"agents_swept":    sw.agentsSwept,
		"locks_expired":   sw.locksExpired,
		"interval":        sw.config.Interval.String(),
		"stale_threshold": sw.config.StaleThreshold.String(),
	}
	if !sw.lastSweep.IsZero() {
		stats["last_sweep"] = sw.lastSweep.Format(time.RFC3339)
	}
	if sw.lastSweepErr != nil {
		stats["last_sweep_error"] = sw.lastSweepErr.Error()
	}
	return stats
}
