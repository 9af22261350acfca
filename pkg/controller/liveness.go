package controller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kavindu-dev/distribtx/pkg/siteclient"
)

// livenessTracker periodically polls every registered site's /health
// route and records the last known state, purely for diagnostics
// (Controller.LivenessSnapshot and log lines on state changes). It never
// removes a site or otherwise affects
// locking or replication fan-out — there is no automatic site recovery
// in this design.
type livenessTracker struct {
	registry *siteRegistry
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu    sync.RWMutex
	alive map[uint32]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newLivenessTracker(registry *siteRegistry, interval time.Duration, log *zap.Logger) *livenessTracker {
	return &livenessTracker{
		registry: registry,
		interval: interval,
		timeout:  2 * time.Second,
		log:      log,
		alive:    make(map[uint32]bool),
		stopCh:   make(chan struct{}),
	}
}

func (t *livenessTracker) Start() {
	t.wg.Add(1)
	go t.run()
}

func (t *livenessTracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *livenessTracker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.checkAll()
	for {
		select {
		case <-ticker.C:
			t.checkAll()
		case <-t.stopCh:
			return
		}
	}
}

func (t *livenessTracker) checkAll() {
	sites := t.registry.all()
	var wg sync.WaitGroup
	wg.Add(len(sites))
	for _, s := range sites {
		s := s
		go func() {
			defer wg.Done()
			t.checkSite(s)
		}()
	}
	wg.Wait()
}

func (t *livenessTracker) checkSite(s siteInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	client := siteclient.New(s.addr(), t.timeout)
	_, err := client.Health(ctx)

	t.mu.Lock()
	wasAlive := t.alive[s.id]
	t.alive[s.id] = err == nil
	t.mu.Unlock()

	if err != nil && wasAlive {
		t.log.Warn("site became unreachable", zap.Uint32("site_id", s.id), zap.String("addr", s.addr()), zap.Error(err))
	} else if err == nil && !wasAlive {
		t.log.Info("site became reachable", zap.Uint32("site_id", s.id), zap.String("addr", s.addr()))
	}
}

// Snapshot returns a copy of the last observed liveness of every site.
func (t *livenessTracker) Snapshot() map[uint32]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint32]bool, len(t.alive))
	for id, ok := range t.alive {
		out[id] = ok
	}
	return out
}
