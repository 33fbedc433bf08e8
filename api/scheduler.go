/*
scheduler.go - Automated lot expiry

PURPOSE:
  Periodically closes inventory cards whose expiry date has passed, so
  expired lots stop appearing in stock lookups and cannot be issued.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each run is one store transaction; nothing happens if no lot expired

USAGE:
  scheduler := NewExpiryScheduler(store)
  scheduler.CheckInterval = cfg.ExpiryInterval
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - store/sqlite/catalog.go: ExpireLots
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hmu/medventory/store/sqlite"
)

// ExpiryScheduler closes expired lots on a timer.
type ExpiryScheduler struct {
	Store         *sqlite.Store
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(store *sqlite.Store) *ExpiryScheduler {
	return &ExpiryScheduler{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Expiry] Disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan bool)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Expiry] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the scheduler and waits for a running check to finish.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		es.ticker = nil
		log.Println("[Expiry] Stopped")
	}
}

func (es *ExpiryScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.RunNow(context.Background())

	for {
		select {
		case <-es.ticker.C:
			es.RunNow(context.Background())
		case <-es.stop:
			return
		}
	}
}

// RunNow expires lots immediately and returns how many were closed.
func (es *ExpiryScheduler) RunNow(ctx context.Context) int {
	expired, err := es.Store.ExpireLots(ctx)
	if err != nil {
		log.Printf("[Expiry] Error expiring lots: %v", err)
		return 0
	}

	for _, e := range expired {
		log.Printf("[Expiry] Closed lot %s of %s (card %d): %s left, expired %s",
			e.LotNumber, e.MaterialName, e.CardID, e.Remaining, e.ExpDate)
	}
	if len(expired) > 0 {
		log.Printf("[Expiry] Completed: %d lots expired", len(expired))
	}
	return len(expired)
}
