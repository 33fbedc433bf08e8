package receipt

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// DEBOUNCED MATERIAL SEARCH
// =============================================================================

const (
	DefaultSearchDelay     = 300 * time.Millisecond
	DefaultSearchMinLength = 2
)

// Catalog searches materials by keyword.
type Catalog interface {
	SearchMaterials(ctx context.Context, keyword string) ([]inventory.Material, error)
}

// Searcher runs a catalog lookup once input has been idle for Delay.
// New input cancels the pending lookup, and any lookup still in flight
// has its result dropped. Terms shorter than MinLength clear the results
// without a lookup.
type Searcher struct {
	Catalog   Catalog
	Delay     time.Duration
	MinLength int
	Logger    *log.Logger

	// OnResults receives the results for term. Calls are never concurrent.
	OnResults func(term string, results []inventory.Material)

	mu      sync.Mutex
	deliver sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	seq     uint64
}

func NewSearcher(catalog Catalog, onResults func(string, []inventory.Material)) *Searcher {
	return &Searcher{
		Catalog:   catalog,
		Delay:     DefaultSearchDelay,
		MinLength: DefaultSearchMinLength,
		Logger:    log.Default(),
		OnResults: onResults,
	}
}

// Input records new search text.
func (s *Searcher) Input(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.seq++
	seq := s.seq
	s.timer = time.AfterFunc(s.Delay, func() { s.fire(seq, term) })
}

// Stop cancels any pending or in-flight lookup.
func (s *Searcher) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.seq++
}

func (s *Searcher) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Searcher) fire(seq uint64, term string) {
	keyword := strings.TrimSpace(term)

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	if len([]rune(keyword)) < s.MinLength {
		s.mu.Unlock()
		s.emit(seq, term, nil)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	results, err := s.Catalog.SearchMaterials(ctx, keyword)
	superseded := ctx.Err() != nil
	cancel()
	if err != nil {
		if !superseded {
			s.Logger.Printf("[Search] material search %q failed: %v", keyword, err)
		}
		results = nil
	}
	s.emit(seq, term, results)
}

func (s *Searcher) emit(seq uint64, term string, results []inventory.Material) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	current := seq == s.seq
	s.mu.Unlock()
	if current && s.OnResults != nil {
		s.OnResults(term, results)
	}
}
