package issue

import (
	"context"
	"log"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// STOCK RESOLVER - Concurrent per-line stock lookup with isolated failures
// =============================================================================

// Resolution is the outcome of one line's stock lookup.
type Resolution struct {
	MaterialID inventory.MaterialID
	Stock      inventory.StockInfo
	Err        error
}

// Apply records the resolution on alloc. A failed lookup degrades the line
// to zero stock and no lots instead of failing the form.
func (r Resolution) Apply(alloc Allocation) Allocation {
	if r.Err != nil {
		return alloc.ApplyStockFailure(r.MaterialID)
	}
	return alloc.ApplyStock(r.MaterialID, r.Stock)
}

type Resolver struct {
	Source StockSource
	Logger *log.Logger
}

func NewResolver(source StockSource, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{Source: source, Logger: logger}
}

// Resolve looks up every line concurrently and hands each result to apply
// as soon as it arrives. Calls to apply are serialized. Resolve returns
// after every line has been handed over.
func (r *Resolver) Resolve(ctx context.Context, lines []inventory.RequestLine, apply func(Resolution)) {
	results := make(chan Resolution, len(lines))

	for _, line := range lines {
		go func(id inventory.MaterialID) {
			stock, err := r.Source.Stock(ctx, id)
			stock.MaterialID = id
			results <- Resolution{MaterialID: id, Stock: stock, Err: err}
		}(line.MaterialID)
	}

	for range lines {
		res := <-results
		if res.Err != nil {
			r.Logger.Printf("[Resolver] stock lookup for material %d failed, using zero stock: %v", res.MaterialID, res.Err)
		}
		apply(res)
	}
}
