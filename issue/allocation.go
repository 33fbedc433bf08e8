/*
allocation.go - Per-line allocation state and its reducers

PURPOSE:
  Holds, for each material of the selected request, the chosen lot, the
  issue quantity and (for controlled materials) manufacturer/country.
  Every mutation is a pure reducer: it returns a new Allocation and leaves
  the receiver untouched, so the invariant below is enforced in one place.

INVARIANT (per line):
  0 <= QtyIssued <= min(QtyRequested, SelectedLot.Available or AvailableStock)

REDUCERS:
  SetQuantity: clamp the typed quantity into the invariant range
  SelectLot:   choose (or clear) a lot; re-clamp; take lot manufacturer/country
  SetDrugInfo: overwrite manufacturer or country, no clamping
  ApplyStock:  record a stock lookup (resolver only)

  Each reducer targets exactly one line by material id. Unknown ids are a
  no-op. No reducer ever touches another line.

EXAMPLE:
  alloc := NewAllocation(request)
  alloc = alloc.ApplyStock(morphine, stock)     // qty = min(requested, total)
  alloc = alloc.SelectLot(morphine, 10)         // qty clamps to lot 10
  alloc = alloc.SetDrugInfo(morphine, FieldCountry, "Việt Nam")

SEE ALSO:
  - resolver.go: Produces the StockInfo passed to ApplyStock
  - validator.go: Checks a whole Allocation before submission
*/
package issue

import (
	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// ALLOCATION LINE - Working state for one request line
// =============================================================================

type AllocationLine struct {
	// Copied from the request line, never changed
	MaterialID   inventory.MaterialID
	MaterialName string
	UnitName     string
	Category     string
	QtyRequested decimal.Decimal

	// Written once by stock resolution
	AvailableStock decimal.Decimal
	LotStocks      []inventory.LotStock
	Resolved       bool
	Degraded       bool // lookup failed; treated as zero stock

	// Edited by the user
	SelectedLot  *inventory.LotStock
	QtyIssued    decimal.Decimal
	Manufacturer string
	Country      string
}

// IsLotTracked reports whether the material has any lots.
func (l AllocationLine) IsLotTracked() bool { return len(l.LotStocks) > 0 }

// Limit is the stock the line may draw from: the selected lot, else the total.
func (l AllocationLine) Limit() decimal.Decimal {
	if l.SelectedLot != nil {
		return l.SelectedLot.Available
	}
	return l.AvailableStock
}

// MaxIssuable is the upper bound of QtyIssued.
func (l AllocationLine) MaxIssuable() decimal.Decimal {
	return decimal.Max(decimal.Zero, decimal.Min(l.QtyRequested, l.Limit()))
}

// SelectedLotID returns the selected lot id, or NoLot.
func (l AllocationLine) SelectedLotID() inventory.LotID {
	if l.SelectedLot == nil {
		return inventory.NoLot
	}
	return l.SelectedLot.ID
}

// Sufficient reports whether total stock covers the requested quantity.
func (l AllocationLine) Sufficient() bool {
	return l.AvailableStock.GreaterThanOrEqual(l.QtyRequested)
}

// LotNote describes the lot state of the line for display.
type LotNote string

const (
	NoteLotSelected   LotNote = "lot_selected"
	NoteLotRequired   LotNote = "lot_required"
	NoteNotLotTracked LotNote = "not_lot_tracked"
)

func (l AllocationLine) Note() LotNote {
	switch {
	case l.SelectedLot != nil:
		return NoteLotSelected
	case l.IsLotTracked():
		return NoteLotRequired
	default:
		return NoteNotLotTracked
	}
}

// withLot selects lot (nil clears) and re-derives quantity and drug info.
func (l AllocationLine) withLot(lot *inventory.LotStock) AllocationLine {
	if lot == nil {
		l.SelectedLot = nil
		l.QtyIssued = inventory.Clamp(l.QtyIssued, l.QtyRequested)
		return l
	}

	chosen := *lot
	l.SelectedLot = &chosen
	l.QtyIssued = inventory.Clamp(l.QtyIssued, chosen.Available)
	if chosen.Manufacturer != "" {
		l.Manufacturer = chosen.Manufacturer
	}
	if chosen.Country != "" {
		l.Country = chosen.Country
	}
	return l
}

// =============================================================================
// ALLOCATION - Keyed set of lines, one per request line
// =============================================================================

// Allocation maps material id to AllocationLine and remembers request order.
// The zero value is an empty allocation.
type Allocation struct {
	order []inventory.MaterialID
	lines map[inventory.MaterialID]AllocationLine
}

// NewAllocation creates unresolved lines for every line of req.
// A repeated material id keeps its first line.
func NewAllocation(req inventory.WithdrawalRequest) Allocation {
	a := Allocation{lines: make(map[inventory.MaterialID]AllocationLine, len(req.Lines))}
	for _, rl := range req.Lines {
		if _, dup := a.lines[rl.MaterialID]; dup {
			continue
		}
		a.order = append(a.order, rl.MaterialID)
		a.lines[rl.MaterialID] = AllocationLine{
			MaterialID:     rl.MaterialID,
			MaterialName:   rl.MaterialName,
			UnitName:       rl.UnitName,
			Category:       rl.Category,
			QtyRequested:   rl.QtyRequested,
			AvailableStock: decimal.Zero,
			QtyIssued:      decimal.Zero,
		}
	}
	return a
}

func (a Allocation) Len() int      { return len(a.order) }
func (a Allocation) IsEmpty() bool { return len(a.order) == 0 }

// Line returns the line for a material.
func (a Allocation) Line(id inventory.MaterialID) (AllocationLine, bool) {
	l, ok := a.lines[id]
	return l, ok
}

// Lines returns all lines in request order.
func (a Allocation) Lines() []AllocationLine {
	out := make([]AllocationLine, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.lines[id])
	}
	return out
}

// Resolved reports whether every line has a stock result.
func (a Allocation) Resolved() bool {
	for _, l := range a.lines {
		if !l.Resolved {
			return false
		}
	}
	return true
}

// update applies fn to one line and returns the new allocation.
func (a Allocation) update(id inventory.MaterialID, fn func(AllocationLine) AllocationLine) Allocation {
	line, ok := a.lines[id]
	if !ok {
		return a
	}
	next := Allocation{
		order: a.order,
		lines: make(map[inventory.MaterialID]AllocationLine, len(a.lines)),
	}
	for k, v := range a.lines {
		next.lines[k] = v
	}
	next.lines[id] = fn(line)
	return next
}

// =============================================================================
// REDUCERS
// =============================================================================

// SetQuantity sets the issue quantity, clamped to [0, MaxIssuable].
func (a Allocation) SetQuantity(id inventory.MaterialID, qty decimal.Decimal) Allocation {
	return a.update(id, func(l AllocationLine) AllocationLine {
		l.QtyIssued = inventory.Clamp(qty, l.MaxIssuable())
		return l
	})
}

// SelectLot selects the lot with lotID from the line's lots. NoLot, or an id
// the line doesn't have, clears the selection.
func (a Allocation) SelectLot(id inventory.MaterialID, lotID inventory.LotID) Allocation {
	return a.update(id, func(l AllocationLine) AllocationLine {
		for i := range l.LotStocks {
			if lotID != inventory.NoLot && l.LotStocks[i].ID == lotID {
				return l.withLot(&l.LotStocks[i])
			}
		}
		return l.withLot(nil)
	})
}

// DrugField names an editable controlled-substance field.
type DrugField string

const (
	FieldManufacturer DrugField = "manufacturer"
	FieldCountry      DrugField = "country"
)

// SetDrugInfo overwrites manufacturer or country.
func (a Allocation) SetDrugInfo(id inventory.MaterialID, field DrugField, value string) Allocation {
	return a.update(id, func(l AllocationLine) AllocationLine {
		switch field {
		case FieldManufacturer:
			l.Manufacturer = value
		case FieldCountry:
			l.Country = value
		}
		return l
	})
}

// ApplyStock records a successful stock lookup: total and lots are set,
// the initial quantity becomes min(requested, total), and a sole lot is
// selected automatically.
func (a Allocation) ApplyStock(id inventory.MaterialID, stock inventory.StockInfo) Allocation {
	return a.update(id, func(l AllocationLine) AllocationLine {
		l.AvailableStock = decimal.Max(decimal.Zero, stock.Total)
		l.LotStocks = append([]inventory.LotStock(nil), stock.Lots...)
		l.SelectedLot = nil
		l.Manufacturer = stock.Manufacturer
		l.Country = stock.Country
		l.QtyIssued = inventory.Clamp(l.QtyRequested, l.AvailableStock)
		l.Resolved = true
		l.Degraded = false
		if len(l.LotStocks) == 1 {
			l = l.withLot(&l.LotStocks[0])
		}
		return l
	})
}

// ApplyStockFailure degrades a line whose lookup failed to zero stock and no lots.
func (a Allocation) ApplyStockFailure(id inventory.MaterialID) Allocation {
	return a.update(id, func(l AllocationLine) AllocationLine {
		l.AvailableStock = decimal.Zero
		l.LotStocks = nil
		l.SelectedLot = nil
		l.QtyIssued = decimal.Zero
		l.Resolved = true
		l.Degraded = true
		return l
	})
}
