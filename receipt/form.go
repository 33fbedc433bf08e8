/*
form.go - Receipt ("phiếu nhập") draft

PURPOSE:
  The editable state of one inbound document: supplier, reason, date and
  one or more items. Each item adds one lot of a material to stock.

RULES (checked in this order by Validate, first failure wins):
  1. Supplier is non-empty
  2. Per item: material chosen from the catalog or a non-empty name
  3. Per item: actual quantity > 0
  4. Per item: price > 0
  5. Per item: lot number non-empty

ITEM LIFECYCLE:
  - A draft always holds at least one item; RemoveItem refuses the last
  - Rows are addressed by a local row id, never by position
  - ApplyMaterial fills catalog fields and suggests lot/supplier from
    the material's most recent receipt

SEE ALSO:
  - search.go: Finds the materials ApplyMaterial consumes
  - session.go: Owns a Draft and submits it
*/
package receipt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// Item is one row of the receipt form.
type Item struct {
	Row int
	inventory.ReceiptLine
	UnitName string
}

func blankItem(row int) Item {
	return Item{
		Row: row,
		ReceiptLine: inventory.ReceiptLine{
			Price:     decimal.Zero,
			QtyDoc:    decimal.NewFromInt(1),
			QtyActual: decimal.NewFromInt(1),
			Category:  inventory.DefaultCategory,
		},
	}
}

// Amount is price * actual quantity.
func (it Item) Amount() decimal.Decimal { return it.Price.Mul(it.QtyActual) }

type Draft struct {
	ReceivedFrom string
	Reason       string
	ReceiptDate  inventory.Date
	Items        []Item
}

// NewDraft returns an empty draft dated today with one blank item.
func NewDraft(today inventory.Date) Draft {
	return Draft{ReceiptDate: today, Items: []Item{blankItem(1)}}
}

// Clone returns a copy that shares no item storage with d.
func (d Draft) Clone() Draft {
	d.Items = append([]Item(nil), d.Items...)
	return d
}

func (d *Draft) index(row int) (int, error) {
	for i := range d.Items {
		if d.Items[i].Row == row {
			return i, nil
		}
	}
	return -1, fmt.Errorf("receipt row %d: %w", row, inventory.ErrNotFound)
}

// AddItem appends a blank item and returns its row id.
func (d *Draft) AddItem() int {
	row := 1
	for _, it := range d.Items {
		if it.Row >= row {
			row = it.Row + 1
		}
	}
	d.Items = append(d.Items, blankItem(row))
	return row
}

// RemoveItem removes a row. The last remaining row cannot be removed.
func (d *Draft) RemoveItem(row int) error {
	i, err := d.index(row)
	if err != nil {
		return err
	}
	if len(d.Items) <= 1 {
		return &inventory.ValidationError{
			Rule:    inventory.RuleLastItem,
			Message: "a receipt needs at least one material",
		}
	}
	d.Items = append(d.Items[:i:i], d.Items[i+1:]...)
	return nil
}

// UpdateItem edits a row in place.
func (d *Draft) UpdateItem(row int, fn func(*Item)) error {
	i, err := d.index(row)
	if err != nil {
		return err
	}
	fn(&d.Items[i])
	return nil
}

// ApplyMaterial fills a row from a catalog material. The lot number is
// suggested from the most recent receipt, and so is the supplier when
// the draft has none yet.
func (d *Draft) ApplyMaterial(row int, m inventory.Material) error {
	i, err := d.index(row)
	if err != nil {
		return err
	}

	it := &d.Items[i]
	it.MaterialID = m.ID
	it.MaterialName = m.Name
	it.Spec = m.Spec
	it.Code = m.Code
	it.UnitID = m.UnitID
	it.UnitName = m.UnitName
	it.Category = m.Category
	if it.Category == "" {
		it.Category = inventory.DefaultCategory
	}

	if recent := m.RecentReceipt; recent != nil {
		it.LotNumber = recent.LotNumber
		if strings.TrimSpace(d.ReceivedFrom) == "" && recent.Supplier != "" {
			d.ReceivedFrom = recent.Supplier
		}
	}
	return nil
}

// Total sums Amount over all items.
func (d Draft) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range d.Items {
		total = total.Add(it.Amount())
	}
	return total
}

// =============================================================================
// VALIDATION
// =============================================================================

func (d Draft) Validate() error {
	if strings.TrimSpace(d.ReceivedFrom) == "" {
		return &inventory.ValidationError{
			Rule:    inventory.RuleSupplierRequired,
			Message: "supplier is required",
		}
	}

	for _, it := range d.Items {
		fail := func(rule inventory.Rule, msg string) error {
			return &inventory.ValidationError{
				Rule:         rule,
				MaterialID:   it.MaterialID,
				MaterialName: it.MaterialName,
				Message:      msg,
			}
		}

		if it.MaterialID == 0 && strings.TrimSpace(it.MaterialName) == "" {
			return fail(inventory.RuleMaterialRequired, "enter a material name or pick one from the catalog")
		}
		if !it.QtyActual.IsPositive() {
			return fail(inventory.RuleQtyNotPositive, "quantity must be greater than 0")
		}
		if !it.Price.IsPositive() {
			return fail(inventory.RulePriceInvalid, "price is invalid")
		}
		if strings.TrimSpace(it.LotNumber) == "" {
			return fail(inventory.RuleLotNumberMissing, "lot number is required")
		}
	}
	return nil
}

// Receipt builds the create payload. Call Validate first.
func (d Draft) Receipt(idempotencyKey string) inventory.Receipt {
	r := inventory.Receipt{
		ReceivedFrom:   strings.TrimSpace(d.ReceivedFrom),
		Reason:         d.Reason,
		ReceiptDate:    d.ReceiptDate,
		IdempotencyKey: idempotencyKey,
	}
	for _, it := range d.Items {
		r.Lines = append(r.Lines, it.ReceiptLine)
	}
	return r
}
