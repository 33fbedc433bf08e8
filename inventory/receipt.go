package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECEIPT - Inbound document ("phiếu nhập")
// =============================================================================

type Receipt struct {
	ID             ReceiptID
	ReceivedFrom   string
	Reason         string
	ReceiptDate    Date
	CreatedBy      UserID
	CreatedAt      time.Time
	IdempotencyKey string
	Lines          []ReceiptLine
}

// ReceiptLine adds one lot of a material to stock.
// MaterialID is zero when the material is new and only named.
type ReceiptLine struct {
	MaterialID   MaterialID
	MaterialName string
	Spec         string
	Code         string
	UnitID       UnitID
	Price        decimal.Decimal
	QtyDoc       decimal.Decimal
	QtyActual    decimal.Decimal
	LotNumber    string
	MfgDate      Date
	ExpDate      Date
	Category     string
}

// TotalAmount sums price * actual quantity over the lines.
func (r Receipt) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.Price.Mul(l.QtyActual))
	}
	return total
}

// DefaultCategory is the catalog category assigned when none is given.
const DefaultCategory = "D"

// =============================================================================
// CATALOG
// =============================================================================

type Material struct {
	ID            MaterialID
	Name          string
	Spec          string
	Code          string
	UnitID        UnitID
	UnitName      string
	Category      string
	TotalStock    decimal.Decimal
	RecentReceipt *RecentReceipt
}

// RecentReceipt is the latest receipt line of a material, used for form suggestions.
type RecentReceipt struct {
	LotNumber   string
	Supplier    string
	ReceiptDate Date
}

type Unit struct {
	ID   UnitID
	Name string
}
