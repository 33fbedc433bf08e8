/*
Package inventory provides the shared vocabulary of the medical materials store.

PURPOSE:
  Types that every other package speaks: typed identifiers, quantities,
  withdrawal requests and their lines, lot stock, issue documents and
  receipts. Nothing in here talks to a network or a database.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: decimal.Decimal, never float64 (0.001 steps are common for liquids)
  - WithdrawalRequest: an approved "phiếu xin lĩnh" waiting to be issued
  - LotStock: one inventory card (batch) of a material, with expiry
  - StockInfo: what the stock lookup returns for one material
  - IssueSubmission: what the front-end sends to create an issue document

DESIGN PRINCIPLES:
  1. Precision: quantities use decimal.Decimal to avoid float drift
  2. Type Safety: distinct id types so a LotID is never passed as a MaterialID
  3. Immutability: requests are read-only once fetched

SEE ALSO:
  - receipt.go: Inbound (receipt) document types
  - date.go: Day-granularity dates used on the wire
  - errors.go: Sentinel and structured errors
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITIES
// =============================================================================

func init() {
	// quantities and amounts travel as plain JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// Qty converts a float quantity, as typed into a form, into a decimal.
func Qty(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// QtyFromInt converts a whole quantity.
func QtyFromInt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// Clamp bounds v to [0, max]. A negative max clamps to zero.
func Clamp(v, max decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, decimal.Min(v, max))
}

// MustParseQty parses s, returning zero on malformed input.
func MustParseQty(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MaterialID int64
type LotID int64
type RequestID int64
type DepartmentID int64
type UserID int64
type IssueID int64
type ReceiptID int64
type UnitID int64

// NoLot marks an issue line that is not drawn from a specific lot.
const NoLot LotID = 0

// =============================================================================
// WITHDRAWAL REQUEST - Approved request for materials from a department
// =============================================================================

type WithdrawalRequest struct {
	ID             RequestID
	RequesterName  string
	DepartmentID   DepartmentID
	DepartmentName string
	RequestedAt    time.Time
	Status         RequestStatus
	Lines          []RequestLine
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestIssued   RequestStatus = "issued"
)

// RequestLine is one material on a request. Material ids are unique within a request.
type RequestLine struct {
	MaterialID   MaterialID
	MaterialName string
	UnitName     string
	Category     string
	QtyRequested decimal.Decimal
}

// Line returns the line for materialID, if the request contains it.
func (r WithdrawalRequest) Line(materialID MaterialID) (RequestLine, bool) {
	for _, l := range r.Lines {
		if l.MaterialID == materialID {
			return l, true
		}
	}
	return RequestLine{}, false
}

// =============================================================================
// STOCK - Lots and totals for one material
// =============================================================================

// LotStock is a single inventory card: one batch of a material.
type LotStock struct {
	ID           LotID
	LotNumber    string
	Available    decimal.Decimal
	ExpiresOn    Date
	Manufacturer string
	Country      string
}

// StockInfo is the result of a stock lookup for one material.
// An empty Lots slice means the material is not lot-tracked.
type StockInfo struct {
	MaterialID   MaterialID
	Total        decimal.Decimal
	Lots         []LotStock
	Manufacturer string
	Country      string
}

func (s StockInfo) IsLotTracked() bool { return len(s.Lots) > 0 }

// Lot returns the lot with the given id.
func (s StockInfo) Lot(id LotID) (LotStock, bool) {
	for _, l := range s.Lots {
		if l.ID == id {
			return l, true
		}
	}
	return LotStock{}, false
}

// =============================================================================
// ISSUE - Outbound document built from a request
// =============================================================================

// IssueSubmission is the payload that creates an issue document.
type IssueSubmission struct {
	RequestID      RequestID
	ReceiverName   string
	DepartmentID   DepartmentID
	IssueDate      Date
	Controlled     bool
	Lines          []IssueSubmissionLine
	IdempotencyKey string
}

type IssueSubmissionLine struct {
	MaterialID   MaterialID
	LotID        LotID // NoLot when the material is not lot-tracked
	Qty          decimal.Decimal
	Manufacturer string
	Country      string
}

// IssueDocument is a created "phiếu xuất".
type IssueDocument struct {
	ID           IssueID
	RequestID    RequestID
	ReceiverName string
	DepartmentID DepartmentID
	IssueDate    Date
	Controlled   bool
	TotalAmount  decimal.Decimal
	CreatedBy    UserID
	CreatedAt    time.Time
	Lines        []IssueDocumentLine
}

type IssueDocumentLine struct {
	MaterialID   MaterialID
	MaterialName string
	LotID        LotID
	LotNumber    string
	Qty          decimal.Decimal
	UnitPrice    decimal.Decimal
	Manufacturer string
	Country      string
}

// Amount is the line value at its unit price.
func (l IssueDocumentLine) Amount() decimal.Decimal { return l.Qty.Mul(l.UnitPrice) }
