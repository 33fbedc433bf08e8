/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures the browser front-end and the Go client
  exchange with the backend. These types decouple the domain model in
  package inventory from the wire contract, whose field names follow the
  front-end (camelCase, "details" for lines, "inventoryCardId" for lots).

NAMING CONVENTION:
  - *DTO: Response types returned to clients (also accepted where the
          front-end posts the same shape back)
  - *Request: Request body types from clients
  - Envelope: The {success, data, message} wrapper

TYPES:
  Requests:  RequestDTO, RequestLineDTO, CreateRequestRequest, DecisionRequest
  Stock:     StockDTO, LotStockDTO (unwrapped on the wire)
  Issues:    CreateIssueRequest, IssueDTO, IssueLineDTO
  Receipts:  ReceiptDTO, ReceiptLineDTO
  Catalog:   MaterialDTO, RecentReceiptDTO, UnitDTO (units unwrapped)

CONVERSION:
  Every DTO has a To*DTO constructor from the domain type and a Model()
  method back to it, so the server and client package share one mapping.

SEE ALSO:
  - handlers.go: Uses these types
  - client/client.go: Decodes the same types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// Envelope wraps every response except stock and units.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// WITHDRAWAL REQUESTS
// =============================================================================

type RequestDTO struct {
	ID             inventory.RequestID     `json:"id"`
	CreatedByName  string                  `json:"createdByName"`
	DepartmentID   inventory.DepartmentID  `json:"departmentId"`
	DepartmentName string                  `json:"departmentName"`
	RequestedAt    time.Time               `json:"requestedAt"`
	Status         inventory.RequestStatus `json:"status"`
	Details        []RequestLineDTO        `json:"details"`
}

type RequestLineDTO struct {
	MaterialID   inventory.MaterialID `json:"materialId"`
	MaterialName string               `json:"materialName"`
	UnitName     string               `json:"unitName"`
	Category     string               `json:"category"`
	QtyRequested decimal.Decimal      `json:"qtyRequested"`
}

func ToRequestDTO(r inventory.WithdrawalRequest) RequestDTO {
	dto := RequestDTO{
		ID:             r.ID,
		CreatedByName:  r.RequesterName,
		DepartmentID:   r.DepartmentID,
		DepartmentName: r.DepartmentName,
		RequestedAt:    r.RequestedAt,
		Status:         r.Status,
		Details:        make([]RequestLineDTO, len(r.Lines)),
	}
	for i, l := range r.Lines {
		dto.Details[i] = RequestLineDTO{
			MaterialID:   l.MaterialID,
			MaterialName: l.MaterialName,
			UnitName:     l.UnitName,
			Category:     l.Category,
			QtyRequested: l.QtyRequested,
		}
	}
	return dto
}

func (d RequestDTO) Model() inventory.WithdrawalRequest {
	r := inventory.WithdrawalRequest{
		ID:             d.ID,
		RequesterName:  d.CreatedByName,
		DepartmentID:   d.DepartmentID,
		DepartmentName: d.DepartmentName,
		RequestedAt:    d.RequestedAt,
		Status:         d.Status,
		Lines:          make([]inventory.RequestLine, len(d.Details)),
	}
	for i, l := range d.Details {
		r.Lines[i] = inventory.RequestLine{
			MaterialID:   l.MaterialID,
			MaterialName: l.MaterialName,
			UnitName:     l.UnitName,
			Category:     l.Category,
			QtyRequested: l.QtyRequested,
		}
	}
	return r
}

// CreateRequestRequest is the body of POST /api/issue-requests.
type CreateRequestRequest struct {
	RequesterName string                 `json:"requesterName"`
	DepartmentID  inventory.DepartmentID `json:"departmentId"`
	Note          string                 `json:"note"`
	Details       []CreateRequestLine    `json:"details"`
}

type CreateRequestLine struct {
	MaterialID   inventory.MaterialID `json:"materialId"`
	QtyRequested decimal.Decimal      `json:"qtyRequested"`
}

// DecisionRequest is the optional body of approve and reject.
type DecisionRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// STOCK
// =============================================================================

type StockDTO struct {
	TotalStock   decimal.Decimal `json:"totalStock"`
	LotStocks    []LotStockDTO   `json:"lotStocks"`
	Manufacturer string          `json:"manufacturer"`
	Country      string          `json:"country"`
}

type LotStockDTO struct {
	InventoryCardID inventory.LotID `json:"inventoryCardId"`
	LotNumber       string          `json:"lotNumber"`
	AvailableStock  decimal.Decimal `json:"availableStock"`
	ExpDate         inventory.Date  `json:"expDate"`
	Manufacturer    string          `json:"manufacturer"`
	Country         string          `json:"country"`
}

func ToStockDTO(s inventory.StockInfo) StockDTO {
	dto := StockDTO{
		TotalStock:   s.Total,
		LotStocks:    make([]LotStockDTO, len(s.Lots)),
		Manufacturer: s.Manufacturer,
		Country:      s.Country,
	}
	for i, l := range s.Lots {
		dto.LotStocks[i] = LotStockDTO{
			InventoryCardID: l.ID,
			LotNumber:       l.LotNumber,
			AvailableStock:  l.Available,
			ExpDate:         l.ExpiresOn,
			Manufacturer:    l.Manufacturer,
			Country:         l.Country,
		}
	}
	return dto
}

// Model returns the stock of material id.
func (d StockDTO) Model(id inventory.MaterialID) inventory.StockInfo {
	s := inventory.StockInfo{
		MaterialID:   id,
		Total:        d.TotalStock,
		Lots:         make([]inventory.LotStock, len(d.LotStocks)),
		Manufacturer: d.Manufacturer,
		Country:      d.Country,
	}
	for i, l := range d.LotStocks {
		s.Lots[i] = inventory.LotStock{
			ID:           l.InventoryCardID,
			LotNumber:    l.LotNumber,
			Available:    l.AvailableStock,
			ExpiresOn:    l.ExpDate,
			Manufacturer: l.Manufacturer,
			Country:      l.Country,
		}
	}
	return s
}

// =============================================================================
// ISSUES
// =============================================================================

// CreateIssueRequest is the body of POST /api/issues/create-from-request.
// A nil inventoryCardId means the line is not drawn from a lot.
type CreateIssueRequest struct {
	IssueReqID            inventory.RequestID    `json:"issueReqId"`
	ReceiverName          string                 `json:"receiverName"`
	DepartmentID          inventory.DepartmentID `json:"departmentId"`
	IssueDate             inventory.Date         `json:"issueDate"`
	IsControlledSubstance bool                   `json:"isControlledSubstance"`
	Details               []CreateIssueLine      `json:"details"`
}

type CreateIssueLine struct {
	MaterialID      inventory.MaterialID `json:"materialId"`
	InventoryCardID *inventory.LotID     `json:"inventoryCardId"`
	QtyIssued       decimal.Decimal      `json:"qtyIssued"`
	Manufacturer    string               `json:"manufacturer"`
	Country         string               `json:"country"`
}

func ToCreateIssueRequest(s inventory.IssueSubmission) CreateIssueRequest {
	req := CreateIssueRequest{
		IssueReqID:            s.RequestID,
		ReceiverName:          s.ReceiverName,
		DepartmentID:          s.DepartmentID,
		IssueDate:             s.IssueDate,
		IsControlledSubstance: s.Controlled,
		Details:               make([]CreateIssueLine, len(s.Lines)),
	}
	for i, l := range s.Lines {
		line := CreateIssueLine{
			MaterialID:   l.MaterialID,
			QtyIssued:    l.Qty,
			Manufacturer: l.Manufacturer,
			Country:      l.Country,
		}
		if l.LotID != inventory.NoLot {
			lot := l.LotID
			line.InventoryCardID = &lot
		}
		req.Details[i] = line
	}
	return req
}

// Model returns the submission; the idempotency key travels as a header.
func (d CreateIssueRequest) Model(idempotencyKey string) inventory.IssueSubmission {
	s := inventory.IssueSubmission{
		RequestID:      d.IssueReqID,
		ReceiverName:   d.ReceiverName,
		DepartmentID:   d.DepartmentID,
		IssueDate:      d.IssueDate,
		Controlled:     d.IsControlledSubstance,
		Lines:          make([]inventory.IssueSubmissionLine, len(d.Details)),
		IdempotencyKey: idempotencyKey,
	}
	for i, l := range d.Details {
		line := inventory.IssueSubmissionLine{
			MaterialID:   l.MaterialID,
			Qty:          l.QtyIssued,
			Manufacturer: l.Manufacturer,
			Country:      l.Country,
		}
		if l.InventoryCardID != nil {
			line.LotID = *l.InventoryCardID
		}
		s.Lines[i] = line
	}
	return s
}

type IssueDTO struct {
	ID                    inventory.IssueID      `json:"id"`
	IssueReqID            inventory.RequestID    `json:"issueReqId"`
	ReceiverName          string                 `json:"receiverName"`
	DepartmentID          inventory.DepartmentID `json:"departmentId"`
	IssueDate             inventory.Date         `json:"issueDate"`
	IsControlledSubstance bool                   `json:"isControlledSubstance"`
	TotalAmount           decimal.Decimal        `json:"totalAmount"`
	CreatedBy             inventory.UserID       `json:"createdBy"`
	CreatedAt             time.Time              `json:"createdAt"`
	Details               []IssueLineDTO         `json:"details"`
}

type IssueLineDTO struct {
	MaterialID      inventory.MaterialID `json:"materialId"`
	MaterialName    string               `json:"materialName"`
	InventoryCardID inventory.LotID      `json:"inventoryCardId,omitempty"`
	LotNumber       string               `json:"lotNumber,omitempty"`
	QtyIssued       decimal.Decimal      `json:"qtyIssued"`
	UnitPrice       decimal.Decimal      `json:"unitPrice"`
	Manufacturer    string               `json:"manufacturer"`
	Country         string               `json:"country"`
}

func ToIssueDTO(doc inventory.IssueDocument) IssueDTO {
	dto := IssueDTO{
		ID:                    doc.ID,
		IssueReqID:            doc.RequestID,
		ReceiverName:          doc.ReceiverName,
		DepartmentID:          doc.DepartmentID,
		IssueDate:             doc.IssueDate,
		IsControlledSubstance: doc.Controlled,
		TotalAmount:           doc.TotalAmount,
		CreatedBy:             doc.CreatedBy,
		CreatedAt:             doc.CreatedAt,
		Details:               make([]IssueLineDTO, len(doc.Lines)),
	}
	for i, l := range doc.Lines {
		dto.Details[i] = IssueLineDTO{
			MaterialID:      l.MaterialID,
			MaterialName:    l.MaterialName,
			InventoryCardID: l.LotID,
			LotNumber:       l.LotNumber,
			QtyIssued:       l.Qty,
			UnitPrice:       l.UnitPrice,
			Manufacturer:    l.Manufacturer,
			Country:         l.Country,
		}
	}
	return dto
}

func (d IssueDTO) Model() inventory.IssueDocument {
	doc := inventory.IssueDocument{
		ID:           d.ID,
		RequestID:    d.IssueReqID,
		ReceiverName: d.ReceiverName,
		DepartmentID: d.DepartmentID,
		IssueDate:    d.IssueDate,
		Controlled:   d.IsControlledSubstance,
		TotalAmount:  d.TotalAmount,
		CreatedBy:    d.CreatedBy,
		CreatedAt:    d.CreatedAt,
		Lines:        make([]inventory.IssueDocumentLine, len(d.Details)),
	}
	for i, l := range d.Details {
		doc.Lines[i] = inventory.IssueDocumentLine{
			MaterialID:   l.MaterialID,
			MaterialName: l.MaterialName,
			LotID:        l.InventoryCardID,
			LotNumber:    l.LotNumber,
			Qty:          l.QtyIssued,
			UnitPrice:    l.UnitPrice,
			Manufacturer: l.Manufacturer,
			Country:      l.Country,
		}
	}
	return doc
}

// =============================================================================
// RECEIPTS
// =============================================================================

// ReceiptDTO is both the body of POST /api/receipts/create and the shape
// of receipts in history. Server-assigned fields are ignored on create.
type ReceiptDTO struct {
	ID           inventory.ReceiptID `json:"id,omitempty"`
	ReceivedFrom string              `json:"receivedFrom"`
	Reason       string              `json:"reason"`
	ReceiptDate  inventory.Date      `json:"receiptDate"`
	TotalAmount  decimal.Decimal     `json:"totalAmount"`
	CreatedBy    inventory.UserID    `json:"createdBy,omitempty"`
	CreatedAt    *time.Time          `json:"createdAt,omitempty"`
	Details      []ReceiptLineDTO    `json:"details"`
}

type ReceiptLineDTO struct {
	MaterialID   inventory.MaterialID `json:"materialId"`
	MaterialName string               `json:"materialName"`
	Spec         string               `json:"spec"`
	Code         string               `json:"code"`
	UnitID       inventory.UnitID     `json:"unitId"`
	Price        decimal.Decimal      `json:"price"`
	QtyDoc       decimal.Decimal      `json:"qtyDoc"`
	QtyActual    decimal.Decimal      `json:"qtyActual"`
	LotNumber    string               `json:"lotNumber"`
	MfgDate      inventory.Date       `json:"mfgDate"`
	ExpDate      inventory.Date       `json:"expDate"`
	Category     string               `json:"category"`
}

func ToReceiptDTO(r inventory.Receipt) ReceiptDTO {
	dto := ReceiptDTO{
		ID:           r.ID,
		ReceivedFrom: r.ReceivedFrom,
		Reason:       r.Reason,
		ReceiptDate:  r.ReceiptDate,
		TotalAmount:  r.TotalAmount(),
		CreatedBy:    r.CreatedBy,
		Details:      make([]ReceiptLineDTO, len(r.Lines)),
	}
	if !r.CreatedAt.IsZero() {
		at := r.CreatedAt
		dto.CreatedAt = &at
	}
	for i, l := range r.Lines {
		dto.Details[i] = ReceiptLineDTO{
			MaterialID:   l.MaterialID,
			MaterialName: l.MaterialName,
			Spec:         l.Spec,
			Code:         l.Code,
			UnitID:       l.UnitID,
			Price:        l.Price,
			QtyDoc:       l.QtyDoc,
			QtyActual:    l.QtyActual,
			LotNumber:    l.LotNumber,
			MfgDate:      l.MfgDate,
			ExpDate:      l.ExpDate,
			Category:     l.Category,
		}
	}
	return dto
}

// Model returns the receipt; the idempotency key travels as a header.
func (d ReceiptDTO) Model(idempotencyKey string) inventory.Receipt {
	r := inventory.Receipt{
		ID:             d.ID,
		ReceivedFrom:   d.ReceivedFrom,
		Reason:         d.Reason,
		ReceiptDate:    d.ReceiptDate,
		CreatedBy:      d.CreatedBy,
		IdempotencyKey: idempotencyKey,
		Lines:          make([]inventory.ReceiptLine, len(d.Details)),
	}
	if d.CreatedAt != nil {
		r.CreatedAt = *d.CreatedAt
	}
	for i, l := range d.Details {
		r.Lines[i] = inventory.ReceiptLine{
			MaterialID:   l.MaterialID,
			MaterialName: l.MaterialName,
			Spec:         l.Spec,
			Code:         l.Code,
			UnitID:       l.UnitID,
			Price:        l.Price,
			QtyDoc:       l.QtyDoc,
			QtyActual:    l.QtyActual,
			LotNumber:    l.LotNumber,
			MfgDate:      l.MfgDate,
			ExpDate:      l.ExpDate,
			Category:     l.Category,
		}
	}
	return r
}

// =============================================================================
// CATALOG
// =============================================================================

type MaterialDTO struct {
	ID            inventory.MaterialID `json:"id"`
	Name          string               `json:"name"`
	Spec          string               `json:"spec"`
	Code          string               `json:"code"`
	UnitID        inventory.UnitID     `json:"unitId"`
	UnitName      string               `json:"unitName"`
	Category      string               `json:"category"`
	TotalStock    decimal.Decimal      `json:"totalStock"`
	RecentReceipt *RecentReceiptDTO    `json:"recentReceipt,omitempty"`
}

type RecentReceiptDTO struct {
	LotNumber   string         `json:"lotNumber"`
	Supplier    string         `json:"supplier"`
	ReceiptDate inventory.Date `json:"receiptDate"`
}

func ToMaterialDTO(m inventory.Material) MaterialDTO {
	dto := MaterialDTO{
		ID:         m.ID,
		Name:       m.Name,
		Spec:       m.Spec,
		Code:       m.Code,
		UnitID:     m.UnitID,
		UnitName:   m.UnitName,
		Category:   m.Category,
		TotalStock: m.TotalStock,
	}
	if m.RecentReceipt != nil {
		dto.RecentReceipt = &RecentReceiptDTO{
			LotNumber:   m.RecentReceipt.LotNumber,
			Supplier:    m.RecentReceipt.Supplier,
			ReceiptDate: m.RecentReceipt.ReceiptDate,
		}
	}
	return dto
}

func (d MaterialDTO) Model() inventory.Material {
	m := inventory.Material{
		ID:         d.ID,
		Name:       d.Name,
		Spec:       d.Spec,
		Code:       d.Code,
		UnitID:     d.UnitID,
		UnitName:   d.UnitName,
		Category:   d.Category,
		TotalStock: d.TotalStock,
	}
	if d.RecentReceipt != nil {
		m.RecentReceipt = &inventory.RecentReceipt{
			LotNumber:   d.RecentReceipt.LotNumber,
			Supplier:    d.RecentReceipt.Supplier,
			ReceiptDate: d.RecentReceipt.ReceiptDate,
		}
	}
	return m
}

type UnitDTO struct {
	ID   inventory.UnitID `json:"id"`
	Name string           `json:"name"`
}

// =============================================================================
// STOCK LEDGER
// =============================================================================

type MovementDTO struct {
	ID              int64                  `json:"id"`
	InventoryCardID inventory.LotID        `json:"inventoryCardId"`
	LotNumber       string                 `json:"lotNumber"`
	Kind            inventory.MovementKind `json:"kind"`
	Delta           decimal.Decimal        `json:"delta"`
	Balance         decimal.Decimal        `json:"balance"`
	DocID           int64                  `json:"docId,omitempty"`
	At              time.Time              `json:"at"`
}

func ToMovementDTO(m inventory.Movement) MovementDTO {
	return MovementDTO{
		ID:              m.ID,
		InventoryCardID: m.CardID,
		LotNumber:       m.LotNumber,
		Kind:            m.Kind,
		Delta:           m.Delta,
		Balance:         m.Balance,
		DocID:           m.DocID,
		At:              m.At,
	}
}
