// Package issuetest provides an in-memory issue.DataSource for tests.
package issuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// MEMORY SOURCE - Fixture-backed data source (for testing)
// =============================================================================

type Memory struct {
	mu         sync.Mutex
	requests   []inventory.WithdrawalRequest
	stocks     map[inventory.MaterialID]inventory.StockInfo
	stockErrs  map[inventory.MaterialID]error
	gates      map[inventory.MaterialID]*Gate
	history    []inventory.IssueDocument
	created    []inventory.IssueSubmission
	byKey      map[string]*inventory.IssueDocument
	createErr  error
	createGate *Gate
	stockCalls map[inventory.MaterialID]int
	nextID     inventory.IssueID
}

func NewMemory() *Memory {
	return &Memory{
		stocks:     make(map[inventory.MaterialID]inventory.StockInfo),
		stockErrs:  make(map[inventory.MaterialID]error),
		gates:      make(map[inventory.MaterialID]*Gate),
		byKey:      make(map[string]*inventory.IssueDocument),
		stockCalls: make(map[inventory.MaterialID]int),
		nextID:     1,
	}
}

// AddRequest adds an approved request.
func (m *Memory) AddRequest(req inventory.WithdrawalRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Status == "" {
		req.Status = inventory.RequestApproved
	}
	m.requests = append(m.requests, req)
}

func (m *Memory) SetStock(stock inventory.StockInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[stock.MaterialID] = stock
}

// FailStock makes every lookup of id fail with err. A nil err clears it.
func (m *Memory) FailStock(id inventory.MaterialID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.stockErrs, id)
		return
	}
	m.stockErrs[id] = err
}

// FailCreate makes CreateIssue fail with err until cleared with nil.
func (m *Memory) FailCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// HoldStock blocks lookups of id until the returned gate is released.
func (m *Memory) HoldStock(id inventory.MaterialID) *Gate {
	g := newGate()
	m.mu.Lock()
	m.gates[id] = g
	m.mu.Unlock()
	return g
}

// HoldCreate blocks CreateIssue until the returned gate is released.
func (m *Memory) HoldCreate() *Gate {
	g := newGate()
	m.mu.Lock()
	m.createGate = g
	m.mu.Unlock()
	return g
}

// Submissions returns every payload CreateIssue received, in call order.
func (m *Memory) Submissions() []inventory.IssueSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inventory.IssueSubmission(nil), m.created...)
}

func (m *Memory) StockCalls(id inventory.MaterialID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stockCalls[id]
}

// =============================================================================
// issue.DataSource
// =============================================================================

func (m *Memory) ApprovedRequests(_ context.Context, _ inventory.UserID) ([]inventory.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []inventory.WithdrawalRequest
	for _, r := range m.requests {
		if r.Status == inventory.RequestApproved {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) IssueHistory(_ context.Context, user inventory.UserID) ([]inventory.IssueDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []inventory.IssueDocument
	for _, d := range m.history {
		if d.CreatedBy == user {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) Stock(ctx context.Context, id inventory.MaterialID) (inventory.StockInfo, error) {
	m.mu.Lock()
	m.stockCalls[id]++
	gate := m.gates[id]
	m.mu.Unlock()

	if gate != nil {
		if err := gate.wait(ctx); err != nil {
			return inventory.StockInfo{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stockErrs[id]; err != nil {
		return inventory.StockInfo{}, err
	}
	stock, ok := m.stocks[id]
	if !ok {
		return inventory.StockInfo{}, fmt.Errorf("material %d: %w", id, inventory.ErrNotFound)
	}
	stock.Lots = append([]inventory.LotStock(nil), stock.Lots...)
	return stock, nil
}

func (m *Memory) CreateIssue(ctx context.Context, user inventory.UserID, sub inventory.IssueSubmission) (*inventory.IssueDocument, error) {
	m.mu.Lock()
	m.created = append(m.created, sub)
	gate := m.createGate
	m.mu.Unlock()

	if gate != nil {
		if err := gate.wait(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if sub.IdempotencyKey != "" {
		if doc, ok := m.byKey[sub.IdempotencyKey]; ok {
			return doc, nil
		}
	}

	idx := -1
	for i, r := range m.requests {
		if r.ID == sub.RequestID && r.Status == inventory.RequestApproved {
			idx = i
		}
	}
	if idx < 0 {
		return nil, &inventory.RejectedError{Op: "create issue", Status: 400, Message: "request is not approved"}
	}
	req := m.requests[idx]

	doc := &inventory.IssueDocument{
		ID:           m.nextID,
		RequestID:    sub.RequestID,
		ReceiverName: sub.ReceiverName,
		DepartmentID: sub.DepartmentID,
		IssueDate:    sub.IssueDate,
		Controlled:   sub.Controlled,
		CreatedBy:    user,
		CreatedAt:    time.Now(),
		TotalAmount:  decimal.Zero,
	}
	for _, l := range sub.Lines {
		line := inventory.IssueDocumentLine{
			MaterialID:   l.MaterialID,
			LotID:        l.LotID,
			Qty:          l.Qty,
			UnitPrice:    decimal.Zero,
			Manufacturer: l.Manufacturer,
			Country:      l.Country,
		}
		if rl, ok := req.Line(l.MaterialID); ok {
			line.MaterialName = rl.MaterialName
		}
		if lot, ok := m.stocks[l.MaterialID].Lot(l.LotID); ok {
			line.LotNumber = lot.LotNumber
		}
		doc.Lines = append(doc.Lines, line)
	}
	m.nextID++
	m.requests[idx].Status = inventory.RequestIssued
	m.history = append([]inventory.IssueDocument{*doc}, m.history...)
	if sub.IdempotencyKey != "" {
		m.byKey[sub.IdempotencyKey] = doc
	}
	return doc, nil
}

// =============================================================================
// GATE
// =============================================================================

// Gate holds a call open. Entered is closed once a call is waiting on it.
type Gate struct {
	Entered  chan struct{}
	released chan struct{}
	once     sync.Once
	entered  sync.Once
}

func newGate() *Gate {
	return &Gate{Entered: make(chan struct{}), released: make(chan struct{})}
}

func (g *Gate) Release() { g.once.Do(func() { close(g.released) }) }

func (g *Gate) wait(ctx context.Context) error {
	g.entered.Do(func() { close(g.Entered) })
	select {
	case <-g.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
