/*
seed.go - Demo data loaders for development and demonstrations

PURPOSE:

	Populates the database with the materials, lots and requests the issue
	and receipt screens need to be tried out by hand.

AVAILABLE SCENARIOS:

	issue-demo:     Approved requests #101 and #102 with lot and non-lot stock
	approval-queue: issue-demo plus a pending request #103 to approve or reject
	expiring-lots:  issue-demo plus a lot that expired yesterday, still active

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create units, departments and the catalog
 3. Add inventory cards (lots) with expiry dates relative to today
 4. Create withdrawal requests in their final status

USAGE VIA API:

	POST /api/dev/seed
	{"scenario": "approval-queue"}

	An empty body loads issue-demo.

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - scheduler.go: Closes the expired lot of expiring-lots
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hmu/medventory/inventory"
	"github.com/hmu/medventory/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const DefaultScenario = "issue-demo"

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "issue-demo",
		Name:        "Issue Demo",
		Description: "Two approved requests: Morphine and Fentanyl by lot, cold medicine without lots",
	},
	{
		ID:          "approval-queue",
		Name:        "Approval Queue",
		Description: "Issue demo plus a pending request for sterile gauze",
	},
	{
		ID:          "expiring-lots",
		Name:        "Expiring Lots",
		Description: "Issue demo plus a Morphine lot that expired yesterday",
	},
}

// Fixed ids so the front-end and manual tests can refer to them.
const (
	seedMorphine inventory.MaterialID = 1
	seedFentanyl inventory.MaterialID = 2
	seedCold     inventory.MaterialID = 3
	seedGauze    inventory.MaterialID = 4

	seedPharmacy inventory.DepartmentID = 1
	seedICU      inventory.DepartmentID = 2
)

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns all available demo scenarios.
// GET /api/dev/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, scenarios, h.CurrentScenario())
}

// Seed resets the database and loads a scenario.
// POST /api/dev/seed
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scenario string `json:"scenario"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Scenario == "" {
		req.Scenario = DefaultScenario
	}

	if err := h.LoadScenario(r.Context(), req.Scenario); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeStoreError(w, "Failed to load scenario", err)
		return
	}
	writeData(w, http.StatusOK, req.Scenario, "Scenario loaded")
}

var errUnknownScenario = errors.New("unknown scenario")

// LoadScenario resets the database and loads the named scenario.
func (h *Handler) LoadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "issue-demo":
		load = h.loadIssueDemo
	case "approval-queue":
		load = h.loadApprovalQueue
	case "expiring-lots":
		load = h.loadExpiringLots
	default:
		return fmt.Errorf("%w: %q", errUnknownScenario, id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.setScenario("")

	if err := load(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	h.setScenario(id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadIssueDemo creates:
// - Morphine: lots M001 (30) and M002 (70)
// - Fentanyl: lot F123 (15)
// - Cold medicine: 500 without lots
// - Request #101 (Morphine 50, Fentanyl 20) and #102 (cold medicine 100), approved
func (h *Handler) loadIssueDemo(ctx context.Context) error {
	s := h.Store
	today := inventory.DateOf(s.Now())

	for _, u := range []inventory.Unit{{ID: 1, Name: "Ống"}, {ID: 2, Name: "Viên"}, {ID: 3, Name: "Hộp"}, {ID: 4, Name: "Chai"}} {
		if err := s.PutUnit(ctx, u); err != nil {
			return err
		}
	}
	if err := s.PutDepartment(ctx, seedPharmacy, "Khoa Dược"); err != nil {
		return err
	}
	if err := s.PutDepartment(ctx, seedICU, "Khoa Hồi Sức"); err != nil {
		return err
	}

	materials := []sqlite.MaterialRecord{
		{ID: seedMorphine, Name: "Morphine 10mg", Spec: "Ống 1ml", Code: "MOR10", UnitID: 1, Category: "A",
			Manufacturer: "Global Drug Co.", Country: "Mỹ"},
		{ID: seedFentanyl, Name: "Fentanyl 0.1mg", Spec: "Ống 2ml", Code: "FEN01", UnitID: 1, Category: "A",
			Manufacturer: "EuroPharm", Country: "Pháp"},
		{ID: seedCold, Name: "Thuốc Cảm Cúm (Không đặc biệt)", Spec: "Vỉ 10 viên", Code: "CAM01", UnitID: 2, Category: "D"},
		{ID: seedGauze, Name: "Gạc vô trùng", Spec: "10x10cm", Code: "GAC01", UnitID: 3, Category: "D"},
	}
	for _, m := range materials {
		if _, err := s.PutMaterial(ctx, m); err != nil {
			return err
		}
	}

	cards := []sqlite.Card{
		{ID: 10, MaterialID: seedMorphine, LotNumber: "M001", Available: inventory.QtyFromInt(30),
			UnitPrice: inventory.QtyFromInt(10000), ExpDate: today.AddDays(180),
			Manufacturer: "VN Pharma", Country: "Việt Nam", Supplier: "Công ty Dược phẩm Trung ương 1"},
		{ID: 11, MaterialID: seedMorphine, LotNumber: "M002", Available: inventory.QtyFromInt(70),
			UnitPrice: inventory.QtyFromInt(12000), ExpDate: today.AddDays(560),
			Supplier: "Công ty Dược phẩm Trung ương 1"},
		{ID: 20, MaterialID: seedFentanyl, LotNumber: "F123", Available: inventory.QtyFromInt(15),
			UnitPrice: inventory.QtyFromInt(55000), ExpDate: today.AddDays(75),
			Manufacturer: "EuroPharm", Country: "Pháp", Supplier: "Vimedimex"},
		{ID: 30, MaterialID: seedCold, Available: inventory.QtyFromInt(500),
			UnitPrice: inventory.QtyFromInt(1500), ExpDate: today.AddDays(365), Supplier: "Vimedimex"},
	}
	for _, c := range cards {
		if _, err := s.AddCard(ctx, c); err != nil {
			return err
		}
	}

	now := s.Now()
	requests := []sqlite.RequestRecord{
		{ID: 101, CreatedBy: 1, RequesterName: "Nguyễn Văn A", DepartmentID: seedPharmacy,
			Status: inventory.RequestApproved, RequestedAt: now.Add(-24 * time.Hour),
			Lines: []sqlite.RequestLineRecord{
				{MaterialID: seedMorphine, Qty: inventory.QtyFromInt(50)},
				{MaterialID: seedFentanyl, Qty: inventory.QtyFromInt(20)},
			}},
		{ID: 102, CreatedBy: 1, RequesterName: "Trần Thị B", DepartmentID: seedICU,
			Status: inventory.RequestApproved, RequestedAt: now,
			Lines: []sqlite.RequestLineRecord{
				{MaterialID: seedCold, Qty: inventory.QtyFromInt(100)},
			}},
	}
	for _, req := range requests {
		if _, err := s.CreateRequest(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// loadApprovalQueue adds request #103 (gauze 10), still pending.
func (h *Handler) loadApprovalQueue(ctx context.Context) error {
	if err := h.loadIssueDemo(ctx); err != nil {
		return err
	}
	_, err := h.Store.CreateRequest(ctx, sqlite.RequestRecord{
		ID:            103,
		CreatedBy:     2,
		RequesterName: "Lê Văn C",
		DepartmentID:  seedICU,
		Note:          "Bổ sung tủ trực",
		Lines:         []sqlite.RequestLineRecord{{MaterialID: seedGauze, Qty: inventory.QtyFromInt(10)}},
	})
	return err
}

// loadExpiringLots adds Morphine lot M000 (5), expired yesterday but still
// active until the expiry scheduler runs.
func (h *Handler) loadExpiringLots(ctx context.Context) error {
	if err := h.loadIssueDemo(ctx); err != nil {
		return err
	}
	today := inventory.DateOf(h.Store.Now())
	_, err := h.Store.AddCard(ctx, sqlite.Card{
		ID:         12,
		MaterialID: seedMorphine,
		LotNumber:  "M000",
		Available:  inventory.QtyFromInt(5),
		UnitPrice:  inventory.QtyFromInt(9000),
		ExpDate:    today.AddDays(-1),
		Supplier:   "Công ty Dược phẩm Trung ương 1",
	})
	return err
}
