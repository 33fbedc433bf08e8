package issue_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmu/medventory/inventory"
	"github.com/hmu/medventory/issue"
	"github.com/hmu/medventory/issue/issuetest"
)

// =============================================================================
// HELPERS
// =============================================================================

func qty(v int64) decimal.Decimal { return inventory.QtyFromInt(v) }

func demoRequest(t *testing.T, id inventory.RequestID) inventory.WithdrawalRequest {
	t.Helper()
	for _, r := range issuetest.DemoRequests(testNow) {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no demo request %d", id)
	return inventory.WithdrawalRequest{}
}

func demoStock(t *testing.T, id inventory.MaterialID) inventory.StockInfo {
	t.Helper()
	for _, s := range issuetest.DemoStocks() {
		if s.MaterialID == id {
			return s
		}
	}
	t.Fatalf("no demo stock %d", id)
	return inventory.StockInfo{}
}

// resolvedControlled returns the allocation for request 101 with both
// stock lookups applied.
func resolvedControlled(t *testing.T) issue.Allocation {
	t.Helper()
	alloc := issue.NewAllocation(demoRequest(t, issuetest.RequestControlled))
	alloc = alloc.ApplyStock(issuetest.Morphine, demoStock(t, issuetest.Morphine))
	alloc = alloc.ApplyStock(issuetest.Fentanyl, demoStock(t, issuetest.Fentanyl))
	return alloc
}

func line(t *testing.T, alloc issue.Allocation, id inventory.MaterialID) issue.AllocationLine {
	t.Helper()
	l, ok := alloc.Line(id)
	require.True(t, ok, "line for material %d", id)
	return l
}

// =============================================================================
// NEW ALLOCATION
// =============================================================================

func TestNewAllocation_OneUnresolvedLinePerRequestLine(t *testing.T) {
	alloc := issue.NewAllocation(demoRequest(t, issuetest.RequestControlled))

	require.Equal(t, 2, alloc.Len())
	assert.False(t, alloc.Resolved())

	lines := alloc.Lines()
	assert.Equal(t, issuetest.Morphine, lines[0].MaterialID)
	assert.Equal(t, issuetest.Fentanyl, lines[1].MaterialID)
	assert.True(t, lines[0].QtyIssued.IsZero())
	assert.True(t, lines[0].QtyRequested.Equal(qty(50)))
}

func TestNewAllocation_DuplicateMaterialKeepsFirst(t *testing.T) {
	req := inventory.WithdrawalRequest{
		ID: 1,
		Lines: []inventory.RequestLine{
			{MaterialID: 7, MaterialName: "first", QtyRequested: qty(1)},
			{MaterialID: 7, MaterialName: "second", QtyRequested: qty(2)},
		},
	}

	alloc := issue.NewAllocation(req)

	assert.Equal(t, 1, alloc.Len())
	assert.Equal(t, "first", line(t, alloc, 7).MaterialName)
}

func TestAllocation_ZeroValueIsEmpty(t *testing.T) {
	var alloc issue.Allocation

	assert.True(t, alloc.IsEmpty())
	assert.Empty(t, alloc.Lines())
	assert.True(t, alloc.SetQuantity(1, qty(5)).IsEmpty())
}

// =============================================================================
// APPLY STOCK
// =============================================================================

func TestApplyStock_MultipleLots_NoAutoSelect(t *testing.T) {
	// GIVEN: Morphine requested 50, stock 100 across lots of 30 and 70
	// WHEN: Stock is applied
	// THEN: qtyIssued = min(50, 100) = 50, no lot selected,
	//       manufacturer/country come from the material defaults

	alloc := resolvedControlled(t)
	m := line(t, alloc, issuetest.Morphine)

	assert.True(t, m.QtyIssued.Equal(qty(50)), "got %s", m.QtyIssued)
	assert.Nil(t, m.SelectedLot)
	assert.Len(t, m.LotStocks, 2)
	assert.Equal(t, "Global Drug Co.", m.Manufacturer)
	assert.Equal(t, "Mỹ", m.Country)
	assert.Equal(t, issue.NoteLotRequired, m.Note())
	assert.True(t, m.Sufficient())
}

func TestApplyStock_SingleLot_AutoSelected(t *testing.T) {
	// GIVEN: Fentanyl requested 20, stock 15 in one lot
	// THEN: qtyIssued = 15, lot F123 selected

	alloc := resolvedControlled(t)
	f := line(t, alloc, issuetest.Fentanyl)

	require.NotNil(t, f.SelectedLot)
	assert.Equal(t, issuetest.LotF123, f.SelectedLot.ID)
	assert.True(t, f.QtyIssued.Equal(qty(15)), "got %s", f.QtyIssued)
	assert.Equal(t, "EuroPharm", f.Manufacturer)
	assert.Equal(t, "Pháp", f.Country)
	assert.False(t, f.Sufficient())
}

func TestApplyStock_SoleLotSmallerThanTotal_ClampsToLot(t *testing.T) {
	req := inventory.WithdrawalRequest{ID: 1, Lines: []inventory.RequestLine{
		{MaterialID: 5, MaterialName: "Gạc", QtyRequested: qty(40)},
	}}
	stock := inventory.StockInfo{
		MaterialID: 5,
		Total:      qty(100),
		Lots:       []inventory.LotStock{{ID: 9, LotNumber: "G1", Available: qty(25)}},
	}

	alloc := issue.NewAllocation(req).ApplyStock(5, stock)

	assert.True(t, line(t, alloc, 5).QtyIssued.Equal(qty(25)))
}

func TestApplyStock_NotLotTracked(t *testing.T) {
	alloc := issue.NewAllocation(demoRequest(t, issuetest.RequestCommon))
	alloc = alloc.ApplyStock(issuetest.ColdMedicine, demoStock(t, issuetest.ColdMedicine))

	c := line(t, alloc, issuetest.ColdMedicine)
	assert.True(t, c.QtyIssued.Equal(qty(100)))
	assert.False(t, c.IsLotTracked())
	assert.Equal(t, issue.NoteNotLotTracked, c.Note())
	assert.True(t, alloc.Resolved())
}

func TestApplyStockFailure_DegradesToZero(t *testing.T) {
	alloc := issue.NewAllocation(demoRequest(t, issuetest.RequestControlled))
	alloc = alloc.ApplyStockFailure(issuetest.Morphine)

	m := line(t, alloc, issuetest.Morphine)
	assert.True(t, m.Resolved)
	assert.True(t, m.Degraded)
	assert.True(t, m.AvailableStock.IsZero())
	assert.Empty(t, m.LotStocks)
	assert.True(t, m.QtyIssued.IsZero())
}

func TestApplyStock_DoesNotMutateReceiver(t *testing.T) {
	before := issue.NewAllocation(demoRequest(t, issuetest.RequestControlled))
	after := before.ApplyStock(issuetest.Morphine, demoStock(t, issuetest.Morphine))

	assert.False(t, line(t, before, issuetest.Morphine).Resolved)
	assert.True(t, line(t, after, issuetest.Morphine).Resolved)
}

// =============================================================================
// SET QUANTITY
// =============================================================================

func TestSetQuantity_ClampInvariant(t *testing.T) {
	// For every input, 0 <= qtyIssued <= min(qtyRequested, lot or total)
	inputs := []decimal.Decimal{
		qty(-10), qty(0), qty(1), qty(29), qty(30), qty(31), qty(50), qty(70), qty(1000),
		decimal.RequireFromString("12.5"),
	}

	base := resolvedControlled(t)
	withLot := base.SelectLot(issuetest.Morphine, issuetest.LotM001)

	for _, alloc := range []issue.Allocation{base, withLot} {
		for _, in := range inputs {
			l := line(t, alloc.SetQuantity(issuetest.Morphine, in), issuetest.Morphine)
			if l.QtyIssued.IsNegative() {
				t.Errorf("input %s: qty %s is negative", in, l.QtyIssued)
			}
			if l.QtyIssued.GreaterThan(l.QtyRequested) || l.QtyIssued.GreaterThan(l.Limit()) {
				t.Errorf("input %s: qty %s exceeds bound (requested %s, limit %s)",
					in, l.QtyIssued, l.QtyRequested, l.Limit())
			}
		}
	}
}

func TestSetQuantity_Cases(t *testing.T) {
	tests := []struct {
		name string
		lot  inventory.LotID
		in   int64
		want int64
	}{
		{"within bounds", inventory.NoLot, 40, 40},
		{"above requested", inventory.NoLot, 60, 50},
		{"negative floors at zero", inventory.NoLot, -3, 0},
		{"above lot", issuetest.LotM001, 45, 30},
		{"below lot", issuetest.LotM001, 12, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := resolvedControlled(t).SelectLot(issuetest.Morphine, tt.lot)
			alloc = alloc.SetQuantity(issuetest.Morphine, qty(tt.in))
			got := line(t, alloc, issuetest.Morphine).QtyIssued
			assert.True(t, got.Equal(qty(tt.want)), "got %s, want %d", got, tt.want)
		})
	}
}

func TestSetQuantity_OnlyTouchesTargetLine(t *testing.T) {
	alloc := resolvedControlled(t)
	before := line(t, alloc, issuetest.Fentanyl)

	alloc = alloc.SetQuantity(issuetest.Morphine, qty(5))

	assert.Equal(t, before, line(t, alloc, issuetest.Fentanyl))
}

func TestSetQuantity_UnknownMaterialIsNoop(t *testing.T) {
	alloc := resolvedControlled(t)
	next := alloc.SetQuantity(999, qty(5))

	assert.Equal(t, alloc.Lines(), next.Lines())
}

// =============================================================================
// SELECT LOT
// =============================================================================

func TestSelectLot_SmallerLotReducesQuantity(t *testing.T) {
	// GIVEN: Morphine qtyIssued 50
	// WHEN: Lot M001 (30 left) is selected
	// THEN: qtyIssued drops to 30, manufacturer/country come from the lot

	alloc := resolvedControlled(t).SelectLot(issuetest.Morphine, issuetest.LotM001)
	m := line(t, alloc, issuetest.Morphine)

	require.NotNil(t, m.SelectedLot)
	assert.Equal(t, "M001", m.SelectedLot.LotNumber)
	assert.True(t, m.QtyIssued.Equal(qty(30)))
	assert.Equal(t, "VN Pharma", m.Manufacturer)
	assert.Equal(t, "Việt Nam", m.Country)
	assert.Equal(t, issue.NoteLotSelected, m.Note())
}

func TestSelectLot_LargerLotKeepsQuantity(t *testing.T) {
	alloc := resolvedControlled(t).
		SetQuantity(issuetest.Morphine, qty(20)).
		SelectLot(issuetest.Morphine, issuetest.LotM002)

	assert.True(t, line(t, alloc, issuetest.Morphine).QtyIssued.Equal(qty(20)))
}

func TestSelectLot_NoLotClearsSelection(t *testing.T) {
	alloc := resolvedControlled(t).
		SelectLot(issuetest.Morphine, issuetest.LotM001).
		SelectLot(issuetest.Morphine, inventory.NoLot)

	m := line(t, alloc, issuetest.Morphine)
	assert.Nil(t, m.SelectedLot)
	assert.True(t, m.QtyIssued.Equal(qty(30)))
	// user-visible drug info survives clearing
	assert.Equal(t, "VN Pharma", m.Manufacturer)
}

func TestSelectLot_UnknownLotClearsSelection(t *testing.T) {
	alloc := resolvedControlled(t).
		SelectLot(issuetest.Morphine, issuetest.LotM001).
		SelectLot(issuetest.Morphine, issuetest.LotF123)

	assert.Nil(t, line(t, alloc, issuetest.Morphine).SelectedLot)
}

func TestSelectLot_EmptyLotInfoKeepsUserValues(t *testing.T) {
	req := inventory.WithdrawalRequest{ID: 1, Lines: []inventory.RequestLine{
		{MaterialID: 5, MaterialName: "Ketamine", QtyRequested: qty(10)},
	}}
	stock := inventory.StockInfo{
		MaterialID: 5,
		Total:      qty(20),
		Lots: []inventory.LotStock{
			{ID: 1, LotNumber: "K1", Available: qty(10)},
			{ID: 2, LotNumber: "K2", Available: qty(10)},
		},
	}

	alloc := issue.NewAllocation(req).ApplyStock(5, stock).
		SetDrugInfo(5, issue.FieldManufacturer, "Nhập tay").
		SetDrugInfo(5, issue.FieldCountry, "Đức").
		SelectLot(5, 2)

	l := line(t, alloc, 5)
	assert.Equal(t, "Nhập tay", l.Manufacturer)
	assert.Equal(t, "Đức", l.Country)
}

// =============================================================================
// SET DRUG INFO
// =============================================================================

func TestSetDrugInfo_OverwritesWithoutClamping(t *testing.T) {
	alloc := resolvedControlled(t).
		SetDrugInfo(issuetest.Fentanyl, issue.FieldManufacturer, "Janssen").
		SetDrugInfo(issuetest.Fentanyl, issue.FieldCountry, "Bỉ")

	f := line(t, alloc, issuetest.Fentanyl)
	assert.Equal(t, "Janssen", f.Manufacturer)
	assert.Equal(t, "Bỉ", f.Country)
	assert.True(t, f.QtyIssued.Equal(qty(15)))
}

func TestSetDrugInfo_UnknownFieldIsNoop(t *testing.T) {
	alloc := resolvedControlled(t)
	next := alloc.SetDrugInfo(issuetest.Fentanyl, issue.DrugField("expiry"), "x")

	assert.Equal(t, line(t, alloc, issuetest.Fentanyl), line(t, next, issuetest.Fentanyl))
}
