package issue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmu/medventory/inventory"
)

// The reducers keep quantities inside their limits, so lines that break the
// quantity rules are built by hand, as a stale or tampered draft would be.

func allocationOf(lines ...AllocationLine) Allocation {
	a := Allocation{lines: make(map[inventory.MaterialID]AllocationLine, len(lines))}
	for _, l := range lines {
		a.order = append(a.order, l.MaterialID)
		a.lines[l.MaterialID] = l
	}
	return a
}

func handDraft(lines ...AllocationLine) Draft {
	req := inventory.WithdrawalRequest{ID: 101, RequesterName: "Nguyễn Văn A"}
	return Draft{
		Request:    &req,
		Form:       ReceiverForm{ReceiverName: "Nguyễn Văn A"},
		Allocation: allocationOf(lines...),
	}
}

func n(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func lotLine(id inventory.MaterialID, requested, issued, lotAvailable int64) AllocationLine {
	lot := inventory.LotStock{ID: inventory.LotID(id * 10), LotNumber: "L1", Available: n(lotAvailable)}
	return AllocationLine{
		MaterialID:     id,
		MaterialName:   "Morphine 10mg",
		QtyRequested:   n(requested),
		AvailableStock: n(lotAvailable),
		LotStocks:      []inventory.LotStock{lot},
		Resolved:       true,
		SelectedLot:    &lot,
		QtyIssued:      n(issued),
		Manufacturer:   "VN Pharma",
		Country:        "Việt Nam",
	}
}

func bulkLine(id inventory.MaterialID, requested, issued, available int64) AllocationLine {
	return AllocationLine{
		MaterialID:     id,
		MaterialName:   "Thuốc Cảm Cúm",
		QtyRequested:   n(requested),
		AvailableStock: n(available),
		Resolved:       true,
		QtyIssued:      n(issued),
		Manufacturer:   "Traphaco",
		Country:        "Việt Nam",
	}
}

func TestValidate_QuantityRules(t *testing.T) {
	tests := []struct {
		name     string
		lines    []AllocationLine
		classify Classifier
		rule     inventory.Rule
		material inventory.MaterialID
	}{
		{
			name:     "over requested",
			lines:    []AllocationLine{bulkLine(3, 10, 12, 100)},
			classify: NeverControlled,
			rule:     inventory.RuleQtyExceedsRequested,
			material: 3,
		},
		{
			name:     "over selected lot",
			lines:    []AllocationLine{lotLine(1, 10, 8, 5)},
			classify: NeverControlled,
			rule:     inventory.RuleQtyExceedsLot,
			material: 1,
		},
		{
			name:     "over stock without lots",
			lines:    []AllocationLine{bulkLine(3, 10, 5, 3)},
			classify: NeverControlled,
			rule:     inventory.RuleInsufficientStock,
			material: 3,
		},
		{
			name:     "over requested and over lot reports requested",
			lines:    []AllocationLine{lotLine(1, 10, 12, 5)},
			classify: NeverControlled,
			rule:     inventory.RuleQtyExceedsRequested,
			material: 1,
		},
		{
			name: "over lot is reported before missing drug info",
			lines: func() []AllocationLine {
				l := lotLine(1, 10, 8, 5)
				l.Manufacturer = ""
				return []AllocationLine{l}
			}(),
			classify: AlwaysControlled,
			rule:     inventory.RuleQtyExceedsLot,
			material: 1,
		},
		{
			name:     "first failing line wins",
			lines:    []AllocationLine{bulkLine(3, 10, 5, 3), lotLine(1, 10, 12, 20)},
			classify: NeverControlled,
			rule:     inventory.RuleInsufficientStock,
			material: 3,
		},
		{
			name:     "later line checked when earlier lines pass",
			lines:    []AllocationLine{bulkLine(3, 10, 5, 100), lotLine(1, 10, 8, 5)},
			classify: NeverControlled,
			rule:     inventory.RuleQtyExceedsLot,
			material: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(handDraft(tt.lines...), tt.classify)

			var ve *inventory.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.rule, ve.Rule, "message: %s", ve.Message)
			assert.Equal(t, tt.material, ve.MaterialID)
			assert.NotEmpty(t, ve.MaterialName)
		})
	}
}

func TestValidate_QuantitiesAtTheirLimits(t *testing.T) {
	// GIVEN: Lines issuing exactly the requested, lot and stock amounts
	d := handDraft(lotLine(1, 5, 5, 5), bulkLine(3, 10, 10, 10))

	// THEN: Nothing is refused
	assert.NoError(t, Validate(d, AlwaysControlled))
}
