package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmu/medventory/inventory"
)

func movementsOf(t *testing.T, ts *testStore, id inventory.MaterialID, kind inventory.MovementKind) []inventory.Movement {
	t.Helper()
	all, err := ts.Movements(context.Background(), id)
	require.NoError(t, err)
	var out []inventory.Movement
	for _, m := range all {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func TestMovements_OpeningCardsRecorded(t *testing.T) {
	ts := newTestStore(t)

	opening := movementsOf(t, ts, morphine, inventory.MovementOpening)

	require.Len(t, opening, 4)
	assert.Equal(t, "M002", opening[0].LotNumber)
	assert.True(t, opening[0].Delta.Equal(dec("70")))
	assert.True(t, opening[0].Balance.Equal(dec("70")))
	assert.Zero(t, opening[0].DocID)
}

func TestMovements_NonLotIssueSplitsAcrossCards(t *testing.T) {
	// GIVEN: Cold medicine in two batches, 60 expiring first
	ts := newTestStore(t)
	ctx := context.Background()
	reqID := ts.approvedRequest(t, RequestLineRecord{MaterialID: cold, Qty: dec("100")})

	// WHEN: Issuing 100 without a lot
	doc, err := ts.CreateIssue(ctx, keeper, inventory.IssueSubmission{
		RequestID:    reqID,
		ReceiverName: "Nguyễn Văn A",
		IssueDate:    inventory.DateOf(storeNow),
		Lines:        []inventory.IssueSubmissionLine{{MaterialID: cold, Qty: dec("100")}},
	})
	require.NoError(t, err)

	// THEN: One movement per card drawn, both pointing at the issue
	issued := movementsOf(t, ts, cold, inventory.MovementIssue)
	require.Len(t, issued, 2)
	assert.True(t, issued[0].Delta.Equal(dec("-60")))
	assert.True(t, issued[0].Balance.IsZero())
	assert.True(t, issued[1].Delta.Equal(dec("-40")))
	assert.True(t, issued[1].Balance.Equal(dec("400")))
	for _, m := range issued {
		assert.Equal(t, int64(doc.ID), m.DocID)
	}
}

func TestMovements_ReplayMatchesUsableStock(t *testing.T) {
	// GIVEN: An issue from a lot, a receipt and an expiry run
	ts := newTestStore(t)
	ctx := context.Background()
	reqID := ts.approvedRequest(t, RequestLineRecord{MaterialID: morphine, Qty: dec("50")})
	_, err := ts.CreateIssue(ctx, keeper, inventory.IssueSubmission{
		RequestID:    reqID,
		ReceiverName: "Nguyễn Văn A",
		IssueDate:    inventory.DateOf(storeNow),
		Lines:        []inventory.IssueSubmissionLine{{MaterialID: morphine, LotID: ts.lotEarly, Qty: dec("12")}},
	})
	require.NoError(t, err)
	rc, err := ts.CreateReceipt(ctx, keeper, inventory.Receipt{
		ReceivedFrom: "Vimedimex",
		Lines: []inventory.ReceiptLine{{
			MaterialID: morphine, Price: dec("11000"), QtyDoc: dec("20"), QtyActual: dec("20"),
			LotNumber: "M010", ExpDate: date(2028, 1, 1),
		}},
	})
	require.NoError(t, err)
	_, err = ts.ExpireLots(ctx)
	require.NoError(t, err)

	// WHEN: Replaying the ledger
	all, err := ts.Movements(ctx, morphine)
	require.NoError(t, err)
	balances := inventory.Replay(all)

	// THEN: Every usable lot matches, the expired lot is written off
	info, err := ts.Stock(ctx, morphine)
	require.NoError(t, err)
	total := dec("0")
	for _, b := range balances {
		total = total.Add(b)
	}
	assert.True(t, total.Equal(info.Total), "ledger %s, stock %s", total, info.Total)
	for _, l := range info.Lots {
		assert.True(t, balances[l.ID].Equal(l.Available), "lot %s", l.LotNumber)
	}
	assert.True(t, balances[ts.lotExpired].IsZero())

	receipts := movementsOf(t, ts, morphine, inventory.MovementReceipt)
	require.Len(t, receipts, 1)
	assert.Equal(t, int64(rc.ID), receipts[0].DocID)
	expiries := movementsOf(t, ts, morphine, inventory.MovementExpiry)
	require.Len(t, expiries, 1)
	assert.True(t, expiries[0].Delta.Equal(dec("-5")))
}

func TestMovements_UnknownMaterial(t *testing.T) {
	ts := newTestStore(t)

	_, err := ts.Movements(context.Background(), 404)

	assert.True(t, inventory.IsNotFound(err))
}
