/*
ledger.go - Append-only stock movement log ("thẻ kho")

PURPOSE:
  Every change to the usable quantity of an inventory card is recorded as
  a Movement: the opening quantity, each receipt, each issue draw, and the
  write-off when a lot expires. The movement list of a card explains how
  its quantity got to where it is.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: movements are never updated or deleted (Reset aside)
  2. BALANCED: for every card, the sum of Delta equals its usable quantity,
     so an expired card sums to zero
  3. SAME TRANSACTION: a movement is written in the transaction that
     changes the card, never after it

CORRECTIONS:
  There is no edit. A wrong receipt is corrected by an issue or a new
  receipt, and both stay in the log.

EXAMPLE FLOW (lot M001 of Morphine):
  1. Receipt #4:  +30   balance 30
  2. Issue #9:    -12   balance 18
  3. Expiry:      -18   balance 0

SEE ALSO:
  - store/sqlite/ledger.go: Persistence and queries
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	MovementOpening MovementKind = "opening" // card created outside a receipt
	MovementReceipt MovementKind = "receipt"
	MovementIssue   MovementKind = "issue"
	MovementExpiry  MovementKind = "expiry"
)

// Movement is one change to a card's usable quantity.
type Movement struct {
	ID         int64
	CardID     LotID
	MaterialID MaterialID
	LotNumber  string
	Kind       MovementKind
	Delta      decimal.Decimal
	Balance    decimal.Decimal // card balance after this movement
	DocID      int64           // receipt or issue id, zero otherwise
	At         time.Time
}

// Replay sums deltas per card.
func Replay(movements []Movement) map[LotID]decimal.Decimal {
	balances := make(map[LotID]decimal.Decimal)
	for _, m := range movements {
		balances[m.CardID] = balances[m.CardID].Add(m.Delta)
	}
	return balances
}
