package sqlite

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// STOCK LEDGER (append-only movements per card)
// =============================================================================

// appendMovement records one change of a card. The caller is inside the
// transaction that changed the card.
func (s *Store) appendMovement(ctx context.Context, q queryer, m inventory.Movement) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_movements (card_id, material_id, lot_number, kind, delta, balance, doc_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.CardID, m.MaterialID, m.LotNumber, m.Kind, m.Delta.String(), m.Balance.String(),
		nullID(m.DocID), timestamp(s.Now()))
	if err != nil {
		return fmt.Errorf("failed to record %s movement of card %d: %w", m.Kind, m.CardID, err)
	}
	return nil
}

// Movements returns the movements of every card of a material, oldest first.
func (s *Store) Movements(ctx context.Context, id inventory.MaterialID) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM materials WHERE id = ?)", id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("material %d: %w", id, inventory.ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, material_id, lot_number, kind, delta, balance, COALESCE(doc_id, 0), created_at
		FROM stock_movements
		WHERE material_id = ?
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load movements: %w", err)
	}
	defer rows.Close()

	movements := []inventory.Movement{}
	for rows.Next() {
		var m inventory.Movement
		var delta, balance, at string
		if err := rows.Scan(&m.ID, &m.CardID, &m.MaterialID, &m.LotNumber, &m.Kind,
			&delta, &balance, &m.DocID, &at); err != nil {
			return nil, err
		}
		m.Delta = parseQty(delta)
		m.Balance = parseQty(balance)
		m.At = parseTime(at)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func issueMovement(c Card, qty decimal.Decimal) inventory.Movement {
	return inventory.Movement{
		CardID:     c.ID,
		MaterialID: c.MaterialID,
		LotNumber:  c.LotNumber,
		Kind:       inventory.MovementIssue,
		Delta:      qty.Neg(),
		Balance:    c.Available.Sub(qty),
	}
}
