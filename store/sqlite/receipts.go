package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// RECEIPT STORE
// =============================================================================

// CreateReceipt stores a receipt and adds one inventory card per line.
// Lines without a material id create the material first. A repeated
// idempotency key returns the receipt stored by the first call.
func (s *Store) CreateReceipt(ctx context.Context, user inventory.UserID, r inventory.Receipt) (*inventory.Receipt, error) {
	if err := checkReceipt(r); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id inventory.ReceiptID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if r.IdempotencyKey != "" {
			err := tx.QueryRowContext(ctx,
				"SELECT id FROM receipts WHERE idempotency_key = ?", r.IdempotencyKey,
			).Scan(&id)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		receiptDate := r.ReceiptDate
		if receiptDate.IsZero() {
			receiptDate = s.today()
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO receipts (received_from, reason, receipt_date, total_amount, created_by,
				idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, strings.TrimSpace(r.ReceivedFrom), r.Reason, receiptDate.String(), r.TotalAmount().String(),
			user, nullString(r.IdempotencyKey), timestamp(s.Now()))
		if isUniqueConstraintError(err) {
			return fmt.Errorf("idempotency key %q: %w", r.IdempotencyKey, inventory.ErrDuplicateSubmission)
		}
		if err != nil {
			return fmt.Errorf("failed to insert receipt: %w", err)
		}
		last, err := res.LastInsertId()
		if err != nil {
			return err
		}
		id = inventory.ReceiptID(last)

		for i, l := range r.Lines {
			var manufacturer, country string
			if l.MaterialID == 0 {
				if l.MaterialID, err = s.putMaterial(ctx, tx, MaterialRecord{
					Name:     strings.TrimSpace(l.MaterialName),
					Spec:     l.Spec,
					Code:     l.Code,
					UnitID:   l.UnitID,
					Category: l.Category,
				}); err != nil {
					return err
				}
			} else {
				err := tx.QueryRowContext(ctx,
					"SELECT manufacturer, country FROM materials WHERE id = ?", l.MaterialID,
				).Scan(&manufacturer, &country)
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("material %d: %w", l.MaterialID, inventory.ErrNotFound)
				}
				if err != nil {
					return err
				}
			}

			cardID, err := s.addCard(ctx, tx, Card{
				MaterialID:   l.MaterialID,
				LotNumber:    strings.TrimSpace(l.LotNumber),
				Available:    l.QtyActual,
				UnitPrice:    l.Price,
				MfgDate:      l.MfgDate,
				ExpDate:      l.ExpDate,
				Manufacturer: manufacturer,
				Country:      country,
				Supplier:     strings.TrimSpace(r.ReceivedFrom),
				ReceiptID:    id,
			})
			if err != nil {
				return err
			}

			category := l.Category
			if category == "" {
				category = inventory.DefaultCategory
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO receipt_lines (receipt_id, line_no, material_id, material_name, spec, code,
					unit_id, price, qty_doc, qty_actual, lot_number, mfg_date, exp_date, category, card_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, id, i+1, l.MaterialID, l.MaterialName, l.Spec, l.Code, nullID(l.UnitID),
				l.Price.String(), l.QtyDoc.String(), l.QtyActual.String(), strings.TrimSpace(l.LotNumber),
				nullDate(l.MfgDate), nullDate(l.ExpDate), category, cardID); err != nil {
				return fmt.Errorf("failed to insert receipt line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.receipt(ctx, s.db, id)
}

// checkReceipt repeats the form rules so a direct API caller cannot
// store a receipt the form would refuse.
func checkReceipt(r inventory.Receipt) error {
	if strings.TrimSpace(r.ReceivedFrom) == "" {
		return &inventory.ValidationError{Rule: inventory.RuleSupplierRequired, Message: "supplier is required"}
	}
	if len(r.Lines) == 0 {
		return &inventory.ValidationError{Rule: inventory.RuleMaterialRequired, Message: "a receipt needs at least one line"}
	}
	for i, l := range r.Lines {
		row := i + 1
		lineErr := func(rule inventory.Rule, format string) error {
			return &inventory.ValidationError{
				Rule:         rule,
				MaterialID:   l.MaterialID,
				MaterialName: l.MaterialName,
				Message:      fmt.Sprintf(format, row),
			}
		}
		switch {
		case l.MaterialID == 0 && strings.TrimSpace(l.MaterialName) == "":
			return lineErr(inventory.RuleMaterialRequired, "row %d: select or name a material")
		case !l.QtyActual.IsPositive():
			return lineErr(inventory.RuleQtyNotPositive, "row %d: actual quantity must be greater than 0")
		case !l.Price.IsPositive():
			return lineErr(inventory.RulePriceInvalid, "row %d: price must be greater than 0")
		case strings.TrimSpace(l.LotNumber) == "":
			return lineErr(inventory.RuleLotNumberMissing, "row %d: lot number is required")
		}
	}
	return nil
}

// =============================================================================
// RECEIPT QUERIES
// =============================================================================

const receiptColumns = `id, received_from, reason, receipt_date, created_by, COALESCE(idempotency_key, ''), created_at`

func scanReceipt(row interface{ Scan(...any) error }) (inventory.Receipt, error) {
	var r inventory.Receipt
	var receiptDate, at string
	if err := row.Scan(&r.ID, &r.ReceivedFrom, &r.Reason, &receiptDate, &r.CreatedBy, &r.IdempotencyKey, &at); err != nil {
		return r, err
	}
	r.ReceiptDate, _ = inventory.ParseDate(receiptDate)
	r.CreatedAt = parseTime(at)
	return r, nil
}

func (s *Store) receipt(ctx context.Context, q queryer, id inventory.ReceiptID) (*inventory.Receipt, error) {
	r, err := scanReceipt(q.QueryRowContext(ctx, "SELECT "+receiptColumns+" FROM receipts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %d: %w", id, inventory.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if r.Lines, err = s.receiptLines(ctx, q, id); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReceiptsByUser returns the receipts a user created, newest first.
func (s *Store) ReceiptsByUser(ctx context.Context, user inventory.UserID) ([]inventory.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE created_by = ?
		ORDER BY created_at DESC, id DESC
	`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}

	receipts := []inventory.Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		receipts = append(receipts, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range receipts {
		if receipts[i].Lines, err = s.receiptLines(ctx, s.db, receipts[i].ID); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

func (s *Store) receiptLines(ctx context.Context, q queryer, id inventory.ReceiptID) ([]inventory.ReceiptLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT material_id, material_name, spec, code, COALESCE(unit_id, 0), price, qty_doc, qty_actual,
			lot_number, mfg_date, exp_date, category
		FROM receipt_lines
		WHERE receipt_id = ?
		ORDER BY line_no
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt lines: %w", err)
	}
	defer rows.Close()

	lines := []inventory.ReceiptLine{}
	for rows.Next() {
		var (
			l                        inventory.ReceiptLine
			price, qtyDoc, qtyActual string
			mfgDate, expDate         sql.NullString
		)
		if err := rows.Scan(&l.MaterialID, &l.MaterialName, &l.Spec, &l.Code, &l.UnitID,
			&price, &qtyDoc, &qtyActual, &l.LotNumber, &mfgDate, &expDate, &l.Category); err != nil {
			return nil, err
		}
		l.Price = parseQty(price)
		l.QtyDoc = parseQty(qtyDoc)
		l.QtyActual = parseQty(qtyActual)
		l.MfgDate = parseDate(mfgDate)
		l.ExpDate = parseDate(expDate)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
