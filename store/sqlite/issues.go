package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// ISSUE STORE
// =============================================================================

// CreateIssue creates an issue document from an approved request and takes
// the issued quantities out of stock. The whole document is written in one
// transaction: either every line is drawn or nothing is.
//
// A submission whose idempotency key was already used returns the document
// created by the first call without touching stock again.
func (s *Store) CreateIssue(ctx context.Context, user inventory.UserID, sub inventory.IssueSubmission) (*inventory.IssueDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id inventory.IssueID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if sub.IdempotencyKey != "" {
			err := tx.QueryRowContext(ctx,
				"SELECT id FROM issues WHERE idempotency_key = ?", sub.IdempotencyKey,
			).Scan(&id)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		req, err := s.request(ctx, tx, sub.RequestID)
		if err != nil {
			return err
		}
		if req.Status != inventory.RequestApproved {
			return fmt.Errorf("request %d is %s: %w", req.ID, req.Status, inventory.ErrRequestNotApproved)
		}
		if len(sub.Lines) == 0 {
			return &inventory.ValidationError{Rule: inventory.RuleQtyNotPositive, Message: "an issue needs at least one line"}
		}

		var drawn []drawnLine
		seen := make(map[inventory.MaterialID]bool, len(sub.Lines))
		for _, l := range sub.Lines {
			reqLine, ok := req.Line(l.MaterialID)
			if !ok {
				return fmt.Errorf("material %d is not on request %d: %w", l.MaterialID, req.ID, inventory.ErrNotFound)
			}
			if seen[l.MaterialID] {
				return &inventory.ValidationError{
					Rule:         inventory.RuleQtyExceedsRequested,
					MaterialID:   l.MaterialID,
					MaterialName: reqLine.MaterialName,
					Message:      fmt.Sprintf("%s is issued twice", reqLine.MaterialName),
				}
			}
			seen[l.MaterialID] = true

			if !l.Qty.IsPositive() {
				return &inventory.ValidationError{
					Rule:         inventory.RuleQtyNotPositive,
					MaterialID:   l.MaterialID,
					MaterialName: reqLine.MaterialName,
					Message:      fmt.Sprintf("issue quantity for %s must be greater than 0", reqLine.MaterialName),
				}
			}
			if l.Qty.GreaterThan(reqLine.QtyRequested) {
				return &inventory.ValidationError{
					Rule:         inventory.RuleQtyExceedsRequested,
					MaterialID:   l.MaterialID,
					MaterialName: reqLine.MaterialName,
					Message: fmt.Sprintf("issue quantity for %s (%s) exceeds the requested %s",
						reqLine.MaterialName, l.Qty, reqLine.QtyRequested),
				}
			}

			d, err := s.draw(ctx, tx, reqLine, l)
			if err != nil {
				return err
			}
			if sub.Controlled {
				if err := checkDrugInfo(reqLine, d); err != nil {
					return err
				}
			}
			drawn = append(drawn, d)
		}

		total := decimal.Zero
		for _, d := range drawn {
			total = total.Add(d.amount)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO issues (request_id, receiver_name, department_id, issue_date, controlled,
				total_amount, created_by, idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, req.ID, sub.ReceiverName, req.DepartmentID, sub.IssueDate.String(), sub.Controlled,
			total.String(), user, nullString(sub.IdempotencyKey), timestamp(s.Now()))
		if isUniqueConstraintError(err) {
			return fmt.Errorf("idempotency key %q: %w", sub.IdempotencyKey, inventory.ErrDuplicateSubmission)
		}
		if err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
		last, err := res.LastInsertId()
		if err != nil {
			return err
		}
		id = inventory.IssueID(last)

		for i, d := range drawn {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issue_lines (issue_id, line_no, material_id, card_id, lot_number,
					qty, unit_price, manufacturer, country)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, id, i+1, d.materialID, nullID(d.cardID), d.lotNumber, d.qty.String(),
				d.unitPrice().String(), d.manufacturer, d.country); err != nil {
				return fmt.Errorf("failed to insert issue line: %w", err)
			}
			for _, m := range d.movements {
				m.DocID = int64(id)
				if err := s.appendMovement(ctx, tx, m); err != nil {
					return err
				}
			}
		}

		_, err = tx.ExecContext(ctx, "UPDATE issue_requests SET status = ? WHERE id = ?",
			inventory.RequestIssued, req.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, s.db, id)
}

// drawnLine is one issue line after stock was taken for it.
type drawnLine struct {
	materialID   inventory.MaterialID
	cardID       inventory.LotID
	lotNumber    string
	qty          decimal.Decimal
	amount       decimal.Decimal
	manufacturer string
	country      string
	movements    []inventory.Movement
}

func (d drawnLine) unitPrice() decimal.Decimal {
	if d.qty.IsZero() {
		return decimal.Zero
	}
	return d.amount.Div(d.qty).Round(4)
}

// draw takes l.Qty of a material out of stock. A line with a lot draws from
// that card only; a line without one draws first-expiry-first-out across
// the material's non-lot cards, and is refused when the material has lots.
func (s *Store) draw(ctx context.Context, tx *sql.Tx, reqLine inventory.RequestLine, l inventory.IssueSubmissionLine) (drawnLine, error) {
	info, err := s.stock(ctx, tx, l.MaterialID)
	if err != nil {
		return drawnLine{}, err
	}
	cards, err := s.usableCards(ctx, tx, l.MaterialID)
	if err != nil {
		return drawnLine{}, err
	}

	d := drawnLine{
		materialID:   l.MaterialID,
		qty:          l.Qty,
		amount:       decimal.Zero,
		manufacturer: firstNonEmpty(l.Manufacturer, info.Manufacturer),
		country:      firstNonEmpty(l.Country, info.Country),
	}

	if l.LotID != inventory.NoLot {
		var card *Card
		for i := range cards {
			if cards[i].ID == l.LotID && cards[i].LotNumber != "" {
				card = &cards[i]
				break
			}
		}
		if card == nil {
			return drawnLine{}, fmt.Errorf("lot %d of %s is not available: %w",
				l.LotID, reqLine.MaterialName, inventory.ErrInsufficientStock)
		}
		if l.Qty.GreaterThan(card.Available) {
			return drawnLine{}, fmt.Errorf("lot %s of %s has %s left, %s requested: %w",
				card.LotNumber, reqLine.MaterialName, card.Available, l.Qty, inventory.ErrInsufficientStock)
		}
		if err := takeFromCard(ctx, tx, *card, l.Qty); err != nil {
			return drawnLine{}, err
		}
		d.movements = append(d.movements, issueMovement(*card, l.Qty))
		d.cardID = card.ID
		d.lotNumber = card.LotNumber
		d.amount = l.Qty.Mul(card.UnitPrice)
		d.manufacturer = firstNonEmpty(l.Manufacturer, card.Manufacturer, info.Manufacturer)
		d.country = firstNonEmpty(l.Country, card.Country, info.Country)
		return d, nil
	}

	if info.IsLotTracked() {
		return drawnLine{}, &inventory.ValidationError{
			Rule:         inventory.RuleLotRequired,
			MaterialID:   l.MaterialID,
			MaterialName: reqLine.MaterialName,
			Message:      fmt.Sprintf("select a lot for %s", reqLine.MaterialName),
		}
	}

	remaining := l.Qty
	for _, c := range cards {
		if c.LotNumber != "" || !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, c.Available)
		if err := takeFromCard(ctx, tx, c, take); err != nil {
			return drawnLine{}, err
		}
		d.movements = append(d.movements, issueMovement(c, take))
		if d.cardID == 0 {
			d.cardID = c.ID
		}
		d.amount = d.amount.Add(take.Mul(c.UnitPrice))
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return drawnLine{}, fmt.Errorf("%s has %s in stock, %s requested: %w",
			reqLine.MaterialName, info.Total, l.Qty, inventory.ErrInsufficientStock)
	}
	return d, nil
}

func takeFromCard(ctx context.Context, tx *sql.Tx, c Card, qty decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, "UPDATE inventory_cards SET qty_available = ? WHERE id = ?",
		c.Available.Sub(qty).String(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update card %d: %w", c.ID, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// checkDrugInfo refuses a controlled line whose manufacturer or country is
// still blank after falling back to the lot and the material.
func checkDrugInfo(reqLine inventory.RequestLine, d drawnLine) error {
	if d.manufacturer == "" {
		return &inventory.ValidationError{
			Rule:         inventory.RuleManufacturerRequired,
			MaterialID:   reqLine.MaterialID,
			MaterialName: reqLine.MaterialName,
			Message:      fmt.Sprintf("enter the manufacturer of %s", reqLine.MaterialName),
		}
	}
	if d.country == "" {
		return &inventory.ValidationError{
			Rule:         inventory.RuleCountryRequired,
			MaterialID:   reqLine.MaterialID,
			MaterialName: reqLine.MaterialName,
			Message:      fmt.Sprintf("enter the country of origin of %s", reqLine.MaterialName),
		}
	}
	return nil
}

// =============================================================================
// ISSUE QUERIES
// =============================================================================

const issueColumns = `
	id, request_id, receiver_name, department_id, issue_date, controlled,
	total_amount, created_by, created_at
`

func scanIssue(row interface{ Scan(...any) error }) (inventory.IssueDocument, error) {
	var doc inventory.IssueDocument
	var issueDate, total, at string
	if err := row.Scan(&doc.ID, &doc.RequestID, &doc.ReceiverName, &doc.DepartmentID, &issueDate,
		&doc.Controlled, &total, &doc.CreatedBy, &at); err != nil {
		return doc, err
	}
	doc.IssueDate, _ = inventory.ParseDate(issueDate)
	doc.TotalAmount = parseQty(total)
	doc.CreatedAt = parseTime(at)
	return doc, nil
}

func (s *Store) issue(ctx context.Context, q queryer, id inventory.IssueID) (*inventory.IssueDocument, error) {
	doc, err := scanIssue(q.QueryRowContext(ctx, "SELECT "+issueColumns+" FROM issues WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issue %d: %w", id, inventory.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if doc.Lines, err = s.issueLines(ctx, q, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// IssuesByUser returns the issue documents a user created, newest first.
func (s *Store) IssuesByUser(ctx context.Context, user inventory.UserID) ([]inventory.IssueDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE created_by = ?
		ORDER BY created_at DESC, id DESC
	`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}

	docs := []inventory.IssueDocument{}
	for rows.Next() {
		doc, err := scanIssue(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		docs = append(docs, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range docs {
		if docs[i].Lines, err = s.issueLines(ctx, s.db, docs[i].ID); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (s *Store) issueLines(ctx context.Context, q queryer, id inventory.IssueID) ([]inventory.IssueDocumentLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT l.material_id, COALESCE(m.name, ''), COALESCE(l.card_id, 0), l.lot_number,
			l.qty, l.unit_price, l.manufacturer, l.country
		FROM issue_lines l LEFT JOIN materials m ON m.id = l.material_id
		WHERE l.issue_id = ?
		ORDER BY l.line_no
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load issue lines: %w", err)
	}
	defer rows.Close()

	lines := []inventory.IssueDocumentLine{}
	for rows.Next() {
		var l inventory.IssueDocumentLine
		var qty, price string
		if err := rows.Scan(&l.MaterialID, &l.MaterialName, &l.LotID, &l.LotNumber,
			&qty, &price, &l.Manufacturer, &l.Country); err != nil {
			return nil, err
		}
		l.Qty = parseQty(qty)
		l.UnitPrice = parseQty(price)
		// non-lot lines keep the card they were first drawn from internally
		if l.LotNumber == "" {
			l.LotID = inventory.NoLot
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
