package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// REQUEST STORE (withdrawal requests and approval workflow)
// =============================================================================

// RequestRecord is a withdrawal request to store.
type RequestRecord struct {
	ID            inventory.RequestID // zero assigns a new id
	CreatedBy     inventory.UserID
	RequesterName string
	DepartmentID  inventory.DepartmentID
	Status        inventory.RequestStatus // defaults to pending
	Note          string
	RequestedAt   time.Time // defaults to now
	Lines         []RequestLineRecord
}

type RequestLineRecord struct {
	MaterialID inventory.MaterialID
	Qty        decimal.Decimal
}

// CreateRequest stores a request with its lines and returns it as loaded.
func (s *Store) CreateRequest(ctx context.Context, r RequestRecord) (*inventory.WithdrawalRequest, error) {
	if len(r.Lines) == 0 {
		return nil, &inventory.ValidationError{Rule: inventory.RuleMaterialRequired, Message: "a request needs at least one material"}
	}
	seen := make(map[inventory.MaterialID]bool, len(r.Lines))
	for _, l := range r.Lines {
		if seen[l.MaterialID] {
			return nil, &inventory.ValidationError{
				Rule:       inventory.RuleMaterialRequired,
				MaterialID: l.MaterialID,
				Message:    fmt.Sprintf("material %d is listed twice", l.MaterialID),
			}
		}
		seen[l.MaterialID] = true
		if !l.Qty.IsPositive() {
			return nil, &inventory.ValidationError{
				Rule:       inventory.RuleQtyNotPositive,
				MaterialID: l.MaterialID,
				Message:    fmt.Sprintf("requested quantity for material %d must be greater than 0", l.MaterialID),
			}
		}
	}
	if r.Status == "" {
		r.Status = inventory.RequestPending
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = s.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id inventory.RequestID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO issue_requests (id, created_by, requester_name, department_id, status, note, requested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, nullID(r.ID), r.CreatedBy, r.RequesterName, r.DepartmentID, r.Status, r.Note, timestamp(r.RequestedAt))
		if err != nil {
			return fmt.Errorf("failed to insert request: %w", err)
		}
		id = r.ID
		if id == 0 {
			last, err := res.LastInsertId()
			if err != nil {
				return err
			}
			id = inventory.RequestID(last)
		}

		for i, l := range r.Lines {
			var exists int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM materials WHERE id = ?", l.MaterialID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("material %d: %w", l.MaterialID, inventory.ErrNotFound)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issue_request_lines (request_id, line_no, material_id, qty_requested)
				VALUES (?, ?, ?, ?)
			`, id, i+1, l.MaterialID, l.Qty.String()); err != nil {
				return fmt.Errorf("failed to insert request line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.request(ctx, s.db, id)
}

// Request returns one request with its lines.
func (s *Store) Request(ctx context.Context, id inventory.RequestID) (*inventory.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.request(ctx, s.db, id)
}

const requestColumns = `
	r.id, r.requester_name, r.department_id, COALESCE(d.name, ''), r.requested_at, r.status
`

func (s *Store) request(ctx context.Context, q queryer, id inventory.RequestID) (*inventory.WithdrawalRequest, error) {
	var r inventory.WithdrawalRequest
	var requestedAt string
	err := q.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM issue_requests r LEFT JOIN departments d ON d.id = r.department_id
		WHERE r.id = ?
	`, id).Scan(&r.ID, &r.RequesterName, &r.DepartmentID, &r.DepartmentName, &requestedAt, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %d: %w", id, inventory.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.RequestedAt = parseTime(requestedAt)

	if r.Lines, err = s.requestLines(ctx, q, r.ID); err != nil {
		return nil, err
	}
	return &r, nil
}

// RequestsByStatus returns requests in one status, oldest first.
func (s *Store) RequestsByStatus(ctx context.Context, status inventory.RequestStatus) ([]inventory.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM issue_requests r LEFT JOIN departments d ON d.id = r.department_id
		WHERE r.status = ?
		ORDER BY r.requested_at ASC, r.id ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}

	requests := []inventory.WithdrawalRequest{}
	for rows.Next() {
		var r inventory.WithdrawalRequest
		var requestedAt string
		if err := rows.Scan(&r.ID, &r.RequesterName, &r.DepartmentID, &r.DepartmentName, &requestedAt, &r.Status); err != nil {
			rows.Close()
			return nil, err
		}
		r.RequestedAt = parseTime(requestedAt)
		requests = append(requests, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// lines are loaded after the cursor is closed: the store has one connection
	for i := range requests {
		if requests[i].Lines, err = s.requestLines(ctx, s.db, requests[i].ID); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

func (s *Store) requestLines(ctx context.Context, q queryer, id inventory.RequestID) ([]inventory.RequestLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT l.material_id, m.name, COALESCE(u.name, ''), m.category, l.qty_requested
		FROM issue_request_lines l
		JOIN materials m ON m.id = l.material_id
		LEFT JOIN units u ON u.id = m.unit_id
		WHERE l.request_id = ?
		ORDER BY l.line_no
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load request lines: %w", err)
	}
	defer rows.Close()

	lines := []inventory.RequestLine{}
	for rows.Next() {
		var l inventory.RequestLine
		var qty string
		if err := rows.Scan(&l.MaterialID, &l.MaterialName, &l.UnitName, &l.Category, &qty); err != nil {
			return nil, err
		}
		l.QtyRequested = parseQty(qty)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Approve moves a pending request to approved.
func (s *Store) Approve(ctx context.Context, id inventory.RequestID, by inventory.UserID) error {
	return s.decide(ctx, id, by, inventory.RequestApproved, "")
}

// Reject moves a pending request to rejected.
func (s *Store) Reject(ctx context.Context, id inventory.RequestID, by inventory.UserID, reason string) error {
	return s.decide(ctx, id, by, inventory.RequestRejected, reason)
}

func (s *Store) decide(ctx context.Context, id inventory.RequestID, by inventory.UserID, to inventory.RequestStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status inventory.RequestStatus
		err := tx.QueryRowContext(ctx, "SELECT status FROM issue_requests WHERE id = ?", id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("request %d: %w", id, inventory.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if status != inventory.RequestPending {
			return fmt.Errorf("request %d is %s: %w", id, status, inventory.ErrInvalidStatus)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE issue_requests
			SET status = ?, decided_by = ?, decided_at = ?, rejection_reason = ?
			WHERE id = ?
		`, to, by, timestamp(s.Now()), reason, id)
		return err
	})
}
