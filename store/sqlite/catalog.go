package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// =============================================================================
// REFERENCE DATA
// =============================================================================

// PutUnit inserts or renames a unit.
func (s *Store) PutUnit(ctx context.Context, u inventory.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, u.ID, u.Name)
	return err
}

// Units returns all units ordered by name.
func (s *Store) Units(ctx context.Context) ([]inventory.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM units ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := []inventory.Unit{}
	for rows.Next() {
		var u inventory.Unit
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// PutDepartment inserts or renames a department.
func (s *Store) PutDepartment(ctx context.Context, id inventory.DepartmentID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name)
	return err
}

// =============================================================================
// MATERIALS
// =============================================================================

// MaterialRecord is a catalog entry as stored.
type MaterialRecord struct {
	ID           inventory.MaterialID // zero assigns a new id
	Name         string
	Spec         string
	Code         string
	UnitID       inventory.UnitID
	Category     string
	Manufacturer string
	Country      string
}

// PutMaterial inserts or updates a material and returns its id.
func (s *Store) PutMaterial(ctx context.Context, m MaterialRecord) (inventory.MaterialID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putMaterial(ctx, s.db, m)
}

func (s *Store) putMaterial(ctx context.Context, q queryer, m MaterialRecord) (inventory.MaterialID, error) {
	if m.Category == "" {
		m.Category = inventory.DefaultCategory
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO materials (id, name, spec, code, unit_id, category, manufacturer, country, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			spec = excluded.spec,
			code = excluded.code,
			unit_id = excluded.unit_id,
			category = excluded.category,
			manufacturer = excluded.manufacturer,
			country = excluded.country
	`, nullID(m.ID), m.Name, m.Spec, m.Code, nullID(m.UnitID), m.Category,
		m.Manufacturer, m.Country, timestamp(s.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to save material %q: %w", m.Name, err)
	}
	if m.ID != 0 {
		return m.ID, nil
	}
	id, err := res.LastInsertId()
	return inventory.MaterialID(id), err
}

const materialColumns = `
	m.id, m.name, m.spec, m.code, COALESCE(m.unit_id, 0), COALESCE(u.name, ''), m.category
`

func scanMaterial(row interface{ Scan(...any) error }) (inventory.Material, error) {
	var m inventory.Material
	err := row.Scan(&m.ID, &m.Name, &m.Spec, &m.Code, &m.UnitID, &m.UnitName, &m.Category)
	return m, err
}

// SearchMaterials finds materials whose name or code contains keyword.
func (s *Store) SearchMaterials(ctx context.Context, keyword string) ([]inventory.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + keyword + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+materialColumns+`
		FROM materials m LEFT JOIN units u ON u.id = m.unit_id
		WHERE m.name LIKE ? OR m.code LIKE ?
		ORDER BY m.name
		LIMIT 20
	`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search materials: %w", err)
	}
	defer rows.Close()

	materials := []inventory.Material{}
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

// Material returns a catalog entry with its current total stock and the
// most recent receipt line, if any.
func (s *Store) Material(ctx context.Context, id inventory.MaterialID) (inventory.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := scanMaterial(s.db.QueryRowContext(ctx, `
		SELECT `+materialColumns+`
		FROM materials m LEFT JOIN units u ON u.id = m.unit_id
		WHERE m.id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Material{}, fmt.Errorf("material %d: %w", id, inventory.ErrNotFound)
	}
	if err != nil {
		return inventory.Material{}, err
	}

	cards, err := s.usableCards(ctx, s.db, id)
	if err != nil {
		return inventory.Material{}, err
	}
	m.TotalStock = decimal.Zero
	for _, c := range cards {
		m.TotalStock = m.TotalStock.Add(c.Available)
	}

	var recent inventory.RecentReceipt
	var receiptDate string
	err = s.db.QueryRowContext(ctx, `
		SELECT rl.lot_number, r.received_from, r.receipt_date
		FROM receipt_lines rl JOIN receipts r ON r.id = rl.receipt_id
		WHERE rl.material_id = ?
		ORDER BY r.receipt_date DESC, r.id DESC
		LIMIT 1
	`, id).Scan(&recent.LotNumber, &recent.Supplier, &receiptDate)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return inventory.Material{}, err
	default:
		recent.ReceiptDate, _ = inventory.ParseDate(receiptDate)
		m.RecentReceipt = &recent
	}
	return m, nil
}

// =============================================================================
// INVENTORY CARDS
// =============================================================================

type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardExpired CardStatus = "expired"
)

// Card is one batch of a material in stock. An empty LotNumber is
// non-lot stock.
type Card struct {
	ID           inventory.LotID // zero assigns a new id
	MaterialID   inventory.MaterialID
	LotNumber    string
	Available    decimal.Decimal
	UnitPrice    decimal.Decimal
	MfgDate      inventory.Date
	ExpDate      inventory.Date
	Manufacturer string
	Country      string
	Supplier     string
	ReceiptID    inventory.ReceiptID
	Status       CardStatus
}

// AddCard stores a card and returns its id.
func (s *Store) AddCard(ctx context.Context, c Card) (inventory.LotID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id inventory.LotID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.addCard(ctx, tx, c)
		return err
	})
	return id, err
}

func (s *Store) addCard(ctx context.Context, q queryer, c Card) (inventory.LotID, error) {
	if c.Status == "" {
		c.Status = CardActive
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO inventory_cards (id, material_id, lot_number, qty_available, unit_price,
			mfg_date, exp_date, manufacturer, country, supplier, receipt_id, status, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullID(c.ID), c.MaterialID, c.LotNumber, c.Available.String(), c.UnitPrice.String(),
		nullDate(c.MfgDate), nullDate(c.ExpDate), c.Manufacturer, c.Country, c.Supplier,
		nullID(c.ReceiptID), c.Status, timestamp(s.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to add card for material %d: %w", c.MaterialID, err)
	}
	if c.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		c.ID = inventory.LotID(id)
	}

	if c.Status != CardActive {
		return c.ID, nil
	}
	kind := inventory.MovementOpening
	if c.ReceiptID != 0 {
		kind = inventory.MovementReceipt
	}
	err = s.appendMovement(ctx, q, inventory.Movement{
		CardID:     c.ID,
		MaterialID: c.MaterialID,
		LotNumber:  c.LotNumber,
		Kind:       kind,
		Delta:      c.Available,
		Balance:    c.Available,
		DocID:      int64(c.ReceiptID),
	})
	return c.ID, err
}

const cardColumns = `
	id, material_id, lot_number, qty_available, unit_price, mfg_date, exp_date,
	manufacturer, country, supplier, COALESCE(receipt_id, 0), status
`

// usableCards returns the active, unexpired, non-empty cards of a material
// in first-expiry-first-out order.
func (s *Store) usableCards(ctx context.Context, q queryer, id inventory.MaterialID) ([]Card, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM inventory_cards
		WHERE material_id = ? AND status = 'active'
		  AND (exp_date IS NULL OR exp_date >= ?)
		ORDER BY exp_date IS NULL, exp_date, id
	`, id, s.today().String())
	if err != nil {
		return nil, fmt.Errorf("failed to load stock for material %d: %w", id, err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		var (
			c                Card
			available, price string
			mfgDate, expDate sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.MaterialID, &c.LotNumber, &available, &price,
			&mfgDate, &expDate, &c.Manufacturer, &c.Country, &c.Supplier, &c.ReceiptID, &c.Status); err != nil {
			return nil, err
		}
		c.Available = parseQty(available)
		c.UnitPrice = parseQty(price)
		c.MfgDate = parseDate(mfgDate)
		c.ExpDate = parseDate(expDate)
		if c.Available.IsPositive() {
			cards = append(cards, c)
		}
	}
	return cards, rows.Err()
}

// Stock returns total usable stock of a material and its usable lots.
func (s *Store) Stock(ctx context.Context, id inventory.MaterialID) (inventory.StockInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stock(ctx, s.db, id)
}

func (s *Store) stock(ctx context.Context, q queryer, id inventory.MaterialID) (inventory.StockInfo, error) {
	info := inventory.StockInfo{MaterialID: id, Total: decimal.Zero, Lots: []inventory.LotStock{}}
	err := q.QueryRowContext(ctx,
		"SELECT manufacturer, country FROM materials WHERE id = ?", id,
	).Scan(&info.Manufacturer, &info.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.StockInfo{}, fmt.Errorf("material %d: %w", id, inventory.ErrNotFound)
	}
	if err != nil {
		return inventory.StockInfo{}, err
	}

	cards, err := s.usableCards(ctx, q, id)
	if err != nil {
		return inventory.StockInfo{}, err
	}
	for _, c := range cards {
		info.Total = info.Total.Add(c.Available)
		if c.LotNumber == "" {
			continue
		}
		info.Lots = append(info.Lots, inventory.LotStock{
			ID:           c.ID,
			LotNumber:    c.LotNumber,
			Available:    c.Available,
			ExpiresOn:    c.ExpDate,
			Manufacturer: c.Manufacturer,
			Country:      c.Country,
		})
	}
	return info, nil
}

// =============================================================================
// EXPIRY
// =============================================================================

// ExpiredLot describes a card that ExpireLots took out of stock.
type ExpiredLot struct {
	CardID       inventory.LotID
	MaterialID   inventory.MaterialID
	MaterialName string
	LotNumber    string
	Remaining    decimal.Decimal
	ExpDate      inventory.Date
}

// ExpireLots marks every active card whose expiry date has passed as
// expired and returns them.
func (s *Store) ExpireLots(ctx context.Context) ([]ExpiredLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today().String()
	var expired []ExpiredLot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT c.id, c.material_id, m.name, c.lot_number, c.qty_available, c.exp_date
			FROM inventory_cards c JOIN materials m ON m.id = c.material_id
			WHERE c.status = 'active' AND c.exp_date IS NOT NULL AND c.exp_date < ?
			ORDER BY c.exp_date, c.id
		`, today)
		if err != nil {
			return err
		}
		for rows.Next() {
			var e ExpiredLot
			var remaining string
			var expDate sql.NullString
			if err := rows.Scan(&e.CardID, &e.MaterialID, &e.MaterialName, &e.LotNumber, &remaining, &expDate); err != nil {
				rows.Close()
				return err
			}
			e.Remaining = parseQty(remaining)
			e.ExpDate = parseDate(expDate)
			expired = append(expired, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range expired {
			if err := s.appendMovement(ctx, tx, inventory.Movement{
				CardID:     e.CardID,
				MaterialID: e.MaterialID,
				LotNumber:  e.LotNumber,
				Kind:       inventory.MovementExpiry,
				Delta:      e.Remaining.Neg(),
				Balance:    decimal.Zero,
			}); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE inventory_cards SET status = 'expired'
			WHERE status = 'active' AND exp_date IS NOT NULL AND exp_date < ?
		`, today)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expire lots: %w", err)
	}
	return expired, nil
}
