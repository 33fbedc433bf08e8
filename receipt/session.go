package receipt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hmu/medventory/inventory"
)

// Source is the backend as the receipt screen sees it.
type Source interface {
	Catalog
	Material(ctx context.Context, id inventory.MaterialID) (inventory.Material, error)
	Units(ctx context.Context) ([]inventory.Unit, error)
	MyReceipts(ctx context.Context, user inventory.UserID) ([]inventory.Receipt, error)
	CreateReceipt(ctx context.Context, user inventory.UserID, r inventory.Receipt) (*inventory.Receipt, error)
}

// Identity reports the signed-in user.
type Identity interface {
	CurrentUser() (inventory.UserID, bool)
}

// =============================================================================
// SESSION - Receipt screen state
// =============================================================================

type Session struct {
	Source   Source
	Identity Identity
	Logger   *log.Logger
	Now      func() time.Time
	NewKey   func() string

	mu         sync.Mutex
	draft      Draft
	key        string
	units      []inventory.Unit
	receipts   []inventory.Receipt
	submitting bool
}

func NewSession(source Source, identity Identity) *Session {
	s := &Session{
		Source:   source,
		Identity: identity,
		Logger:   log.Default(),
		Now:      time.Now,
		NewKey:   uuid.NewString,
	}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.draft = NewDraft(inventory.DateOf(s.Now()))
	s.key = s.NewKey()
}

// Load fetches units and the user's receipts. A failed unit lookup is
// logged and leaves the unit list empty.
func (s *Session) Load(ctx context.Context) error {
	user, ok := s.Identity.CurrentUser()
	if !ok {
		return inventory.ErrNoIdentity
	}

	units, err := s.Source.Units(ctx)
	if err != nil {
		s.Logger.Printf("[Receipt] failed to load units: %v", err)
	}
	receipts, err := s.Source.MyReceipts(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to load receipts: %w", err)
	}

	s.mu.Lock()
	if units != nil {
		s.units = units
	}
	s.receipts = receipts
	s.mu.Unlock()
	return nil
}

func (s *Session) Units() []inventory.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Unit(nil), s.units...)
}

func (s *Session) Receipts() []inventory.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Receipt(nil), s.receipts...)
}

// Draft returns a copy of the current draft.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

// Edit applies fn to the draft. The draft is left unchanged if fn fails.
func (s *Session) Edit(fn func(*Draft) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.draft.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.draft = next
	return nil
}

// PickMaterial fills row from the catalog entry with id.
func (s *Session) PickMaterial(ctx context.Context, row int, id inventory.MaterialID) (inventory.Material, error) {
	m, err := s.Source.Material(ctx, id)
	if err != nil {
		return inventory.Material{}, fmt.Errorf("failed to load material %d: %w", id, err)
	}
	return m, s.Edit(func(d *Draft) error { return d.ApplyMaterial(row, m) })
}

// Submit validates the draft and creates the receipt. On failure the
// draft and its idempotency key are kept for a retry.
func (s *Session) Submit(ctx context.Context) (*inventory.Receipt, error) {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, inventory.ErrSubmitInProgress
	}
	if err := s.draft.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	user, ok := s.Identity.CurrentUser()
	if !ok {
		s.mu.Unlock()
		return nil, inventory.ErrNoIdentity
	}
	payload := s.draft.Receipt(s.key)
	s.submitting = true
	s.mu.Unlock()

	created, err := s.Source.CreateReceipt(ctx, user, payload)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, inventory.ErrRejected) || errors.Is(err, inventory.ErrTransport) {
			return nil, err
		}
		return nil, &inventory.TransportError{Op: "create receipt", Err: err}
	}
	s.reset()
	s.mu.Unlock()

	if err := s.Load(ctx); err != nil {
		s.Logger.Printf("[Receipt] refresh after receipt #%d failed: %v", created.ID, err)
	}
	return created, nil
}
