/*
session.go - The issue screen workflow ("phiếu xuất" from an approved request)

PURPOSE:
  Hosts the whole issue flow for one signed-in storekeeper:
  1. Request selection: pick an approved withdrawal request
  2. Stock resolution: look up stock and lots for every line, concurrently
  3. Allocation editing: quantity, lot, manufacturer/country per line
  4. Validation and submission: one create call, then reset and refresh

FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  Load ──▶ Select(request) ──▶ Resolver ──▶ SetQuantity/SelectLot │
  │                │                  │             SetDrugInfo      │
  │                │                  ▼                  │           │
  │                │        results tagged with          ▼           │
  │                │        selection generation      Submit         │
  │                │                                    │            │
  │                └──── ChangeRequest / success ◀──────┘            │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

STALE RESULTS:
  Every selection bumps a generation counter. A stock result is applied
  only if the generation it was started under is still current, so a
  late lookup for a superseded request never reaches the active
  allocation set.

SUBMISSION:
  Not re-entrant: a second Submit while one is in flight fails with
  ErrSubmitInProgress. On failure all form state is kept, so the user
  can retry without re-entering anything; the idempotency key is kept
  too, so a retry after a lost response cannot create a second document.
  On success the selection and allocation are cleared, the form is reset,
  requests and history are reloaded and the view switches to history.

CONCURRENCY:
  All state is guarded by one mutex. Network calls run outside it.

EXAMPLE:
  s := issue.NewSession(client, identity)
  if err := s.Load(ctx); err != nil { ... }
  _ = s.Select(ctx, 101)
  s.SelectLot(1, 10)
  s.SetDrugInfo(1, issue.FieldManufacturer, "VN Pharma")
  doc, err := s.Submit(ctx)

SEE ALSO:
  - allocation.go: Reducers applied by the edit methods
  - resolver.go: Concurrent stock lookups
  - validator.go: Rules checked by Submit
*/
package issue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmu/medventory/inventory"
)

// View is the active tab of the issue screen.
type View string

const (
	ViewCreate  View = "create"
	ViewHistory View = "history"
)

// =============================================================================
// SESSION
// =============================================================================

type Session struct {
	Source   DataSource
	Identity Identity
	Classify Classifier
	Resolver *Resolver
	Logger   *log.Logger
	Now      func() time.Time
	NewKey   func() string

	mu         sync.Mutex
	approved   []inventory.WithdrawalRequest
	history    []inventory.IssueDocument
	selected   *inventory.WithdrawalRequest
	generation uint64
	form       ReceiverForm
	alloc      Allocation
	key        string
	submitting bool
	view       View
}

type Option func(*Session)

func WithClassifier(c Classifier) Option { return func(s *Session) { s.Classify = c } }

func WithLogger(l *log.Logger) Option { return func(s *Session) { s.Logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Session) { s.Now = now } }

func WithKeyGenerator(fn func() string) Option { return func(s *Session) { s.NewKey = fn } }

// NewSession creates a session over source for the user reported by identity.
func NewSession(source DataSource, identity Identity, opts ...Option) *Session {
	s := &Session{
		Source:   source,
		Identity: identity,
		Classify: AlwaysControlled,
		Logger:   log.Default(),
		Now:      time.Now,
		NewKey:   uuid.NewString,
		view:     ViewCreate,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Classify == nil {
		s.Classify = AlwaysControlled
	}
	if s.Resolver == nil {
		s.Resolver = NewResolver(source, s.Logger)
	}
	s.form = DefaultForm(s.today())
	return s
}

func (s *Session) today() inventory.Date { return inventory.DateOf(s.Now()) }

// controlled applies the classifier, which may have been cleared after NewSession.
func (s *Session) controlled(req inventory.WithdrawalRequest) bool {
	if s.Classify == nil {
		return AlwaysControlled.IsControlled(req)
	}
	return s.Classify.IsControlled(req)
}

// =============================================================================
// REQUEST SELECTOR
// =============================================================================

// Load fetches the approved requests and the issue history of the user.
func (s *Session) Load(ctx context.Context) error {
	user, ok := s.Identity.CurrentUser()
	if !ok {
		return inventory.ErrNoIdentity
	}

	requests, err := s.Source.ApprovedRequests(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to load approved requests: %w", asTransport("approved requests", err))
	}
	history, err := s.Source.IssueHistory(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to load issue history: %w", asTransport("issue history", err))
	}

	s.mu.Lock()
	s.approved = requests
	s.history = history
	s.mu.Unlock()
	return nil
}

// Select makes the approved request with id the active one, resets the
// receiver form to its defaults and resolves stock for all its lines.
// It returns ErrSelectionSuperseded if another selection replaced this
// one before resolution finished.
func (s *Session) Select(ctx context.Context, id inventory.RequestID) error {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return inventory.ErrSubmitInProgress
	}
	req, ok := s.findApproved(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("select request %d: %w", id, inventory.ErrRequestNotApproved)
	}

	s.generation++
	gen := s.generation
	s.selected = &req
	s.form = FormFor(req, s.today())
	s.alloc = NewAllocation(req)
	s.key = s.NewKey()
	s.mu.Unlock()

	stale := false
	s.Resolver.Resolve(ctx, req.Lines, func(res Resolution) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != gen {
			stale = true
			return
		}
		s.alloc = res.Apply(s.alloc)
	})

	s.mu.Lock()
	stale = stale || s.generation != gen
	s.mu.Unlock()
	if stale {
		return inventory.ErrSelectionSuperseded
	}
	return nil
}

// ChangeRequest drops the selection and its allocation set.
// In-flight stock lookups for it are ignored when they arrive.
func (s *Session) ChangeRequest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return inventory.ErrSubmitInProgress
	}
	s.clearLocked()
	return nil
}

func (s *Session) clearLocked() {
	s.generation++
	s.selected = nil
	s.alloc = Allocation{}
	s.form = DefaultForm(s.today())
	s.key = ""
}

func (s *Session) findApproved(id inventory.RequestID) (inventory.WithdrawalRequest, bool) {
	for _, r := range s.approved {
		if r.ID == id {
			return r, true
		}
	}
	return inventory.WithdrawalRequest{}, false
}

// =============================================================================
// EDITING
// =============================================================================

func (s *Session) SetQuantity(id inventory.MaterialID, qty decimal.Decimal) {
	s.mutate(func(a Allocation) Allocation { return a.SetQuantity(id, qty) })
}

// SelectLot selects a lot for a line; NoLot clears it.
func (s *Session) SelectLot(id inventory.MaterialID, lotID inventory.LotID) {
	s.mutate(func(a Allocation) Allocation { return a.SelectLot(id, lotID) })
}

func (s *Session) SetDrugInfo(id inventory.MaterialID, field DrugField, value string) {
	s.mutate(func(a Allocation) Allocation { return a.SetDrugInfo(id, field, value) })
}

func (s *Session) mutate(fn func(Allocation) Allocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alloc = fn(s.alloc)
}

func (s *Session) SetReceiverName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.ReceiverName = name
}

func (s *Session) SetIssueDate(d inventory.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.IssueDate = d
}

func (s *Session) SetView(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

// =============================================================================
// VALIDATION & SUBMISSION
// =============================================================================

// Draft returns a snapshot of the current form.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draftLocked()
}

func (s *Session) draftLocked() Draft {
	d := Draft{Form: s.form, Allocation: s.alloc}
	if s.selected != nil {
		req := *s.selected
		d.Request = &req
	}
	return d
}

// Validate runs the form rules without submitting.
func (s *Session) Validate() error {
	return Validate(s.Draft(), s.Classify)
}

// Submit validates the form and creates the issue document.
func (s *Session) Submit(ctx context.Context) (*inventory.IssueDocument, error) {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, inventory.ErrSubmitInProgress
	}
	draft := s.draftLocked()
	if err := Validate(draft, s.Classify); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	user, ok := s.Identity.CurrentUser()
	if !ok {
		s.mu.Unlock()
		return nil, inventory.ErrNoIdentity
	}
	sub := draft.Submission(s.controlled(*draft.Request), s.key)
	s.submitting = true
	s.mu.Unlock()

	doc, err := s.Source.CreateIssue(ctx, user, sub)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		return nil, asTransport("create issue", err)
	}
	s.clearLocked()
	s.view = ViewHistory
	s.mu.Unlock()

	if err := s.Load(ctx); err != nil {
		s.Logger.Printf("[Session] refresh after issue #%d failed: %v", doc.ID, err)
	}
	return doc, nil
}

// asTransport keeps server refusals and client errors as they are and
// reports anything else as a generic connectivity failure.
func asTransport(op string, err error) error {
	if errors.Is(err, inventory.ErrTransport) ||
		errors.Is(err, inventory.ErrRejected) ||
		errors.Is(err, inventory.ErrNoIdentity) ||
		inventory.IsClientError(err) {
		return err
	}
	return &inventory.TransportError{Op: op, Err: err}
}

// =============================================================================
// STATE - What the screen renders
// =============================================================================

type State struct {
	View       View
	Approved   []inventory.WithdrawalRequest
	History    []inventory.IssueDocument
	Selected   *inventory.WithdrawalRequest
	Form       ReceiverForm
	Lines      []AllocationLine
	Controlled bool
	Submitting bool
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		View:       s.view,
		Approved:   append([]inventory.WithdrawalRequest(nil), s.approved...),
		History:    append([]inventory.IssueDocument(nil), s.history...),
		Form:       s.form,
		Lines:      s.alloc.Lines(),
		Submitting: s.submitting,
	}
	if s.selected != nil {
		req := *s.selected
		st.Selected = &req
		st.Controlled = s.controlled(req)
	}
	return st
}

// IdempotencyKey is the key the next submission will carry.
func (s *Session) IdempotencyKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}
