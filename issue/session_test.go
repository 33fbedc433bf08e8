package issue_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmu/medventory/inventory"
	"github.com/hmu/medventory/issue"
	"github.com/hmu/medventory/issue/issuetest"
)

var testNow = time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)

const storekeeper inventory.UserID = 7

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func sequentialKeys() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("key-%d", n.Add(1)) }
}

func newSession(t *testing.T, src issue.DataSource, opts ...issue.Option) *issue.Session {
	t.Helper()
	base := []issue.Option{
		issue.WithClock(func() time.Time { return testNow }),
		issue.WithLogger(discardLogger()),
		issue.WithKeyGenerator(sequentialKeys()),
	}
	s := issue.NewSession(src, issue.StaticIdentity(storekeeper), append(base, opts...)...)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func stateLine(t *testing.T, st issue.State, id inventory.MaterialID) issue.AllocationLine {
	t.Helper()
	for _, l := range st.Lines {
		if l.MaterialID == id {
			return l
		}
	}
	t.Fatalf("no line for material %d", id)
	return issue.AllocationLine{}
}

// =============================================================================
// END-TO-END
// =============================================================================

func TestSession_EndToEnd_ControlledRequest(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()
	s := newSession(t, src)

	// GIVEN: Request 101 (Morphine 50 over lots 30/70, Fentanyl 20 over one lot of 15)
	require.NoError(t, s.Select(ctx, issuetest.RequestControlled))

	st := s.State()
	m := stateLine(t, st, issuetest.Morphine)
	f := stateLine(t, st, issuetest.Fentanyl)
	assert.True(t, m.QtyIssued.Equal(qty(50)), "morphine qty %s", m.QtyIssued)
	assert.Nil(t, m.SelectedLot)
	assert.True(t, f.QtyIssued.Equal(qty(15)), "fentanyl qty %s", f.QtyIssued)
	require.NotNil(t, f.SelectedLot)
	assert.Equal(t, issuetest.LotF123, f.SelectedLot.ID)

	// WHEN: Submitting without choosing a lot for Morphine
	// THEN: "must choose a lot", nothing is sent
	_, err := s.Submit(ctx)
	var ve *inventory.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, inventory.RuleLotRequired, ve.Rule)
	assert.Contains(t, ve.Message, "must choose a lot")
	assert.Empty(t, src.Submissions())

	// WHEN: Choosing Morphine's 30-unit lot
	// THEN: Quantity clamps to 30
	s.SelectLot(issuetest.Morphine, issuetest.LotM001)
	m = stateLine(t, s.State(), issuetest.Morphine)
	assert.True(t, m.QtyIssued.Equal(qty(30)))

	// WHEN: Manufacturer/country supplied for both lines, then submit
	s.SetDrugInfo(issuetest.Morphine, issue.FieldManufacturer, "VN Pharma")
	s.SetDrugInfo(issuetest.Morphine, issue.FieldCountry, "Việt Nam")
	s.SetDrugInfo(issuetest.Fentanyl, issue.FieldManufacturer, "EuroPharm")
	s.SetDrugInfo(issuetest.Fentanyl, issue.FieldCountry, "Pháp")
	require.NoError(t, s.Validate())

	doc, err := s.Submit(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc)

	// THEN: One create call, Morphine line carries lot M001 and quantity 30
	subs := src.Submissions()
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, issuetest.RequestControlled, sub.RequestID)
	assert.Equal(t, "Nguyễn Văn A", sub.ReceiverName)
	assert.Equal(t, inventory.DepartmentID(1), sub.DepartmentID)
	assert.Equal(t, inventory.DateOf(testNow), sub.IssueDate)
	assert.True(t, sub.Controlled)
	assert.Equal(t, "key-1", sub.IdempotencyKey)
	require.Len(t, sub.Lines, 2)
	assert.Equal(t, issuetest.Morphine, sub.Lines[0].MaterialID)
	assert.Equal(t, issuetest.LotM001, sub.Lines[0].LotID)
	assert.True(t, sub.Lines[0].Qty.Equal(qty(30)))
	assert.Equal(t, issuetest.LotF123, sub.Lines[1].LotID)
	assert.True(t, sub.Lines[1].Qty.Equal(qty(15)))

	// THEN: Session reset, refreshed and switched to history
	st = s.State()
	assert.Equal(t, issue.ViewHistory, st.View)
	assert.Nil(t, st.Selected)
	assert.Empty(t, st.Lines)
	assert.Empty(t, st.Form.ReceiverName)
	assert.Equal(t, inventory.DateOf(testNow), st.Form.IssueDate)
	assert.Empty(t, s.IdempotencyKey())
	require.Len(t, st.History, 1)
	assert.Equal(t, doc.ID, st.History[0].ID)
	for _, r := range st.Approved {
		assert.NotEqual(t, issuetest.RequestControlled, r.ID, "issued request still listed as approved")
	}
}

// =============================================================================
// REQUEST SELECTOR
// =============================================================================

func TestSession_Select_DefaultsFormFromRequest(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, issuetest.Demo())

	require.NoError(t, s.Select(ctx, issuetest.RequestControlled))
	s.SetReceiverName("Người khác")

	require.NoError(t, s.Select(ctx, issuetest.RequestCommon))

	st := s.State()
	assert.Equal(t, "Trần Thị B", st.Form.ReceiverName)
	assert.Equal(t, inventory.DepartmentID(2), st.Form.DepartmentID)
	assert.Equal(t, inventory.DateOf(testNow), st.Form.IssueDate)
	require.Len(t, st.Lines, 1)
	assert.Equal(t, issuetest.ColdMedicine, st.Lines[0].MaterialID)
}

func TestSession_Select_NotApproved(t *testing.T) {
	s := newSession(t, issuetest.Demo())

	err := s.Select(context.Background(), 999)

	assert.True(t, errors.Is(err, inventory.ErrRequestNotApproved))
	assert.Nil(t, s.State().Selected)
}

func TestSession_Select_NewKeyPerSelection(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, issuetest.Demo())

	require.NoError(t, s.Select(ctx, issuetest.RequestControlled))
	first := s.IdempotencyKey()
	require.NoError(t, s.Select(ctx, issuetest.RequestCommon))

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, s.IdempotencyKey())
}

func TestSession_Select_StaleResultSuppressed(t *testing.T) {
	// GIVEN: Request 101 selected, Morphine lookup still pending
	// WHEN: Request 102 is selected, then the Morphine lookup completes
	// THEN: The late result never reaches 102's allocation set

	ctx := context.Background()
	src := issuetest.Demo()
	gate := src.HoldStock(issuetest.Morphine)
	s := newSession(t, src)

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Select(ctx, issuetest.RequestControlled) }()

	select {
	case <-gate.Entered:
	case <-time.After(2 * time.Second):
		t.Fatal("morphine lookup never started")
	}

	require.NoError(t, s.Select(ctx, issuetest.RequestCommon))
	gate.Release()

	select {
	case err := <-firstDone:
		assert.True(t, errors.Is(err, inventory.ErrSelectionSuperseded), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("first selection never returned")
	}

	st := s.State()
	require.NotNil(t, st.Selected)
	assert.Equal(t, issuetest.RequestCommon, st.Selected.ID)
	require.Len(t, st.Lines, 1)
	c := st.Lines[0]
	assert.Equal(t, issuetest.ColdMedicine, c.MaterialID)
	assert.True(t, c.AvailableStock.Equal(qty(500)))
	assert.Empty(t, c.LotStocks)
}

func TestSession_ChangeRequest_DropsSelectionAndLateResults(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()
	gate := src.HoldStock(issuetest.Morphine)
	s := newSession(t, src)

	done := make(chan error, 1)
	go func() { done <- s.Select(ctx, issuetest.RequestControlled) }()
	<-gate.Entered

	require.NoError(t, s.ChangeRequest())
	gate.Release()

	assert.True(t, errors.Is(<-done, inventory.ErrSelectionSuperseded))
	st := s.State()
	assert.Nil(t, st.Selected)
	assert.Empty(t, st.Lines)
	assert.Empty(t, s.IdempotencyKey())
}

func TestSession_DegradedLineBlocksSubmit(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()
	src.FailStock(issuetest.ColdMedicine, errors.New("timeout"))
	s := newSession(t, src, issue.WithClassifier(issue.NeverControlled))

	require.NoError(t, s.Select(ctx, issuetest.RequestCommon))

	c := stateLine(t, s.State(), issuetest.ColdMedicine)
	assert.True(t, c.Degraded)

	_, err := s.Submit(ctx)
	assert.True(t, errors.Is(err, inventory.ErrValidation))
	assert.Empty(t, src.Submissions())
}

func TestSession_SetView_KeepsForm(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, issuetest.Demo())
	require.NoError(t, s.Select(ctx, issuetest.RequestControlled))
	s.SetReceiverName("Lê Văn C")

	s.SetView(issue.ViewHistory)
	s.SetView(issue.ViewCreate)

	st := s.State()
	assert.Equal(t, "Lê Văn C", st.Form.ReceiverName)
	assert.Len(t, st.Lines, 2)
}

// =============================================================================
// SUBMISSION ORCHESTRATOR
// =============================================================================

// readyCommon selects request 102 with a non-controlled classifier, which
// leaves it valid as resolved.
func readyCommon(t *testing.T, src *issuetest.Memory, opts ...issue.Option) *issue.Session {
	t.Helper()
	opts = append([]issue.Option{issue.WithClassifier(issue.NeverControlled)}, opts...)
	s := newSession(t, src, opts...)
	require.NoError(t, s.Select(context.Background(), issuetest.RequestCommon))
	require.NoError(t, s.Validate())
	return s
}

func TestSession_Submit_NotReentrant(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()
	s := readyCommon(t, src)
	gate := src.HoldCreate()

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx)
		first <- err
	}()
	<-gate.Entered

	assert.True(t, s.State().Submitting)

	_, err := s.Submit(ctx)
	assert.True(t, errors.Is(err, inventory.ErrSubmitInProgress))
	assert.True(t, errors.Is(s.Select(ctx, issuetest.RequestControlled), inventory.ErrSubmitInProgress))
	assert.True(t, errors.Is(s.ChangeRequest(), inventory.ErrSubmitInProgress))

	gate.Release()
	require.NoError(t, <-first)

	assert.Len(t, src.Submissions(), 1)
	assert.False(t, s.State().Submitting)
}

func TestSession_Submit_TransportFailurePreservesState(t *testing.T) {
	// GIVEN: The backend is unreachable
	// WHEN: Submitting
	// THEN: Generic connectivity error, form untouched, retry reuses the key

	ctx := context.Background()
	src := issuetest.Demo()
	s := readyCommon(t, src)
	s.SetReceiverName("Trần Thị B (trực)")
	s.SetQuantity(issuetest.ColdMedicine, qty(80))
	before := s.State()
	key := s.IdempotencyKey()

	src.FailCreate(errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"))
	_, err := s.Submit(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, inventory.ErrTransport), "got %v", err)
	assert.True(t, inventory.IsRetryable(err))
	after := s.State()
	assert.Equal(t, before.Form, after.Form)
	assert.Equal(t, before.Lines, after.Lines)
	assert.Equal(t, before.Selected, after.Selected)
	assert.Equal(t, issue.ViewCreate, after.View)
	assert.Equal(t, key, s.IdempotencyKey())

	// WHEN: The backend comes back and the user retries
	src.FailCreate(nil)
	doc, err := s.Submit(ctx)

	require.NoError(t, err)
	subs := src.Submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, subs[0].IdempotencyKey, subs[1].IdempotencyKey)
	assert.Equal(t, "Trần Thị B (trực)", doc.ReceiverName)
	assert.True(t, doc.Lines[0].Qty.Equal(qty(80)))
}

func TestSession_Submit_RejectionKeepsServerMessage(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()
	s := readyCommon(t, src)

	src.FailCreate(&inventory.RejectedError{Op: "create issue", Status: 400, Message: "lot M001 has only 10 left"})
	_, err := s.Submit(ctx)

	assert.True(t, errors.Is(err, inventory.ErrRejected))
	assert.False(t, errors.Is(err, inventory.ErrTransport))
	assert.Contains(t, err.Error(), "only 10 left")
	assert.NotNil(t, s.State().Selected)
}

func TestSession_Submit_ValidationFailureSendsNothing(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()
	s := readyCommon(t, src)
	s.SetReceiverName(" ")

	_, err := s.Submit(ctx)

	assert.True(t, errors.Is(err, inventory.ErrValidation))
	assert.Empty(t, src.Submissions())
}

func TestSession_Submit_WithoutSelection(t *testing.T) {
	s := newSession(t, issuetest.Demo())

	_, err := s.Submit(context.Background())

	var ve *inventory.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, inventory.RuleRequestRequired, ve.Rule)
}

func TestSession_MissingIdentity(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()
	var signedIn atomic.Bool
	signedIn.Store(true)
	identity := issue.IdentityFunc(func() (inventory.UserID, bool) {
		return storekeeper, signedIn.Load()
	})

	s := issue.NewSession(src, identity,
		issue.WithClassifier(issue.NeverControlled),
		issue.WithClock(func() time.Time { return testNow }),
		issue.WithLogger(discardLogger()))
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Select(ctx, issuetest.RequestCommon))

	// WHEN: The session expires before submitting
	signedIn.Store(false)
	_, err := s.Submit(ctx)

	// THEN: Explicit sign-in error, nothing sent, form kept
	assert.True(t, errors.Is(err, inventory.ErrNoIdentity))
	assert.Empty(t, src.Submissions())
	assert.NotNil(t, s.State().Selected)
	assert.True(t, errors.Is(s.Load(ctx), inventory.ErrNoIdentity))
}

func TestSession_Submit_DefaultKeyIsUUID(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()
	s := issue.NewSession(src, issue.StaticIdentity(storekeeper),
		issue.WithClassifier(issue.NeverControlled),
		issue.WithLogger(discardLogger()))
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Select(ctx, issuetest.RequestCommon))

	assert.Len(t, s.IdempotencyKey(), 36)
}

func TestSession_NilClassifierMeansControlled(t *testing.T) {
	ctx := context.Background()
	src := issuetest.Demo()

	// GIVEN: A session configured with no classifier
	s := newSession(t, src, issue.WithClassifier(nil))
	require.NoError(t, s.Select(ctx, issuetest.RequestControlled))
	assert.True(t, s.State().Controlled)

	// WHEN: Submitting without drug info
	// THEN: The controlled rules apply
	s.SelectLot(issuetest.Morphine, issuetest.LotM001)
	s.SetDrugInfo(issuetest.Morphine, issue.FieldManufacturer, "")
	_, err := s.Submit(ctx)
	var ve *inventory.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, inventory.RuleManufacturerRequired, ve.Rule)

	// WHEN: Drug info is complete
	s.SetDrugInfo(issuetest.Morphine, issue.FieldManufacturer, "VN Pharma")
	s.SetDrugInfo(issuetest.Morphine, issue.FieldCountry, "Việt Nam")
	s.SetDrugInfo(issuetest.Fentanyl, issue.FieldManufacturer, "EuroPharm")
	s.SetDrugInfo(issuetest.Fentanyl, issue.FieldCountry, "Pháp")
	_, err = s.Submit(ctx)

	// THEN: Sent flagged as controlled
	require.NoError(t, err)
	subs := src.Submissions()
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Controlled)
}
