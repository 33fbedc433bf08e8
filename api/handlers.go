/*
handlers.go - HTTP API handlers for the medical materials store

PURPOSE:
  Exposes the development backend the issue and receipt screens talk to.
  Handles HTTP request/response, JSON serialization, and delegates to the
  SQLite store.

ENDPOINTS:
  Issues:
    GET    /api/issues/approved-requests    Approved requests not yet issued
    GET    /api/issues/my-issues            Issue documents created by the user
    POST   /api/issues/create-from-request  Create an issue document
    GET    /api/issues/classifier           Controlled-substance rule (JSON config)
    GET    /api/inventory/stock/{materialId} Stock and usable lots (unwrapped)
    GET    /api/inventory/movements/{materialId} Stock ledger of a material

  Approval:
    POST   /api/issue-requests              Create a withdrawal request
    GET    /api/issue-requests/pending      Pending requests
    POST   /api/issue-requests/{id}/approve Approve
    POST   /api/issue-requests/{id}/reject  Reject with a reason

  Receipts:
    POST   /api/receipts/create             Create a receipt, adding lots
    GET    /api/receipts/my-receipts        Receipts created by the user
    GET    /api/receipts/materials/search   Catalog search (?keyword=)
    GET    /api/receipts/materials/{id}     Material with stock and last receipt
    GET    /api/units                       Units of measure (unwrapped)

  Development:
    GET    /api/dev/scenarios               Demo data sets
    POST   /api/dev/seed                    Load a demo data set
    POST   /api/dev/reset                   Clear the database

IDENTITY:
  User-scoped endpoints read the numeric X-User-Id header. Missing or
  invalid values answer 401. Sign-in itself is not part of this backend.

IDEMPOTENCY:
  Create endpoints honor an Idempotency-Key header: a repeated key returns
  the document created by the first call.

ERROR HANDLING:
  Errors are returned in the envelope with success=false and a message:
  - 400: Validation errors, invalid input, insufficient stock
  - 401: Missing X-User-Id
  - 404: Resource not found
  - 409: Request not approved or not pending, create already in progress
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hmu/medventory/factory"
	"github.com/hmu/medventory/inventory"
	"github.com/hmu/medventory/issue"
	"github.com/hmu/medventory/store/sqlite"
)

const (
	HeaderUserID         = "X-User-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Locker serializes create calls for one withdrawal request.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Locker Locker

	// Classify marks issues controlled even when the client did not.
	Classify issue.Classifier

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with an in-process request lock. Replace
// Locker with a Redis-backed one when several backends share a database.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:    store,
		Locker:   NewLocalLocker(),
		Classify: issue.AlwaysControlled,
	}
}

// =============================================================================
// ISSUE HANDLERS
// =============================================================================

// ApprovedRequests returns requests that can be issued.
// GET /api/issues/approved-requests
func (h *Handler) ApprovedRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	requests, err := h.Store.RequestsByStatus(r.Context(), inventory.RequestApproved)
	if err != nil {
		writeStoreError(w, "Failed to load approved requests", err)
		return
	}
	writeData(w, http.StatusOK, toRequestDTOs(requests), "")
}

// MyIssues returns the caller's issue documents, newest first.
// GET /api/issues/my-issues
func (h *Handler) MyIssues(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	docs, err := h.Store.IssuesByUser(r.Context(), user)
	if err != nil {
		writeStoreError(w, "Failed to load issues", err)
		return
	}
	dtos := make([]IssueDTO, len(docs))
	for i, d := range docs {
		dtos[i] = ToIssueDTO(d)
	}
	writeData(w, http.StatusOK, dtos, "")
}

// Stock returns total stock and usable lots of a material, unwrapped.
// GET /api/inventory/stock/{materialId}
func (h *Handler) Stock(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "materialId")
	if !ok {
		return
	}

	info, err := h.Store.Stock(r.Context(), inventory.MaterialID(id))
	if err != nil {
		writeStoreError(w, "Failed to load stock", err)
		return
	}
	writeJSON(w, http.StatusOK, ToStockDTO(info))
}

// Movements returns the stock ledger of a material, oldest first.
// GET /api/inventory/movements/{materialId}
func (h *Handler) Movements(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "materialId")
	if !ok {
		return
	}

	movements, err := h.Store.Movements(r.Context(), inventory.MaterialID(id))
	if err != nil {
		writeStoreError(w, "Failed to load movements", err)
		return
	}
	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = ToMovementDTO(m)
	}
	writeData(w, http.StatusOK, dtos, "")
}

// CreateIssue creates an issue document from an approved request.
// POST /api/issues/create-from-request
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.IssueReqID == 0 {
		writeError(w, http.StatusBadRequest, "issueReqId is required")
		return
	}
	if strings.TrimSpace(req.ReceiverName) == "" {
		writeError(w, http.StatusBadRequest, "receiverName is required")
		return
	}
	if req.IssueDate.IsZero() {
		req.IssueDate = inventory.DateOf(h.Store.Now())
	}

	release, err := h.Locker.Acquire(ctx, fmt.Sprintf("issue-request:%d", req.IssueReqID))
	if err != nil {
		writeStoreError(w, "Failed to lock request", err)
		return
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[API] release lock for request %d: %v", req.IssueReqID, err)
		}
	}()

	sub := req.Model(r.Header.Get(HeaderIdempotencyKey))
	if !sub.Controlled {
		wr, err := h.Store.Request(ctx, sub.RequestID)
		if err != nil {
			writeStoreError(w, "Failed to load request", err)
			return
		}
		sub.Controlled = h.Classify.IsControlled(*wr)
	}

	doc, err := h.Store.CreateIssue(ctx, user, sub)
	if err != nil {
		writeStoreError(w, "Failed to create issue", err)
		return
	}
	writeData(w, http.StatusCreated, ToIssueDTO(*doc), fmt.Sprintf("Issue #%d created", doc.ID))
}

// Classifier returns the controlled-substance rule the server applies.
// GET /api/issues/classifier
func (h *Handler) Classifier(w http.ResponseWriter, r *http.Request) {
	cj, ok := factory.ToJSON(h.Classify)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Classifier has no JSON form")
		return
	}
	writeData(w, http.StatusOK, cj, "")
}

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

// CreateRequest creates a pending withdrawal request.
// POST /api/issue-requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.RequesterName) == "" || req.DepartmentID == 0 {
		writeError(w, http.StatusBadRequest, "requesterName and departmentId are required")
		return
	}

	record := sqlite.RequestRecord{
		CreatedBy:     user,
		RequesterName: strings.TrimSpace(req.RequesterName),
		DepartmentID:  req.DepartmentID,
		Note:          req.Note,
	}
	for _, d := range req.Details {
		record.Lines = append(record.Lines, sqlite.RequestLineRecord{MaterialID: d.MaterialID, Qty: d.QtyRequested})
	}

	created, err := h.Store.CreateRequest(r.Context(), record)
	if err != nil {
		writeStoreError(w, "Failed to create request", err)
		return
	}
	writeData(w, http.StatusCreated, ToRequestDTO(*created), fmt.Sprintf("Request #%d submitted", created.ID))
}

// PendingRequests returns requests waiting for a decision.
// GET /api/issue-requests/pending
func (h *Handler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	requests, err := h.Store.RequestsByStatus(r.Context(), inventory.RequestPending)
	if err != nil {
		writeStoreError(w, "Failed to load pending requests", err)
		return
	}
	writeData(w, http.StatusOK, toRequestDTOs(requests), "")
}

// ApproveRequest approves a pending request.
// POST /api/issue-requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// RejectRequest rejects a pending request.
// POST /api/issue-requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	ctx := r.Context()
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req DecisionRequest
	// body is optional
	json.NewDecoder(r.Body).Decode(&req)

	var err error
	if approve {
		err = h.Store.Approve(ctx, inventory.RequestID(id), user)
	} else {
		err = h.Store.Reject(ctx, inventory.RequestID(id), user, req.Reason)
	}
	if err != nil {
		writeStoreError(w, "Failed to update request", err)
		return
	}

	updated, err := h.Store.Request(ctx, inventory.RequestID(id))
	if err != nil {
		writeStoreError(w, "Failed to load request", err)
		return
	}
	writeData(w, http.StatusOK, ToRequestDTO(*updated), fmt.Sprintf("Request #%d %s", id, updated.Status))
}

// =============================================================================
// RECEIPT HANDLERS
// =============================================================================

// CreateReceipt stores a receipt and adds its lots to stock.
// POST /api/receipts/create
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ReceiptDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	created, err := h.Store.CreateReceipt(r.Context(), user, req.Model(r.Header.Get(HeaderIdempotencyKey)))
	if err != nil {
		writeStoreError(w, "Failed to create receipt", err)
		return
	}
	writeData(w, http.StatusCreated, ToReceiptDTO(*created), fmt.Sprintf("Receipt #%d created", created.ID))
}

// MyReceipts returns the caller's receipts, newest first.
// GET /api/receipts/my-receipts
func (h *Handler) MyReceipts(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	receipts, err := h.Store.ReceiptsByUser(r.Context(), user)
	if err != nil {
		writeStoreError(w, "Failed to load receipts", err)
		return
	}
	dtos := make([]ReceiptDTO, len(receipts))
	for i, rc := range receipts {
		dtos[i] = ToReceiptDTO(rc)
	}
	writeData(w, http.StatusOK, dtos, "")
}

// SearchMaterials finds catalog entries by name or code.
// GET /api/receipts/materials/search?keyword=
func (h *Handler) SearchMaterials(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		writeData(w, http.StatusOK, []MaterialDTO{}, "")
		return
	}

	materials, err := h.Store.SearchMaterials(r.Context(), keyword)
	if err != nil {
		writeStoreError(w, "Failed to search materials", err)
		return
	}
	dtos := make([]MaterialDTO, len(materials))
	for i, m := range materials {
		dtos[i] = ToMaterialDTO(m)
	}
	writeData(w, http.StatusOK, dtos, "")
}

// Material returns a catalog entry with stock and its last receipt.
// GET /api/receipts/materials/{id}
func (h *Handler) Material(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	m, err := h.Store.Material(r.Context(), inventory.MaterialID(id))
	if err != nil {
		writeStoreError(w, "Failed to load material", err)
		return
	}
	writeData(w, http.StatusOK, ToMaterialDTO(m), "")
}

// Units returns the units of measure as a bare array.
// GET /api/units
func (h *Handler) Units(w http.ResponseWriter, r *http.Request) {
	units, err := h.Store.Units(r.Context())
	if err != nil {
		writeStoreError(w, "Failed to load units", err)
		return
	}
	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = UnitDTO{ID: u.ID, Name: u.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data.
// POST /api/dev/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeStoreError(w, "Failed to reset database", err)
		return
	}
	h.setScenario("")
	writeData[any](w, http.StatusOK, nil, "Database reset")
}

// CurrentScenario returns the last loaded demo scenario, if any.
func (h *Handler) CurrentScenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData[T any](w http.ResponseWriter, status int, data T, message string) {
	writeJSON(w, status, Envelope[T]{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope[any]{Success: false, Message: message})
}

// writeStoreError maps store errors to a status. Client errors carry the
// store's message so the user sees which rule or material failed.
func writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case inventory.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrLocked),
		errors.Is(err, inventory.ErrInvalidStatus),
		errors.Is(err, inventory.ErrDuplicateSubmission),
		errors.Is(err, inventory.ErrRequestNotApproved):
		writeError(w, http.StatusConflict, err.Error())
	case inventory.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[API] %s: %v", op, err)
		writeError(w, http.StatusInternalServerError, op)
	}
}

// requireUser reads X-User-Id, answering 401 when it is missing.
func requireUser(w http.ResponseWriter, r *http.Request) (inventory.UserID, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderUserID)), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, inventory.ErrNoIdentity.Error())
		return 0, false
	}
	return inventory.UserID(id), true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func toRequestDTOs(requests []inventory.WithdrawalRequest) []RequestDTO {
	dtos := make([]RequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = ToRequestDTO(req)
	}
	return dtos
}

// =============================================================================
// LOCAL LOCK
// =============================================================================

// LocalLocker is the in-process Locker used without Redis.
type LocalLocker struct {
	held chan map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	l := &LocalLocker{held: make(chan map[string]struct{}, 1)}
	l.held <- map[string]struct{}{}
	return l
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	var held map[string]struct{}
	select {
	case held = <-l.held:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { l.held <- held }()

	if _, busy := held[key]; busy {
		return nil, fmt.Errorf("%s: %w", key, inventory.ErrLocked)
	}
	held[key] = struct{}{}

	return func(context.Context) error {
		m := <-l.held
		delete(m, key)
		l.held <- m
		return nil
	}, nil
}
