/*
Package client talks to the medventory REST API.

PURPOSE:
  The backend as the issue and receipt sessions see it. Client implements
  issue.DataSource and receipt.Source over HTTP, so a session can run
  against a real server as well as the in-memory fixtures.

ERRORS:
  - Server answered with an error status or success=false:
      *inventory.RejectedError carrying the server's message
  - Request could not be sent, or the body could not be decoded:
      *inventory.TransportError

HEADERS:
  X-User-Id         Sent on every user-scoped call
  Idempotency-Key   Sent on create calls when the payload carries a key

USAGE:
  c := client.New(client.DefaultBaseURL)
  session := issue.NewSession(c, issue.StaticIdentity(7))
  if err := session.Load(ctx); err != nil { ... }

SEE ALSO:
  - api/dto.go: Wire shapes shared with the server
  - issue/source.go: DataSource
  - receipt/session.go: Source
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hmu/medventory/api"
	"github.com/hmu/medventory/inventory"
)

const DefaultBaseURL = "http://localhost:8080/api"

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// =============================================================================
// ISSUES
// =============================================================================

func (c *Client) ApprovedRequests(ctx context.Context, user inventory.UserID) ([]inventory.WithdrawalRequest, error) {
	var dtos []api.RequestDTO
	if err := c.enveloped(ctx, "approved requests", http.MethodGet, "/issues/approved-requests", user, "", nil, &dtos); err != nil {
		return nil, err
	}
	requests := make([]inventory.WithdrawalRequest, len(dtos))
	for i, d := range dtos {
		requests[i] = d.Model()
	}
	return requests, nil
}

func (c *Client) IssueHistory(ctx context.Context, user inventory.UserID) ([]inventory.IssueDocument, error) {
	var dtos []api.IssueDTO
	if err := c.enveloped(ctx, "issue history", http.MethodGet, "/issues/my-issues", user, "", nil, &dtos); err != nil {
		return nil, err
	}
	docs := make([]inventory.IssueDocument, len(dtos))
	for i, d := range dtos {
		docs[i] = d.Model()
	}
	return docs, nil
}

// Stock is the one endpoint answering without an envelope.
func (c *Client) Stock(ctx context.Context, id inventory.MaterialID) (inventory.StockInfo, error) {
	var dto api.StockDTO
	path := "/inventory/stock/" + strconv.FormatInt(int64(id), 10)
	if err := c.do(ctx, "stock", http.MethodGet, path, 0, "", nil, &dto); err != nil {
		return inventory.StockInfo{}, err
	}
	return dto.Model(id), nil
}

func (c *Client) CreateIssue(ctx context.Context, user inventory.UserID, sub inventory.IssueSubmission) (*inventory.IssueDocument, error) {
	var dto api.IssueDTO
	err := c.enveloped(ctx, "create issue", http.MethodPost, "/issues/create-from-request", user,
		sub.IdempotencyKey, api.ToCreateIssueRequest(sub), &dto)
	if err != nil {
		return nil, err
	}
	doc := dto.Model()
	return &doc, nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (c *Client) SearchMaterials(ctx context.Context, keyword string) ([]inventory.Material, error) {
	var dtos []api.MaterialDTO
	path := "/receipts/materials/search?keyword=" + url.QueryEscape(keyword)
	if err := c.enveloped(ctx, "search materials", http.MethodGet, path, 0, "", nil, &dtos); err != nil {
		return nil, err
	}
	materials := make([]inventory.Material, len(dtos))
	for i, d := range dtos {
		materials[i] = d.Model()
	}
	return materials, nil
}

func (c *Client) Material(ctx context.Context, id inventory.MaterialID) (inventory.Material, error) {
	var dto api.MaterialDTO
	path := "/receipts/materials/" + strconv.FormatInt(int64(id), 10)
	if err := c.enveloped(ctx, "material", http.MethodGet, path, 0, "", nil, &dto); err != nil {
		return inventory.Material{}, err
	}
	return dto.Model(), nil
}

func (c *Client) Units(ctx context.Context) ([]inventory.Unit, error) {
	var dtos []api.UnitDTO
	if err := c.do(ctx, "units", http.MethodGet, "/units", 0, "", nil, &dtos); err != nil {
		return nil, err
	}
	units := make([]inventory.Unit, len(dtos))
	for i, d := range dtos {
		units[i] = inventory.Unit{ID: d.ID, Name: d.Name}
	}
	return units, nil
}

func (c *Client) MyReceipts(ctx context.Context, user inventory.UserID) ([]inventory.Receipt, error) {
	var dtos []api.ReceiptDTO
	if err := c.enveloped(ctx, "receipts", http.MethodGet, "/receipts/my-receipts", user, "", nil, &dtos); err != nil {
		return nil, err
	}
	receipts := make([]inventory.Receipt, len(dtos))
	for i, d := range dtos {
		receipts[i] = d.Model("")
	}
	return receipts, nil
}

func (c *Client) CreateReceipt(ctx context.Context, user inventory.UserID, r inventory.Receipt) (*inventory.Receipt, error) {
	var dto api.ReceiptDTO
	err := c.enveloped(ctx, "create receipt", http.MethodPost, "/receipts/create", user,
		r.IdempotencyKey, api.ToReceiptDTO(r), &dto)
	if err != nil {
		return nil, err
	}
	created := dto.Model(r.IdempotencyKey)
	return &created, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// enveloped calls the API and unwraps {success, data, message} into out.
func (c *Client) enveloped(ctx context.Context, op, method, path string, user inventory.UserID, key string, body, out any) error {
	var env api.Envelope[json.RawMessage]
	if err := c.do(ctx, op, method, path, user, key, body, &env); err != nil {
		return err
	}
	if !env.Success {
		return &inventory.RejectedError{Op: op, Status: http.StatusOK, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &inventory.TransportError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, user inventory.UserID, key string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return &inventory.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != 0 {
		req.Header.Set(api.HeaderUserID, strconv.FormatInt(int64(user), 10))
	}
	if key != "" {
		req.Header.Set(api.HeaderIdempotencyKey, key)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &inventory.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &inventory.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env api.Envelope[json.RawMessage]
		// error bodies that are not envelopes still reject with the status
		json.Unmarshal(raw, &env)
		return &inventory.RejectedError{Op: op, Status: resp.StatusCode, Message: env.Message}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &inventory.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
