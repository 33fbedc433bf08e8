/*
source.go - Data-source capability behind the issue workflow

PURPOSE:
  Defines the interface between the issue workflow and the backend.
  The workflow never knows whether it talks to the REST backend or to
  fixtures; it only sees DataSource.

KEY INTERFACES:
  StockSource: Stock lookup for a single material (used by Resolver)
  DataSource:  Everything the Session needs (requests, history, stock, create)
  Identity:    Who is signed in (session storage lives elsewhere)

IMPLEMENTATIONS:
  - client/client.go: REST backend
  - issue/issuetest/memory.go: Fixtures, for tests only

SEE ALSO:
  - resolver.go: Uses StockSource
  - session.go: Uses DataSource and Identity
*/
package issue

import (
	"context"

	"github.com/hmu/medventory/inventory"
)

// StockSource looks up current stock for one material.
type StockSource interface {
	Stock(ctx context.Context, materialID inventory.MaterialID) (inventory.StockInfo, error)
}

// DataSource is the backend as the issue workflow sees it.
type DataSource interface {
	StockSource

	// ApprovedRequests returns approved requests waiting to be issued, in display order.
	ApprovedRequests(ctx context.Context, user inventory.UserID) ([]inventory.WithdrawalRequest, error)

	// IssueHistory returns issue documents created by the user, in display order.
	IssueHistory(ctx context.Context, user inventory.UserID) ([]inventory.IssueDocument, error)

	// CreateIssue creates one issue document. Exactly one call per submission.
	CreateIssue(ctx context.Context, user inventory.UserID, sub inventory.IssueSubmission) (*inventory.IssueDocument, error)
}

// Identity reports the signed-in user.
type Identity interface {
	CurrentUser() (inventory.UserID, bool)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func() (inventory.UserID, bool)

func (f IdentityFunc) CurrentUser() (inventory.UserID, bool) { return f() }

// StaticIdentity is a fixed signed-in user. Zero means signed out.
type StaticIdentity inventory.UserID

func (s StaticIdentity) CurrentUser() (inventory.UserID, bool) {
	return inventory.UserID(s), s != 0
}
