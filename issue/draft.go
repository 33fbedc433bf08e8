package issue

import (
	"github.com/hmu/medventory/inventory"
)

// ReceiverForm is the receiver sub-form of the issue screen.
type ReceiverForm struct {
	ReceiverName string
	DepartmentID inventory.DepartmentID
	IssueDate    inventory.Date
}

// DefaultForm is the form before any request is selected.
func DefaultForm(today inventory.Date) ReceiverForm {
	return ReceiverForm{IssueDate: today}
}

// FormFor derives the form defaults from a selected request: the receiver
// is the requester and the department is the requesting department.
func FormFor(req inventory.WithdrawalRequest, today inventory.Date) ReceiverForm {
	return ReceiverForm{
		ReceiverName: req.RequesterName,
		DepartmentID: req.DepartmentID,
		IssueDate:    today,
	}
}

// Draft is a snapshot of everything that goes into an issue document.
type Draft struct {
	Request    *inventory.WithdrawalRequest
	Form       ReceiverForm
	Allocation Allocation
}

// Submission builds the create payload from the draft. Call Validate first.
func (d Draft) Submission(controlled bool, idempotencyKey string) inventory.IssueSubmission {
	sub := inventory.IssueSubmission{
		ReceiverName:   d.Form.ReceiverName,
		DepartmentID:   d.Form.DepartmentID,
		IssueDate:      d.Form.IssueDate,
		Controlled:     controlled,
		IdempotencyKey: idempotencyKey,
	}
	if d.Request != nil {
		sub.RequestID = d.Request.ID
	}
	for _, l := range d.Allocation.Lines() {
		sub.Lines = append(sub.Lines, inventory.IssueSubmissionLine{
			MaterialID:   l.MaterialID,
			LotID:        l.SelectedLotID(),
			Qty:          l.QtyIssued,
			Manufacturer: l.Manufacturer,
			Country:      l.Country,
		})
	}
	return sub
}
