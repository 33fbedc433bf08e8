/*
validator.go - Pre-submission checks for an issue draft

PURPOSE:
  Runs every rule over a Draft in a fixed order and stops at the first
  failure. The result is a single *inventory.ValidationError naming the
  rule and, for line rules, the material. Validation has no side effects.

RULE ORDER:
  1. A request is selected
  2. Receiver name is non-empty (after trimming)
  3. For each line, in request order:
     a. QtyIssued > 0
     b. QtyIssued <= QtyRequested
     c. Lot selected:            QtyIssued <= lot available
     d. No lots at all:          AvailableStock >= QtyIssued
     e. Lots exist, none chosen: fail, a lot must be chosen
     f. Controlled request:      manufacturer and country non-empty

SEE ALSO:
  - classify.go: Decides rule 3f
  - inventory/errors.go: ValidationError and Rule codes
*/
package issue

import (
	"fmt"
	"strings"

	"github.com/hmu/medventory/inventory"
)

// Validate checks d. A nil classifier means AlwaysControlled.
func Validate(d Draft, classify Classifier) error {
	if d.Request == nil {
		return &inventory.ValidationError{
			Rule:    inventory.RuleRequestRequired,
			Message: "please select an approved withdrawal request",
		}
	}

	if strings.TrimSpace(d.Form.ReceiverName) == "" {
		return &inventory.ValidationError{
			Rule:    inventory.RuleReceiverRequired,
			Message: "receiver name is required",
		}
	}

	if classify == nil {
		classify = AlwaysControlled
	}
	controlled := classify.IsControlled(*d.Request)

	for _, l := range d.Allocation.Lines() {
		if err := validateLine(l, controlled); err != nil {
			return err
		}
	}
	return nil
}

func validateLine(l AllocationLine, controlled bool) error {
	fail := func(rule inventory.Rule, format string, args ...any) error {
		return &inventory.ValidationError{
			Rule:         rule,
			MaterialID:   l.MaterialID,
			MaterialName: l.MaterialName,
			Message:      fmt.Sprintf(format, args...),
		}
	}

	if !l.QtyIssued.IsPositive() {
		return fail(inventory.RuleQtyNotPositive,
			"issue quantity for %s must be greater than 0", l.MaterialName)
	}

	if l.QtyIssued.GreaterThan(l.QtyRequested) {
		return fail(inventory.RuleQtyExceedsRequested,
			"issue quantity for %s must not exceed the requested quantity (%s)", l.MaterialName, l.QtyRequested)
	}

	if l.SelectedLot != nil && l.QtyIssued.GreaterThan(l.SelectedLot.Available) {
		return fail(inventory.RuleQtyExceedsLot,
			"issue quantity for %s exceeds the stock of lot %s (%s left)",
			l.MaterialName, l.SelectedLot.LotNumber, l.SelectedLot.Available)
	}

	if l.SelectedLot == nil && !l.IsLotTracked() && l.AvailableStock.LessThan(l.QtyIssued) {
		return fail(inventory.RuleInsufficientStock,
			"not enough stock for %s (%s left)", l.MaterialName, l.AvailableStock)
	}

	if l.IsLotTracked() && l.SelectedLot == nil {
		return fail(inventory.RuleLotRequired,
			"%s is lot-tracked: must choose a lot", l.MaterialName)
	}

	if controlled {
		if strings.TrimSpace(l.Manufacturer) == "" {
			return fail(inventory.RuleManufacturerRequired,
				"manufacturer is required for %s", l.MaterialName)
		}
		if strings.TrimSpace(l.Country) == "" {
			return fail(inventory.RuleCountryRequired,
				"country of origin is required for %s", l.MaterialName)
		}
	}
	return nil
}
