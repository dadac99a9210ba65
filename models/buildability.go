package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/shopspring/decimal"
)

// CheckResult is advisory: stock may be claimed by someone else between a
// buildable check and the reservation.
type CheckResult struct {
	Buildable     bool                   `json:"buildable"`
	Structural    []utils.FieldViolation `json:"structural,omitempty"`
	Shortages     []Shortage             `json:"shortages,omitempty"`
	Requirement   MaterialRequirement    `json:"requirement,omitempty"`
	EstimatedCost decimal.Decimal        `json:"estimated_cost"`
}

// Retryable is true only for stock shortages; a structural defect needs a
// different configuration.
func (r *CheckResult) Retryable() bool {
	return !r.Buildable && len(r.Structural) == 0 && len(r.Shortages) > 0
}

type BuildabilityChecker struct {
	catalog *Catalog
	ledger  *Ledger
}

func NewBuildabilityChecker(catalog *Catalog, ledger *Ledger) *BuildabilityChecker {
	return &BuildabilityChecker{catalog: catalog, ledger: ledger}
}

// Check never reserves anything.
func (b *BuildabilityChecker) Check(ctx context.Context, cfg *NewConfiguration, quantity int) (*CheckResult, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if err := ValidateStructure(ctx, b.catalog, cfg); err != nil {
		var structural *StructuralError
		if errors.As(err, &structural) {
			return &CheckResult{Structural: structural.Violations, EstimatedCost: decimal.Zero}, nil
		}
		return nil, err
	}

	req, err := Requirements(cfg, quantity)
	if err != nil {
		return nil, err
	}
	records, err := b.ledger.Records(ctx, req.MaterialIds())
	if err != nil {
		return nil, err
	}
	cost, err := Cost(ctx, b.catalog, cfg, quantity)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Requirement: req, EstimatedCost: cost}
	for _, id := range req.MaterialIds() {
		if avail := records[id].Available(); avail < req[id] {
			result.Shortages = append(result.Shortages, Shortage{MaterialId: id, Requested: req[id], Available: avail})
		}
	}
	result.Buildable = len(result.Shortages) == 0
	return result, nil
}
