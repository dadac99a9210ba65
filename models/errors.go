package models

import (
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
)

var (
	ErrUnknownMaterial       = errors.New("unknown material")
	ErrInvalidQuantity       = errors.New("quantity must be a positive integer")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrConfigurationLocked   = errors.New("configuration is locked by a placed order")
	ErrDuplicateMaterial     = errors.New("material already exists")
	ErrOrderLineRequired     = errors.New("order line id is required")
	ErrConfigurationChanged  = errors.New("configuration changed while the order was being placed")
	ErrInventoryRowChanged   = errors.New("inventory row changed while locked")
)

// UnknownMaterialError names the material that does not exist.
// errors.Is(err, ErrUnknownMaterial) matches it.
type UnknownMaterialError struct {
	MaterialId string
}

func (e *UnknownMaterialError) Error() string {
	return fmt.Sprintf("unknown material %q", e.MaterialId)
}

func (e *UnknownMaterialError) Unwrap() error {
	return ErrUnknownMaterial
}

// StructuralError lists every defect found in a configuration. It never
// becomes valid by retrying.
type StructuralError struct {
	Violations []utils.FieldViolation
}

func (e *StructuralError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+" "+v.Message)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// HasField reports whether any violation is on field.
func (e *StructuralError) HasField(field string) bool {
	for _, v := range e.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

type Shortage struct {
	MaterialId string `json:"material_id"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
}

func (s Shortage) Shortfall() int {
	return s.Requested - s.Available
}

// InsufficientStockError carries every short material, sorted by material id.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.MaterialId, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

// First is the shortage with the lowest material id.
func (e *InsufficientStockError) First() Shortage {
	if len(e.Shortages) == 0 {
		return Shortage{}
	}
	return e.Shortages[0]
}

type OverReleaseError struct {
	MaterialId string
	Requested  int
	Reserved   int
}

func (e *OverReleaseError) Error() string {
	return fmt.Sprintf("cannot release %d of %s: only %d reserved", e.Requested, e.MaterialId, e.Reserved)
}

type InvalidTransitionError struct {
	From   ReservationStatus
	Action ReservationAction
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a reservation in status %s", strings.ToLower(string(e.Action)), e.From)
}

// Retryable reports whether the same request may succeed later without change.
func Retryable(err error) bool {
	var stock *InsufficientStockError
	if errors.As(err, &stock) {
		return true
	}
	if errors.Is(err, utils.ErrLockNotObtained) || errors.Is(err, ErrConfigurationChanged) {
		return true
	}
	return utils.IsRetryableTxError(err)
}
