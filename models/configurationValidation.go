package models

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/shopspring/decimal"
)

// ValidateStructure checks cfg on its own terms: required parts, value
// ranges, layer depth layout and that every referenced material exists.
// All defects are collected into one *StructuralError. Other errors are
// infrastructure failures.
func ValidateStructure(ctx context.Context, catalog *Catalog, cfg *NewConfiguration) error {
	if cfg == nil {
		return &StructuralError{Violations: []utils.FieldViolation{{Field: "configuration", Message: "is required"}}}
	}
	violations, err := utils.ValidateStruct(cfg)
	if err != nil {
		return err
	}
	violations = append(violations, layerDepthViolations(cfg.Layers)...)

	materialViolations, err := materialReferenceViolations(ctx, catalog, cfg)
	if err != nil {
		return err
	}
	violations = append(violations, materialViolations...)

	if len(violations) > 0 {
		return &StructuralError{Violations: violations}
	}
	return nil
}

// depths must be unique and run BaseLayerDepth, BaseLayerDepth+1, ... without gaps
func layerDepthViolations(layers []NewLayer) []utils.FieldViolation {
	if len(layers) == 0 {
		return nil
	}
	var violations []utils.FieldViolation
	seen := make(map[int]bool, len(layers))
	for i, l := range layers {
		if seen[l.Depth] {
			violations = append(violations, utils.FieldViolation{
				Field:   fmt.Sprintf("layers[%d].depth", i),
				Message: fmt.Sprintf("duplicate depth %d", l.Depth),
			})
		}
		seen[l.Depth] = true
	}
	for want := BaseLayerDepth; want < BaseLayerDepth+len(layers); want++ {
		if !seen[want] {
			violations = append(violations, utils.FieldViolation{
				Field:   "layers",
				Message: fmt.Sprintf("depths must be contiguous from %d: missing depth %d", BaseLayerDepth, want),
			})
			break
		}
	}
	return violations
}

func materialReferenceViolations(ctx context.Context, catalog *Catalog, cfg *NewConfiguration) ([]utils.FieldViolation, error) {
	type ref struct {
		field      string
		materialId string
	}
	var refs []ref
	if cfg.FrameStyle != nil && cfg.FrameStyle.MaterialId != "" {
		refs = append(refs, ref{"frame_style.material_id", cfg.FrameStyle.MaterialId})
	}
	for i, l := range cfg.Layers {
		if l.MaterialId != "" {
			refs = append(refs, ref{fmt.Sprintf("layers[%d].material_id", i), l.MaterialId})
		}
	}

	var violations []utils.FieldViolation
	known := make(map[string]bool)
	for _, r := range refs {
		exists, checked := known[r.materialId]
		if !checked {
			_, err := catalog.Get(ctx, r.materialId)
			switch {
			case err == nil:
				exists = true
			case errors.Is(err, ErrUnknownMaterial):
				exists = false
			default:
				return nil, err
			}
			known[r.materialId] = exists
		}
		if !exists {
			violations = append(violations, utils.FieldViolation{
				Field:   r.field,
				Message: fmt.Sprintf("unknown material %s", r.materialId),
			})
		}
	}
	return violations, nil
}

func sortedLayers(layers []NewLayer) []NewLayer {
	out := make([]NewLayer, len(layers))
	copy(out, layers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out
}

// Cost sums the unit cost of every material unit needed for quantity copies.
func Cost(ctx context.Context, catalog *Catalog, cfg *NewConfiguration, quantity int) (decimal.Decimal, error) {
	req, err := Requirements(cfg, quantity)
	if err != nil {
		return decimal.Zero, err
	}
	materials, err := catalog.GetMany(ctx, req.MaterialIds())
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, id := range req.MaterialIds() {
		total = total.Add(materials[id].UnitCost.Mul(decimal.NewFromInt(int64(req[id]))))
	}
	return total, nil
}
