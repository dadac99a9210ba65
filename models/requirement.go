package models

import (
	"sort"

	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
)

// MaterialRequirement maps material id to the units one order needs.
type MaterialRequirement map[string]int

// MaterialIds returns the keys in ascending order, which is also the order
// rows are locked and shortages are reported in.
func (r MaterialRequirement) MaterialIds() []string {
	return utils.SortedKeys(r)
}

func (r MaterialRequirement) LockKeys() []string {
	keys := make([]string, 0, len(r))
	for _, id := range r.MaterialIds() {
		keys = append(keys, utils.MaterialLockKey(id))
	}
	return keys
}

func (r MaterialRequirement) Validate() error {
	if len(r) == 0 {
		return ErrInvalidQuantity
	}
	for _, qty := range r {
		if qty <= 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}

func (r MaterialRequirement) Equal(other MaterialRequirement) bool {
	if len(r) != len(other) {
		return false
	}
	for id, qty := range r {
		if other[id] != qty {
			return false
		}
	}
	return true
}

func (r MaterialRequirement) Total() int {
	total := 0
	for _, qty := range r {
		total += qty
	}
	return total
}

// Requirements derives the material units needed to build quantity copies of cfg.
// Every frame style and layer reference costs one unit of its material.
func Requirements(cfg *NewConfiguration, quantity int) (MaterialRequirement, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	req := make(MaterialRequirement)
	if cfg.FrameStyle != nil && cfg.FrameStyle.MaterialId != "" {
		req[cfg.FrameStyle.MaterialId] += quantity
	}
	for _, layer := range cfg.Layers {
		if layer.MaterialId == "" {
			continue
		}
		req[layer.MaterialId] += quantity
	}
	return req, nil
}

func sortStrings(s []string) []string {
	sort.Strings(s)
	return s
}
