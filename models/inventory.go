package models

import (
	"time"
)

// InventoryRecord is the stock position of one material.
// on_hand >= 0, reserved >= 0 and reserved <= on_hand hold after every commit;
// the CHECK constraints back up the guarded UPDATEs in LedgerTx.
type InventoryRecord struct {
	MaterialId   string    `gorm:"primaryKey;size:64" json:"material_id"`
	OnHand       int       `gorm:"not null;default:0;check:chk_inventory_on_hand,on_hand >= 0" json:"on_hand"`
	Reserved     int       `gorm:"not null;default:0;check:chk_inventory_reserved,reserved >= 0 AND reserved <= on_hand" json:"reserved"`
	LowThreshold int       `gorm:"not null;default:0;check:chk_inventory_low_threshold,low_threshold >= 0" json:"low_threshold"`
	IsLowStock   bool      `gorm:"not null;default:false;index" json:"is_low_stock"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Material *Material `gorm:"foreignKey:MaterialId;references:ID" json:"material,omitempty"`
}

func (r InventoryRecord) Available() int {
	return r.OnHand - r.Reserved
}

// inclusive: available <= threshold is low. Otherwise strictly below.
func (r InventoryRecord) belowThreshold(inclusive bool) bool {
	if inclusive {
		return r.Available() <= r.LowThreshold
	}
	return r.Available() < r.LowThreshold
}

// InventoryView is the JSON shape returned by the API.
type InventoryView struct {
	MaterialId   string    `json:"material_id"`
	OnHand       int       `json:"on_hand"`
	Reserved     int       `json:"reserved"`
	Available    int       `json:"available"`
	LowThreshold int       `json:"low_threshold"`
	IsLowStock   bool      `json:"is_low_stock"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r InventoryRecord) View() InventoryView {
	return InventoryView{
		MaterialId:   r.MaterialId,
		OnHand:       r.OnHand,
		Reserved:     r.Reserved,
		Available:    r.Available(),
		LowThreshold: r.LowThreshold,
		IsLowStock:   r.IsLowStock,
		UpdatedAt:    r.UpdatedAt,
	}
}
