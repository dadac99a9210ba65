package models

import (
	"time"
)

// Reservation is the inventory committed to one order line. Quantities are
// fixed at creation; afterwards only the status and its timestamps change.
type Reservation struct {
	ID              string              `gorm:"primaryKey;size:36" json:"id"`
	OrderLineId     string              `gorm:"size:64;not null;index" json:"order_line_id"`
	ConfigurationId *int                `gorm:"index" json:"configuration_id"`
	Quantity        int                 `gorm:"not null" json:"quantity"`
	OrderSource     string              `gorm:"size:50" json:"order_source,omitempty"`
	Status          ReservationStatus   `gorm:"size:20;not null;index" json:"status"`
	RejectReason    *RejectReason       `gorm:"size:30" json:"reject_reason"`
	RejectDetail    string              `gorm:"type:text" json:"reject_detail,omitempty"`
	ReleasedVia     *ReservationAction  `gorm:"size:20" json:"released_via"`
	ReservedAt      *time.Time          `json:"reserved_at"`
	ConsumedAt      *time.Time          `json:"consumed_at"`
	ReleasedAt      *time.Time          `json:"released_at"`
	ReturnedAt      *time.Time          `json:"returned_at"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
	Details         []ReservationDetail `gorm:"foreignKey:ReservationId" json:"details"`
}

type ReservationDetail struct {
	ID            int    `gorm:"primary_key" json:"id"`
	ReservationId string `gorm:"size:36;not null;uniqueIndex:idx_reservation_material,priority:1" json:"reservation_id"`
	MaterialId    string `gorm:"size:64;not null;uniqueIndex:idx_reservation_material,priority:2" json:"material_id"`
	Quantity      int    `gorm:"not null" json:"quantity"`
}

// Requirement rebuilds the reserved quantities from the detail rows.
func (r *Reservation) Requirement() MaterialRequirement {
	req := make(MaterialRequirement, len(r.Details))
	for _, d := range r.Details {
		req[d.MaterialId] += d.Quantity
	}
	return req
}

func (r *Reservation) LockKeys() []string {
	return r.Requirement().LockKeys()
}

// snapshot is the shape written to History before/after columns.
type reservationSnapshot struct {
	Status      ReservationStatus   `json:"status"`
	ReleasedVia *ReservationAction  `json:"released_via,omitempty"`
	ReturnedAt  *time.Time          `json:"returned_at,omitempty"`
	Requirement MaterialRequirement `json:"requirement"`
}

func (r *Reservation) snapshot() reservationSnapshot {
	return reservationSnapshot{
		Status:      r.Status,
		ReleasedVia: r.ReleasedVia,
		ReturnedAt:  r.ReturnedAt,
		Requirement: r.Requirement(),
	}
}
