package models

import (
	"database/sql/driver"
	"errors"
)

type MaterialKind string

const (
	MaterialKindWood    MaterialKind = "WOOD"
	MaterialKindAcrylic MaterialKind = "ACRYLIC"
)

func (mk MaterialKind) IsValid() bool {
	switch mk {
	case MaterialKindWood, MaterialKindAcrylic:
		return true
	}
	return false
}

func (mk *MaterialKind) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*mk = MaterialKind(v)
	case string:
		*mk = MaterialKind(v)
	default:
		return errors.New("type assertion to string failed")
	}
	return nil
}

func (mk MaterialKind) Value() (driver.Value, error) {
	return string(mk), nil
}

type MapStyle string

const (
	MapStyleMinimal    MapStyle = "MINIMAL"
	MapStyleRoad       MapStyle = "ROAD"
	MapStyleTerrain    MapStyle = "TERRAIN"
	MapStyleWatercolor MapStyle = "WATERCOLOR"
)

func (ms MapStyle) IsValid() bool {
	switch ms {
	case MapStyleMinimal, MapStyleRoad, MapStyleTerrain, MapStyleWatercolor:
		return true
	}
	return false
}

type ReservationStatus string

const (
	ReservationStatusPending  ReservationStatus = "PENDING"
	ReservationStatusReserved ReservationStatus = "RESERVED"
	ReservationStatusConsumed ReservationStatus = "CONSUMED"
	ReservationStatusReleased ReservationStatus = "RELEASED"
	ReservationStatusRejected ReservationStatus = "REJECTED"
)

func (rs ReservationStatus) IsTerminal() bool {
	switch rs {
	case ReservationStatusConsumed, ReservationStatusReleased, ReservationStatusRejected:
		return true
	}
	return false
}

func (rs *ReservationStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*rs = ReservationStatus(v)
	case string:
		*rs = ReservationStatus(v)
	default:
		return errors.New("type assertion to string failed")
	}
	return nil
}

func (rs ReservationStatus) Value() (driver.Value, error) {
	return string(rs), nil
}

type ReservationAction string

const (
	ReservationActionFulfill ReservationAction = "FULFILL"
	ReservationActionCancel  ReservationAction = "CANCEL"
	ReservationActionRefund  ReservationAction = "REFUND"
	ReservationActionReturn  ReservationAction = "RETURN"
)

type RejectReason string

const (
	RejectReasonStructural        RejectReason = "STRUCTURAL"
	RejectReasonInsufficientStock RejectReason = "INSUFFICIENT_STOCK"
	RejectReasonUnknownMaterial   RejectReason = "UNKNOWN_MATERIAL"
)

type LowStockEventKind string

const (
	LowStockRaised  LowStockEventKind = "RAISED"
	LowStockCleared LowStockEventKind = "CLEARED"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
