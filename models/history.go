package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"gorm.io/gorm"
)

const (
	HistoryReferenceReservation = "reservations"
	HistoryReferenceInventory   = "inventory_records"
)

type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:20;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   string    `gorm:"size:64;index" json:"reference_id"`
	ReferenceType string    `gorm:"size:255" json:"reference_type"`
	UserId        int       `gorm:"index;not null;default:0" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	actionType string,
	referenceId string,
	referenceType string,
	before interface{},
	after interface{},
	description string) error {

	var history History

	if before != nil {
		b, err := utils.MarshalToJSON(before)
		if err != nil {
			return err
		}
		history.Before = b
	}
	if after != nil {
		a, err := utils.MarshalToJSON(after)
		if err != nil {
			return err
		}
		history.After = a
	}

	ctx := tx.Statement.Context
	// requests without a signed-in user are recorded as System
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok || userName == "" {
		userName = "System"
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	history.ActionType = actionType
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.UserId = userId
	history.UserName = userName
	history.CorrelationId = correlationId

	return tx.Create(&history).Error
}

func ListHistories(ctx context.Context, db *gorm.DB, referenceType string, referenceId string) ([]*History, error) {
	var histories []*History
	err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id ASC").
		Find(&histories).Error
	return histories, err
}
