package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AlertPublisher delivers one low-stock alert and returns the broker message id.
type AlertPublisher interface {
	PublishLowStock(ctx context.Context, msg config.LowStockMessage) (string, error)
}

// PubSubPublisher publishes to the LOW_STOCK_TOPIC topic.
type PubSubPublisher struct{}

func (PubSubPublisher) PublishLowStock(ctx context.Context, msg config.LowStockMessage) (string, error) {
	return config.PublishLowStockAlert(ctx, msg)
}

// LogPublisher is used when Pub/Sub is not configured; alerts only reach the log.
type LogPublisher struct {
	Logger *logrus.Logger
}

func (p LogPublisher) PublishLowStock(ctx context.Context, msg config.LowStockMessage) (string, error) {
	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"field":          "LowStockAlert",
			"alert_id":       msg.AlertId,
			"material_id":    msg.MaterialId,
			"kind":           msg.Kind,
			"available":      msg.Available,
			"low_threshold":  msg.LowThreshold,
			"correlation_id": msg.CorrelationId,
		}).Warn("low stock " + msg.Kind)
	}
	return fmt.Sprintf("log-%d", msg.AlertId), nil
}

// NewAlertPublisher picks Pub/Sub when it is configured.
func NewAlertPublisher(logger *logrus.Logger) AlertPublisher {
	if config.PubSubConfigured() {
		return PubSubPublisher{}
	}
	return LogPublisher{Logger: logger}
}

type LowStockDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    AlertPublisher
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewLowStockDispatcher(db *gorm.DB, logger *logrus.Logger, publisher AlertPublisher) *LowStockDispatcher {
	return &LowStockDispatcher{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *LowStockDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(d.Logger, "LowStockDispatcher", "Run", "claim batch", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch of due alerts and publishes them in id order.
// It returns the number of alerts that were published.
func (d *LowStockDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)
	if d.DB == nil {
		return 0, nil
	}

	var claimed []models.LowStockAlert
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING with a stale lock (dispatcher died mid-batch)
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.LowStockAlert{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.LowStockAlert{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	published := 0
	for _, alert := range claimed {
		if alert.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		msgId, pubErr := d.Publisher.PublishLowStock(ctx, models.ConvertToLowStockMessage(alert))
		if pubErr != nil {
			d.markPublishFailed(ctx, alert, pubErr)
			continue
		}
		d.markPublishSent(ctx, alert.ID, msgId)
		published++
	}
	return published, nil
}

func (d *LowStockDispatcher) markPublishSent(ctx context.Context, alertId int, messageId string) {
	now := time.Now().UTC()
	err := d.DB.WithContext(ctx).Model(&models.LowStockAlert{}).
		Where("id = ?", alertId).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &messageId,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
	if err != nil {
		config.LogError(d.Logger, "LowStockDispatcher", "markPublishSent", "update alert", alertId, err)
	}
}

func (d *LowStockDispatcher) markPublishFailed(ctx context.Context, alert models.LowStockAlert, pubErr error) {
	db := d.DB.WithContext(ctx)
	msg := pubErr.Error()
	attempt := alert.PublishAttempts

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&models.LowStockAlert{}).
			Where("id = ?", alert.ID).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error

		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":       "LowStockDispatcher",
				"material_id": alert.MaterialId,
				"alert_id":    alert.ID,
				"attempt":     attempt,
			}).Error("low-stock alert moved to DEAD after max attempts: " + msg)
		}
		return
	}

	next := time.Now().UTC().Add(d.backoff(attempt))
	_ = db.Model(&models.LowStockAlert{}).
		Where("id = ?", alert.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "LowStockDispatcher",
			"material_id":     alert.MaterialId,
			"alert_id":        alert.ID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("low-stock alert publish failed: " + msg)
	}
}

// doubles per attempt, capped at ten minutes
func (d *LowStockDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return backoff
}

// RequeueDead moves DEAD alerts back to PENDING with a fresh attempt budget.
// No ids means every DEAD alert.
func RequeueDead(ctx context.Context, db *gorm.DB, alertIds []int) (int64, error) {
	q := db.WithContext(ctx).Model(&models.LowStockAlert{}).
		Where("publish_status = ?", models.OutboxPublishStatusDead)
	if len(alertIds) > 0 {
		q = q.Where("id IN ?", alertIds)
	}
	res := q.Updates(map[string]interface{}{
		"publish_status":   models.OutboxPublishStatusPending,
		"publish_attempts": 0,
		"next_attempt_at":  nil,
	})
	return res.RowsAffected, res.Error
}
