package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq int64

type fakePublisher struct {
	mu   sync.Mutex
	fail error
	sent []config.LowStockMessage
}

func (f *fakePublisher) PublishLowStock(ctx context.Context, msg config.LowStockMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg-%d", msg.AlertId), nil
}

// openLedger creates WOOD_WALNUT with 5 sheets and threshold 2 and reserves
// 3 of them, which raises one low-stock alert.
func openLedger(t *testing.T) (*gorm.DB, *models.Ledger) {
	t.Helper()
	dsn := fmt.Sprintf("file:mapframe_wf_%d?mode=memory&cache=shared&_busy_timeout=5000", atomic.AddInt64(&testDBSeq, 1))
	db, err := config.OpenDatabase(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	ctx := utils.SetCorrelationIdInContext(context.Background(), "corr-wf")
	if _, err := models.NewCatalog(db).Create(ctx, &models.NewMaterial{
		ID: "WOOD_WALNUT", Name: "Walnut", Kind: models.MaterialKindWood,
		UnitCost: decimal.NewFromInt(12), OnHand: 5, LowThreshold: 2,
	}); err != nil {
		t.Fatalf("create material: %v", err)
	}
	ledger := models.NewLedger(db, utils.NewLocalLocker())
	if err := ledger.Reserve(ctx, models.MaterialRequirement{"WOOD_WALNUT": 3}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	return db, ledger
}

func loadAlerts(t *testing.T, db *gorm.DB) []models.LowStockAlert {
	t.Helper()
	var alerts []models.LowStockAlert
	if err := db.Order("id").Find(&alerts).Error; err != nil {
		t.Fatalf("load alerts: %v", err)
	}
	return alerts
}

func TestDispatchOnce_PublishesPendingAlerts(t *testing.T) {
	db, ledger := openLedger(t)
	ctx := context.Background()
	if _, err := ledger.Restock(ctx, "WOOD_WALNUT", 10); err != nil {
		t.Fatalf("Restock: %v", err)
	}

	pub := &fakePublisher{}
	d := NewLowStockDispatcher(db, config.GetLogger(), pub)
	n, err := d.DispatchOnce(ctx)
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if n != 2 || len(pub.sent) != 2 {
		t.Fatalf("expected 2 published alerts, got %d (%d sent)", n, len(pub.sent))
	}
	if pub.sent[0].Kind != string(models.LowStockRaised) || pub.sent[0].Available != 2 || pub.sent[0].CorrelationId != "corr-wf" {
		t.Fatalf("unexpected first message %+v", pub.sent[0])
	}
	if pub.sent[1].Kind != string(models.LowStockCleared) || pub.sent[1].Available != 12 {
		t.Fatalf("unexpected second message %+v", pub.sent[1])
	}

	for _, a := range loadAlerts(t, db) {
		if a.PublishStatus != models.OutboxPublishStatusSent || a.PubSubMessageId == nil || a.PublishAttempts != 1 || a.LockedAt != nil {
			t.Fatalf("alert not marked sent: %+v", a)
		}
	}

	// nothing left to send
	if n, err := d.DispatchOnce(ctx); err != nil || n != 0 {
		t.Fatalf("expected empty second pass, got %d (%v)", n, err)
	}
}

func TestDispatchOnce_FailureBacksOffThenDies(t *testing.T) {
	db, _ := openLedger(t)
	ctx := context.Background()

	pub := &fakePublisher{fail: errors.New("topic unavailable")}
	d := NewLowStockDispatcher(db, config.GetLogger(), pub)
	d.MaxAttempts = 2
	d.InitialBackoff = time.Hour

	if n, err := d.DispatchOnce(ctx); err != nil || n != 0 {
		t.Fatalf("DispatchOnce: %d (%v)", n, err)
	}
	alerts := loadAlerts(t, db)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.PublishStatus != models.OutboxPublishStatusFailed || a.NextAttemptAt == nil || !a.NextAttemptAt.After(time.Now()) || a.LastPublishError == nil {
		t.Fatalf("alert not backed off: %+v", a)
	}

	// not due yet
	if _, err := d.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := loadAlerts(t, db)[0]; got.PublishAttempts != 1 {
		t.Fatalf("alert retried before its backoff elapsed: %+v", got)
	}

	// make it due; the second failure reaches MaxAttempts
	if err := db.Model(&models.LowStockAlert{}).Where("id = ?", a.ID).Update("next_attempt_at", nil).Error; err != nil {
		t.Fatalf("reset next_attempt_at: %v", err)
	}
	if _, err := d.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := loadAlerts(t, db)[0]; got.PublishStatus != models.OutboxPublishStatusDead || got.PublishAttempts != 2 {
		t.Fatalf("expected DEAD after max attempts, got %+v", got)
	}

	requeued, err := RequeueDead(ctx, db, nil)
	if err != nil || requeued != 1 {
		t.Fatalf("RequeueDead: %d (%v)", requeued, err)
	}
	pub.fail = nil
	if n, err := d.DispatchOnce(ctx); err != nil || n != 1 {
		t.Fatalf("expected requeued alert to publish, got %d (%v)", n, err)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d := &LowStockDispatcher{InitialBackoff: 5 * time.Second}
	if got := d.backoff(1); got != 5*time.Second {
		t.Fatalf("attempt 1: %s", got)
	}
	if got := d.backoff(3); got != 20*time.Second {
		t.Fatalf("attempt 3: %s", got)
	}
	if got := d.backoff(30); got != 10*time.Minute {
		t.Fatalf("attempt 30: %s", got)
	}
}
