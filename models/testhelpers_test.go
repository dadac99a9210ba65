package models_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq int64

type testEnv struct {
	db          *gorm.DB
	catalog     *models.Catalog
	ledger      *models.Ledger
	configs     *models.ConfigurationRepo
	checker     *models.BuildabilityChecker
	coordinator *models.Coordinator
}

// newTestEnv opens a private in-memory sqlite database. A single connection
// keeps every goroutine on the same database and serializes transactions.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:mapframe_test_%d?mode=memory&cache=shared&_busy_timeout=5000", atomic.AddInt64(&testDBSeq, 1))
	db, err := config.OpenDatabase(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	catalog := models.NewCatalog(db)
	ledger := models.NewLedger(db, utils.NewLocalLocker())
	configs := models.NewConfigurationRepo(db, catalog)
	return &testEnv{
		db:          db,
		catalog:     catalog,
		ledger:      ledger,
		configs:     configs,
		checker:     models.NewBuildabilityChecker(catalog, ledger),
		coordinator: models.NewCoordinator(db, catalog, configs, ledger),
	}
}

func (e *testEnv) addMaterial(t *testing.T, id string, kind models.MaterialKind, onHand, threshold int) *models.Material {
	t.Helper()
	m, err := e.catalog.Create(context.Background(), &models.NewMaterial{
		ID:           id,
		Name:         id,
		Kind:         kind,
		UnitCost:     decimal.NewFromInt(2),
		OnHand:       onHand,
		LowThreshold: threshold,
	})
	if err != nil {
		t.Fatalf("create material %s: %v", id, err)
	}
	return m
}

func (e *testEnv) record(t *testing.T, id string) *models.InventoryRecord {
	t.Helper()
	r, err := e.ledger.Record(context.Background(), id)
	if err != nil {
		t.Fatalf("Record(%s): %v", id, err)
	}
	return r
}

func (e *testEnv) assertInvariants(t *testing.T) {
	t.Helper()
	records, err := e.ledger.List(context.Background())
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	for _, r := range records {
		if r.OnHand < 0 || r.Reserved < 0 || r.Reserved > r.OnHand {
			t.Fatalf("invariant broken for %s: on_hand=%d reserved=%d", r.MaterialId, r.OnHand, r.Reserved)
		}
	}
}

// layeredConfig builds a valid configuration with depths counted from the base.
func layeredConfig(frame string, layers ...string) *models.NewConfiguration {
	cfg := &models.NewConfiguration{
		Name:       "Custom map",
		MapStyle:   models.MapStyleMinimal,
		Location:   &models.NewLocation{Name: "Somewhere", Latitude: 10, Longitude: 20, ZoomLevel: 10},
		FrameStyle: &models.NewFrameStyle{StyleName: "Classic", MaterialId: frame},
		Size:       &models.NewSize{WidthMm: 300, HeightMm: 400},
	}
	for i, m := range layers {
		cfg.Layers = append(cfg.Layers, models.NewLayer{Depth: models.BaseLayerDepth + i, MaterialId: m})
	}
	return cfg
}

func drain(ch <-chan models.LowStockEvent) []models.LowStockEvent {
	var events []models.LowStockEvent
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}
