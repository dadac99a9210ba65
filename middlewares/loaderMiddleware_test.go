package middlewares

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:mapframe_mw_%d?mode=memory&cache=shared&_busy_timeout=5000", atomic.AddInt64(&testDBSeq, 1))
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
	return db
}

func seed(t *testing.T, db *gorm.DB) (*models.ProductConfiguration, *models.ProductConfiguration) {
	t.Helper()
	ctx := context.Background()
	catalog := models.NewCatalog(db)
	for _, id := range []string{"ACRYLIC_BLUE", "WOOD_MAPLE", "WOOD_WALNUT"} {
		kind := models.MaterialKindWood
		if id == "ACRYLIC_BLUE" {
			kind = models.MaterialKindAcrylic
		}
		if _, err := catalog.Create(ctx, &models.NewMaterial{ID: id, Name: id, Kind: kind, UnitCost: decimal.NewFromInt(3), OnHand: 20, LowThreshold: 5}); err != nil {
			t.Fatalf("create material: %v", err)
		}
	}
	configs := models.NewConfigurationRepo(db, catalog)
	mk := func(frame string, layers ...string) *models.NewConfiguration {
		cfg := &models.NewConfiguration{
			Name:       "Loader map",
			MapStyle:   models.MapStyleTerrain,
			Location:   &models.NewLocation{Name: "Here", Latitude: 1, Longitude: 2, ZoomLevel: 5},
			FrameStyle: &models.NewFrameStyle{StyleName: "Classic", MaterialId: frame},
			Size:       &models.NewSize{WidthMm: 100, HeightMm: 100},
		}
		for i, m := range layers {
			cfg.Layers = append(cfg.Layers, models.NewLayer{Depth: models.BaseLayerDepth + i, MaterialId: m})
		}
		return cfg
	}
	a, err := configs.CreateConfiguration(ctx, mk("WOOD_WALNUT", "WOOD_MAPLE", "ACRYLIC_BLUE"))
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}
	b, err := configs.CreateConfiguration(ctx, mk("WOOD_MAPLE", "ACRYLIC_BLUE"))
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}
	return a, b
}

func TestConfigurationLoader_BatchesAndKeepsOrder(t *testing.T) {
	db := openTestDB(t)
	a, b := seed(t, db)
	ctx := WithLoaders(context.Background(), NewLoaders(db))

	cfgs, errs := GetConfigurations(ctx, []int{b.ID, 4242, a.ID})
	if len(cfgs) != 3 || len(errs) != 3 {
		t.Fatalf("unexpected result sizes %d/%d", len(cfgs), len(errs))
	}
	if errs[0] != nil || cfgs[0].ID != b.ID || len(cfgs[0].Layers) != 1 {
		t.Fatalf("unexpected first result %+v (%v)", cfgs[0], errs[0])
	}
	if !errors.Is(errs[1], models.ErrConfigurationNotFound) {
		t.Fatalf("expected ErrConfigurationNotFound, got %v", errs[1])
	}
	if errs[2] != nil || cfgs[2].ID != a.ID || cfgs[2].FrameStyle.MaterialId != "WOOD_WALNUT" || len(cfgs[2].Layers) != 2 {
		t.Fatalf("unexpected third result %+v (%v)", cfgs[2], errs[2])
	}

	single, err := GetConfiguration(ctx, a.ID)
	if err != nil || single.Location == nil || single.Location.Name != "Here" {
		t.Fatalf("GetConfiguration: %+v (%v)", single, err)
	}
}

func TestMaterialAndInventoryLoaders(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	ctx := WithLoaders(context.Background(), NewLoaders(db))

	m, err := GetMaterial(ctx, "WOOD_MAPLE")
	if err != nil || m.Kind != models.MaterialKindWood {
		t.Fatalf("GetMaterial: %+v (%v)", m, err)
	}
	if _, err := GetMaterial(ctx, "WOOD_EBONY"); !errors.Is(err, models.ErrUnknownMaterial) {
		t.Fatalf("expected ErrUnknownMaterial, got %v", err)
	}

	records, errs := GetInventoryRecords(ctx, []string{"WOOD_WALNUT", "ACRYLIC_BLUE"})
	for i, err := range errs {
		if err != nil {
			t.Fatalf("GetInventoryRecords[%d]: %v", i, err)
		}
	}
	if records[0].MaterialId != "WOOD_WALNUT" || records[1].MaterialId != "ACRYLIC_BLUE" || records[0].Available() != 20 {
		t.Fatalf("unexpected records %+v %+v", records[0], records[1])
	}
}

func TestRequestContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)

	var (
		gotCorrelation string
		gotOperator    string
		gotSource      string
		loaders        *Loaders
	)
	r := gin.New()
	r.Use(RequestContextMiddleware(), LoaderMiddleware(db))
	r.GET("/loaders", func(c *gin.Context) {
		ctx := c.Request.Context()
		gotCorrelation, _ = utils.GetCorrelationIdFromContext(ctx)
		gotOperator, _ = utils.GetUserNameFromContext(ctx)
		gotSource, _ = utils.GetOrderSourceFromContext(ctx)
		loaders = For(ctx)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/loaders", nil)
	req.Header.Set(HeaderCorrelationId, "corr-1")
	req.Header.Set(HeaderOperator, "warehouse-admin")
	req.Header.Set(HeaderOrderSource, "cart")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if gotCorrelation != "corr-1" || gotOperator != "warehouse-admin" || gotSource != "cart" || loaders == nil {
		t.Fatalf("context not populated: %q %q %q %v", gotCorrelation, gotOperator, gotSource, loaders)
	}
	if w.Header().Get(HeaderCorrelationId) != "corr-1" {
		t.Fatalf("correlation id not echoed")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/loaders", nil))
	if gotCorrelation == "" || gotCorrelation == "corr-1" || w.Header().Get(HeaderCorrelationId) != gotCorrelation {
		t.Fatalf("expected a generated correlation id, got %q", gotCorrelation)
	}
}
