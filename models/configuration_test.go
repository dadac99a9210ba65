package models_test

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"github.com/shopspring/decimal"
)

func seedStandardMaterials(t *testing.T, env *testEnv) {
	t.Helper()
	env.addMaterial(t, "ACRYLIC_BLUE", models.MaterialKindAcrylic, 50, 10)
	env.addMaterial(t, "WOOD_MAPLE", models.MaterialKindWood, 50, 10)
	env.addMaterial(t, "WOOD_WALNUT", models.MaterialKindWood, 50, 10)
}

func structuralError(t *testing.T, err error) *models.StructuralError {
	t.Helper()
	var structural *models.StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("expected StructuralError, got %v", err)
	}
	return structural
}

func TestValidateStructure_AcceptsContiguousDepths(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	cfg := layeredConfig("WOOD_WALNUT", "WOOD_MAPLE", "ACRYLIC_BLUE", "WOOD_WALNUT")
	if err := models.ValidateStructure(context.Background(), env.catalog, cfg); err != nil {
		t.Fatalf("expected valid configuration, got %v", err)
	}
}

func TestValidateStructure_DuplicateDepth(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	cfg := layeredConfig("WOOD_WALNUT", "WOOD_MAPLE", "ACRYLIC_BLUE")
	cfg.Layers[1].Depth = cfg.Layers[0].Depth

	structural := structuralError(t, models.ValidateStructure(context.Background(), env.catalog, cfg))
	if !structural.HasField("layers[1].depth") {
		t.Fatalf("expected duplicate depth violation, got %+v", structural.Violations)
	}
}

func TestValidateStructure_GapInDepths(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	cfg := layeredConfig("WOOD_WALNUT", "WOOD_WALNUT", "WOOD_MAPLE", "ACRYLIC_BLUE")
	cfg.Layers[2].Depth = 5

	structural := structuralError(t, models.ValidateStructure(context.Background(), env.catalog, cfg))
	if !structural.HasField("layers") {
		t.Fatalf("expected contiguity violation, got %+v", structural.Violations)
	}
}

func TestValidateStructure_DepthsMustStartAtBase(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	cfg := layeredConfig("WOOD_WALNUT", "WOOD_MAPLE", "ACRYLIC_BLUE")
	for i := range cfg.Layers {
		cfg.Layers[i].Depth++
	}
	structuralError(t, models.ValidateStructure(context.Background(), env.catalog, cfg))
}

func TestValidateStructure_CollectsEveryDefect(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	cfg := layeredConfig("WOOD_EBONY")
	cfg.Location.Latitude = 91
	cfg.Location.Longitude = -181
	cfg.Location.ZoomLevel = 0
	cfg.Size.WidthMm = 0

	structural := structuralError(t, models.ValidateStructure(context.Background(), env.catalog, cfg))
	for _, field := range []string{
		"location.latitude",
		"location.longitude",
		"location.zoom_level",
		"size.width_mm",
		"layers",
		"frame_style.material_id",
	} {
		if !structural.HasField(field) {
			t.Fatalf("missing violation for %s in %+v", field, structural.Violations)
		}
	}
}

func TestValidateStructure_UnknownLayerMaterial(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	cfg := layeredConfig("WOOD_WALNUT", "WOOD_MAPLE", "ACRYLIC_PINK")
	structural := structuralError(t, models.ValidateStructure(context.Background(), env.catalog, cfg))
	if !structural.HasField("layers[1].material_id") {
		t.Fatalf("expected unknown layer material, got %+v", structural.Violations)
	}
}

func TestRequirements_CountsEveryReference(t *testing.T) {
	cfg := layeredConfig("WOOD_WALNUT", "WOOD_MAPLE", "ACRYLIC_BLUE", "WOOD_WALNUT")
	req, err := models.Requirements(cfg, 2)
	if err != nil {
		t.Fatalf("Requirements: %v", err)
	}
	want := models.MaterialRequirement{"WOOD_WALNUT": 4, "WOOD_MAPLE": 2, "ACRYLIC_BLUE": 2}
	if len(req) != len(want) {
		t.Fatalf("got %v, want %v", req, want)
	}
	for id, q := range want {
		if req[id] != q {
			t.Fatalf("%s: got %d, want %d", id, req[id], q)
		}
	}
	ids := req.MaterialIds()
	if ids[0] != "ACRYLIC_BLUE" || ids[2] != "WOOD_WALNUT" {
		t.Fatalf("material ids not sorted: %v", ids)
	}
	if _, err := models.Requirements(cfg, 0); !errors.Is(err, models.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestCost_SumsUnitCosts(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	cost, err := models.Cost(context.Background(), env.catalog, layeredConfig("WOOD_WALNUT", "WOOD_MAPLE"), 3)
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	// 6 units at 2 each
	if !cost.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("expected 12, got %s", cost)
	}
}

func TestConfigurationRepo_FetchReturnsWholeTree(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	ctx := context.Background()

	first, err := env.configs.CreateConfiguration(ctx, layeredConfig("WOOD_WALNUT", "WOOD_MAPLE", "ACRYLIC_BLUE", "WOOD_WALNUT"))
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}
	input := layeredConfig("WOOD_MAPLE", "ACRYLIC_BLUE", "WOOD_WALNUT", "WOOD_MAPLE")
	// submit layers out of order; they are stored and returned by depth
	input.Layers[0], input.Layers[2] = input.Layers[2], input.Layers[0]
	second, err := env.configs.CreateConfiguration(ctx, input)
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}

	got, err := env.configs.FetchConfigurations(ctx, []int{second.ID, first.ID})
	if err != nil {
		t.Fatalf("FetchConfigurations: %v", err)
	}
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", got)
	}
	for _, cfg := range got {
		if cfg.Location == nil || cfg.FrameStyle == nil || cfg.Size == nil {
			t.Fatalf("configuration %d missing parts: %+v", cfg.ID, cfg)
		}
		if len(cfg.Layers) != 3 {
			t.Fatalf("configuration %d has %d layers", cfg.ID, len(cfg.Layers))
		}
		for i, l := range cfg.Layers {
			if l.Depth != models.BaseLayerDepth+i {
				t.Fatalf("configuration %d layers not ordered by depth: %+v", cfg.ID, cfg.Layers)
			}
		}
	}
	if got[0].FrameStyle.MaterialId != "WOOD_MAPLE" || got[0].Layers[0].MaterialId != "ACRYLIC_BLUE" {
		t.Fatalf("parts attached to the wrong configuration: %+v", got[0])
	}

	if _, err := env.configs.FetchConfigurations(ctx, []int{first.ID, 9999}); !errors.Is(err, models.ErrConfigurationNotFound) {
		t.Fatalf("expected ErrConfigurationNotFound, got %v", err)
	}
}

func TestConfigurationRepo_UpdateAndLock(t *testing.T) {
	env := newTestEnv(t)
	seedStandardMaterials(t, env)
	ctx := context.Background()

	cfg, err := env.configs.CreateConfiguration(ctx, layeredConfig("WOOD_WALNUT", "WOOD_MAPLE"))
	if err != nil {
		t.Fatalf("CreateConfiguration: %v", err)
	}
	update := layeredConfig("WOOD_MAPLE", "ACRYLIC_BLUE", "WOOD_MAPLE", "WOOD_WALNUT")
	update.CustomText = "Home"
	updated, err := env.configs.UpdateConfiguration(ctx, cfg.ID, update)
	if err != nil {
		t.Fatalf("UpdateConfiguration: %v", err)
	}
	if len(updated.Layers) != 3 || updated.CustomText != "Home" || updated.FrameStyle.MaterialId != "WOOD_MAPLE" {
		t.Fatalf("update not applied: %+v", updated)
	}

	// placing an order locks the configuration
	if _, err := env.coordinator.PlaceOrder(ctx, models.PlaceOrderInput{OrderLineId: "ol-lock", ConfigurationId: cfg.ID, Quantity: 1}); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, err := env.configs.UpdateConfiguration(ctx, cfg.ID, update); !errors.Is(err, models.ErrConfigurationLocked) {
		t.Fatalf("expected ErrConfigurationLocked, got %v", err)
	}
	locked, err := env.configs.GetConfiguration(ctx, cfg.ID)
	if err != nil || !locked.IsLocked() {
		t.Fatalf("expected locked configuration, got %+v (%v)", locked, err)
	}
}

func TestSeedCatalog_CreatesTemplates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	materials, templates, err := models.SeedCatalog(ctx, env.db, env.catalog, env.configs, 100)
	if err != nil {
		t.Fatalf("SeedCatalog: %v", err)
	}
	if materials != len(models.DefaultMaterials(100)) || templates != 2 {
		t.Fatalf("unexpected seed counts: materials=%d templates=%d", materials, templates)
	}
	// second run is a no-op
	materials, templates, err = models.SeedCatalog(ctx, env.db, env.catalog, env.configs, 100)
	if err != nil || materials != 0 || templates != 0 {
		t.Fatalf("expected idempotent seed, got materials=%d templates=%d err=%v", materials, templates, err)
	}

	list, err := env.configs.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(list) != 2 || list[0].Location.Name != "New York City" || len(list[0].Layers) != 3 {
		t.Fatalf("unexpected templates: %+v", list)
	}
	if list[1].MapStyle != models.MapStyleRoad || list[1].FrameStyle.MaterialId != "WOOD_OAK" {
		t.Fatalf("unexpected San Francisco template: %+v", list[1])
	}
}
