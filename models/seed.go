package models

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const DefaultLowThreshold = 10

// DefaultMaterials is the stock material list the storefront ships with.
func DefaultMaterials(openingStock int) []NewMaterial {
	mk := func(id, name string, kind MaterialKind, cost string) NewMaterial {
		return NewMaterial{
			ID:           id,
			Name:         name,
			Kind:         kind,
			StockUnit:    "sheet",
			UnitCost:     decimal.RequireFromString(cost),
			OnHand:       openingStock,
			LowThreshold: DefaultLowThreshold,
		}
	}
	return []NewMaterial{
		mk("ACRYLIC_BLACK", "Black Acrylic", MaterialKindAcrylic, "6.5000"),
		mk("ACRYLIC_BLUE", "Blue Acrylic", MaterialKindAcrylic, "6.5000"),
		mk("ACRYLIC_CLEAR", "Clear Acrylic", MaterialKindAcrylic, "5.2500"),
		mk("ACRYLIC_WHITE", "White Acrylic", MaterialKindAcrylic, "6.0000"),
		mk("WOOD_CHERRY", "Cherry Wood", MaterialKindWood, "11.0000"),
		mk("WOOD_MAPLE", "Maple Wood", MaterialKindWood, "8.7500"),
		mk("WOOD_OAK", "Oak Wood", MaterialKindWood, "9.2500"),
		mk("WOOD_WALNUT", "Walnut Wood", MaterialKindWood, "12.5000"),
	}
}

// TemplateConfigurations are the two template products of the storefront.
func TemplateConfigurations() []NewConfiguration {
	return []NewConfiguration{
		{
			Name:        "New York City Framed Map",
			Description: "A detailed multi-layer laser-cut map of New York City, featuring Manhattan and surrounding boroughs in a wooden frame.",
			IsTemplate:  true,
			MapStyle:    MapStyleMinimal,
			CustomText:  "New York City",
			Location:    &NewLocation{Name: "New York City", Latitude: 40.7128, Longitude: -74.0060, ZoomLevel: 12},
			FrameStyle:  &NewFrameStyle{StyleName: "Classic", MaterialId: "WOOD_WALNUT", Color: "Dark Brown"},
			Size:        &NewSize{WidthMm: 300, HeightMm: 400},
			Layers: []NewLayer{
				{Depth: 1, MaterialId: "WOOD_MAPLE", Color: "Light Brown"},
				{Depth: 2, MaterialId: "ACRYLIC_BLUE", Color: "Deep Blue"},
				{Depth: 3, MaterialId: "WOOD_WALNUT", Color: "Dark Brown"},
			},
		},
		{
			Name:        "San Francisco Key Holder Map",
			Description: "A key holder featuring a laser-cut map of San Francisco.",
			IsTemplate:  true,
			MapStyle:    MapStyleRoad,
			CustomText:  "San Francisco",
			Location:    &NewLocation{Name: "San Francisco", Latitude: 37.7749, Longitude: -122.4194, ZoomLevel: 13},
			FrameStyle:  &NewFrameStyle{StyleName: "Modern", MaterialId: "WOOD_OAK", Color: "Natural"},
			Size:        &NewSize{WidthMm: 200, HeightMm: 300},
			Layers: []NewLayer{
				{Depth: 1, MaterialId: "WOOD_OAK", Color: "Natural"},
				{Depth: 2, MaterialId: "ACRYLIC_BLACK", Color: "Black"},
			},
		},
	}
}

// SeedCatalog creates missing default materials and template configurations.
// Existing materials and templates with the same name are left alone.
func SeedCatalog(ctx context.Context, db *gorm.DB, catalog *Catalog, configs *ConfigurationRepo, openingStock int) (materials int, templates int, err error) {
	for _, m := range DefaultMaterials(openingStock) {
		m := m
		if _, err := catalog.Create(ctx, &m); err != nil {
			if errors.Is(err, ErrDuplicateMaterial) {
				continue
			}
			return materials, templates, err
		}
		materials++
	}

	for _, t := range TemplateConfigurations() {
		t := t
		var count int64
		if err := db.WithContext(ctx).Model(&ProductConfiguration{}).
			Where("is_template = ? AND name = ?", true, t.Name).
			Count(&count).Error; err != nil {
			return materials, templates, err
		}
		if count > 0 {
			continue
		}
		if _, err := configs.CreateConfiguration(ctx, &t); err != nil {
			return materials, templates, err
		}
		templates++
	}
	return materials, templates, nil
}
