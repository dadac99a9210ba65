package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Material is a raw stock material. Rows are never updated or deleted once
// created, which is what makes the id-keyed cache safe.
type Material struct {
	ID        string          `gorm:"primaryKey;size:64" json:"id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	Kind      MaterialKind    `gorm:"size:20;not null" json:"kind"`
	StockUnit string          `gorm:"size:20;not null;default:'sheet'" json:"stock_unit"`
	UnitCost  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_cost"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterial struct {
	ID           string          `json:"id" validate:"required,max=64,uppercase"`
	Name         string          `json:"name" validate:"required,max=100"`
	Kind         MaterialKind    `json:"kind" validate:"required,oneof=WOOD ACRYLIC"`
	StockUnit    string          `json:"stock_unit" validate:"max=20"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	OnHand       int             `json:"on_hand" validate:"gte=0"`
	LowThreshold int             `json:"low_threshold" validate:"gte=0"`
}

// Catalog is the read side of materials with an optional redis read-through cache.
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) Get(ctx context.Context, materialId string) (*Material, error) {
	cached, err := utils.RetrieveRedis[Material](materialId)
	if err != nil {
		config.LogError(config.GetLogger(), "Catalog", "Get", "redis read", materialId, err)
	}
	if cached != nil {
		return cached, nil
	}

	var material Material
	err = c.db.WithContext(ctx).Where("id = ?", materialId).First(&material).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &UnknownMaterialError{MaterialId: materialId}
		}
		return nil, err
	}
	if err := utils.StoreRedis(&material, materialId); err != nil {
		config.LogError(config.GetLogger(), "Catalog", "Get", "redis write", materialId, err)
	}
	return &material, nil
}

// GetMany returns materials keyed by id. Missing ids fail with the
// lowest unknown id.
func (c *Catalog) GetMany(ctx context.Context, materialIds []string) (map[string]*Material, error) {
	result := make(map[string]*Material, len(materialIds))
	var misses []string
	for _, id := range utils.UniqueSlice(materialIds) {
		cached, err := utils.RetrieveRedis[Material](id)
		if err == nil && cached != nil {
			result[id] = cached
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return result, nil
	}

	var materials []*Material
	if err := c.db.WithContext(ctx).Where("id IN ?", misses).Order("id").Find(&materials).Error; err != nil {
		return nil, err
	}
	for _, m := range materials {
		result[m.ID] = m
		_ = utils.StoreRedis(m, m.ID)
	}
	if missing := missingIds(misses, result); len(missing) > 0 {
		return nil, &UnknownMaterialError{MaterialId: missing[0]}
	}
	return result, nil
}

func (c *Catalog) List(ctx context.Context) ([]*Material, error) {
	cached, err := utils.RetrieveRedisList[Material]()
	if err != nil {
		config.LogError(config.GetLogger(), "Catalog", "List", "redis read", nil, err)
	}
	if cached != nil {
		return cached, nil
	}

	var materials []*Material
	if err := c.db.WithContext(ctx).Order("id").Find(&materials).Error; err != nil {
		return nil, err
	}
	if err := utils.StoreRedisList(materials); err != nil {
		config.LogError(config.GetLogger(), "Catalog", "List", "redis write", nil, err)
	}
	return materials, nil
}

// Create adds a material together with its inventory record.
func (c *Catalog) Create(ctx context.Context, input *NewMaterial) (*Material, error) {
	if violations, err := utils.ValidateStruct(input); err != nil {
		return nil, err
	} else if len(violations) > 0 {
		return nil, &StructuralError{Violations: violations}
	}

	stockUnit := input.StockUnit
	if stockUnit == "" {
		stockUnit = "sheet"
	}
	material := Material{
		ID:        input.ID,
		Name:      input.Name,
		Kind:      input.Kind,
		StockUnit: stockUnit,
		UnitCost:  input.UnitCost,
	}
	record := InventoryRecord{
		MaterialId:   input.ID,
		OnHand:       input.OnHand,
		LowThreshold: input.LowThreshold,
	}
	record.IsLowStock = record.belowThreshold(config.LowStockInclusive())

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Material{}).Where("id = ?", input.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateMaterial
		}
		if err := tx.Create(&material).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		// a concurrent create can pass the count and lose on the primary key
		if utils.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateMaterial
		}
		return nil, err
	}

	if err := utils.RemoveRedisList[Material](); err != nil {
		config.LogError(config.GetLogger(), "Catalog", "Create", "redis invalidate", input.ID, err)
	}
	return &material, nil
}

func missingIds(wanted []string, found map[string]*Material) []string {
	var missing []string
	for _, id := range wanted {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return sortStrings(missing)
}
