package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type inventoryReader struct {
	db *gorm.DB
}

// positions are read without row locks; they may be stale by the time a reservation runs
func (r *inventoryReader) getInventoryRecords(ctx context.Context, materialIds []string) []*dataloader.Result[*models.InventoryRecord] {
	var results []*models.InventoryRecord
	err := r.db.WithContext(ctx).
		Where("material_id IN ?", materialIds).Find(&results).Error
	if err != nil {
		return handleError[*models.InventoryRecord](len(materialIds), err)
	}

	found := make(map[string]*models.InventoryRecord, len(results))
	for _, rec := range results {
		found[rec.MaterialId] = rec
	}
	return generateLoaderResults(found, materialIds, unknownMaterial)
}

func GetInventoryRecord(ctx context.Context, materialId string) (*models.InventoryRecord, error) {
	loaders := For(ctx)
	return loaders.inventoryLoader.Load(ctx, materialId)()
}

func GetInventoryRecords(ctx context.Context, materialIds []string) ([]*models.InventoryRecord, []error) {
	loaders := For(ctx)
	return loaders.inventoryLoader.LoadMany(ctx, materialIds)()
}
