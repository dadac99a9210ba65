package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type materialReader struct {
	db *gorm.DB
}

func (r *materialReader) getMaterials(ctx context.Context, ids []string) []*dataloader.Result[*models.Material] {
	var results []*models.Material
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Material](len(ids), err)
	}

	found := make(map[string]*models.Material, len(results))
	for _, m := range results {
		found[m.ID] = m
	}
	return generateLoaderResults(found, ids, unknownMaterial)
}

func GetMaterial(ctx context.Context, id string) (*models.Material, error) {
	loaders := For(ctx)
	return loaders.materialLoader.Load(ctx, id)()
}

func GetMaterials(ctx context.Context, ids []string) ([]*models.Material, []error) {
	loaders := For(ctx)
	return loaders.materialLoader.LoadMany(ctx, ids)()
}

func unknownMaterial(id string) error {
	return &models.UnknownMaterialError{MaterialId: id}
}
