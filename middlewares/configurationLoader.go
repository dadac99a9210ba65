package middlewares

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type configurationReader struct {
	db *gorm.DB
}

// one joined query for location/frame/size and one batched query for the layers of every key
func (r *configurationReader) getConfigurations(ctx context.Context, ids []int) []*dataloader.Result[*models.ProductConfiguration] {
	found, err := models.LoadConfigurations(ctx, r.db, ids)
	if err != nil {
		return handleError[*models.ProductConfiguration](len(ids), err)
	}
	return generateLoaderResults(found, ids, func(id int) error {
		return fmt.Errorf("%w: %d", models.ErrConfigurationNotFound, id)
	})
}

func GetConfiguration(ctx context.Context, id int) (*models.ProductConfiguration, error) {
	loaders := For(ctx)
	return loaders.configurationLoader.Load(ctx, id)()
}

func GetConfigurations(ctx context.Context, ids []int) ([]*models.ProductConfiguration, []error) {
	loaders := For(ctx)
	return loaders.configurationLoader.LoadMany(ctx, ids)()
}
