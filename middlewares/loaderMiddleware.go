package middlewares

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders wrap the request-scoped data loaders
type Loaders struct {
	configurationLoader *dataloader.Loader[int, *models.ProductConfiguration]
	materialLoader      *dataloader.Loader[string, *models.Material]
	inventoryLoader     *dataloader.Loader[string, *models.InventoryRecord]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(conn *gorm.DB) *Loaders {
	configurationReader := &configurationReader{db: conn}
	materialReader := &materialReader{db: conn}
	inventoryReader := &inventoryReader{db: conn}

	return &Loaders{
		configurationLoader: dataloader.NewBatchedLoader(configurationReader.getConfigurations, dataloader.WithWait[int, *models.ProductConfiguration](time.Millisecond)),
		materialLoader:      dataloader.NewBatchedLoader(materialReader.getMaterials, dataloader.WithWait[string, *models.Material](time.Millisecond)),
		inventoryLoader:     dataloader.NewBatchedLoader(inventoryReader.getInventoryRecords, dataloader.WithWait[string, *models.InventoryRecord](time.Millisecond)),
	}
}

func LoaderMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(db)
		ctx := WithLoaders(c.Request.Context(), loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

func For(ctx context.Context) *Loaders {
	return ctx.Value(loadersKey).(*Loaders)
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// turns a keyed lookup into dataloader results in key order, using missing(key) for absent keys
func generateLoaderResults[K comparable, T any](found map[K]T, keys []K, missing func(K) error) []*dataloader.Result[T] {
	loaderResults := make([]*dataloader.Result[T], 0, len(keys))
	for _, key := range keys {
		data, ok := found[key]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[T]{Error: missing(key)})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[T]{Data: data})
	}
	return loaderResults
}
