package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BaseLayerDepth is the depth of the bottom layer; depths count up from here
// without gaps.
const BaseLayerDepth = 1

type ProductConfiguration struct {
	ID          int        `gorm:"primary_key" json:"id"`
	Name        string     `gorm:"size:255" json:"name"`
	Description string     `gorm:"type:text" json:"description"`
	IsTemplate  bool       `gorm:"not null;default:false;index" json:"is_template"`
	MapStyle    MapStyle   `gorm:"size:20;not null;default:'MINIMAL'" json:"map_style"`
	CustomText  string     `gorm:"size:255" json:"custom_text"`
	LockedAt    *time.Time `json:"locked_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Location   *ConfigurationLocation   `gorm:"foreignKey:ConfigurationId" json:"location"`
	FrameStyle *ConfigurationFrameStyle `gorm:"foreignKey:ConfigurationId" json:"frame_style"`
	Size       *ConfigurationSize       `gorm:"foreignKey:ConfigurationId" json:"size"`
	Layers     []ConfigurationLayer     `gorm:"foreignKey:ConfigurationId" json:"layers"`
}

type ConfigurationLocation struct {
	ID              int     `gorm:"primary_key" json:"id"`
	ConfigurationId int     `gorm:"uniqueIndex;not null" json:"configuration_id"`
	Name            string  `gorm:"size:255" json:"name"`
	Latitude        float64 `gorm:"not null" json:"latitude"`
	Longitude       float64 `gorm:"not null" json:"longitude"`
	ZoomLevel       int     `gorm:"not null" json:"zoom_level"`
}

type ConfigurationFrameStyle struct {
	ID              int    `gorm:"primary_key" json:"id"`
	ConfigurationId int    `gorm:"uniqueIndex;not null" json:"configuration_id"`
	StyleName       string `gorm:"size:100;not null" json:"style_name"`
	MaterialId      string `gorm:"size:64;not null;index" json:"material_id"`
	Color           string `gorm:"size:50" json:"color"`
}

type ConfigurationSize struct {
	ID              int `gorm:"primary_key" json:"id"`
	ConfigurationId int `gorm:"uniqueIndex;not null" json:"configuration_id"`
	WidthMm         int `gorm:"not null" json:"width_mm"`
	HeightMm        int `gorm:"not null" json:"height_mm"`
}

type ConfigurationLayer struct {
	ID              int    `gorm:"primary_key" json:"id"`
	ConfigurationId int    `gorm:"not null;uniqueIndex:idx_configuration_layer_depth,priority:1" json:"configuration_id"`
	Depth           int    `gorm:"not null;uniqueIndex:idx_configuration_layer_depth,priority:2" json:"depth"`
	MaterialId      string `gorm:"size:64;not null;index" json:"material_id"`
	Color           string `gorm:"size:50" json:"color"`
}

type NewConfiguration struct {
	Name        string         `json:"name" validate:"max=255"`
	Description string         `json:"description"`
	IsTemplate  bool           `json:"is_template"`
	MapStyle    MapStyle       `json:"map_style" validate:"omitempty,oneof=MINIMAL ROAD TERRAIN WATERCOLOR"`
	CustomText  string         `json:"custom_text" validate:"max=255"`
	Location    *NewLocation   `json:"location" validate:"required"`
	FrameStyle  *NewFrameStyle `json:"frame_style" validate:"required"`
	Size        *NewSize       `json:"size" validate:"required"`
	Layers      []NewLayer     `json:"layers" validate:"required,min=1,dive"`
}

type NewLocation struct {
	Name      string  `json:"name" validate:"max=255"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	ZoomLevel int     `json:"zoom_level" validate:"gte=1,lte=20"`
}

type NewFrameStyle struct {
	StyleName  string `json:"style_name" validate:"required,max=100"`
	MaterialId string `json:"material_id" validate:"required,max=64"`
	Color      string `json:"color" validate:"max=50"`
}

type NewSize struct {
	WidthMm  int `json:"width_mm" validate:"gt=0"`
	HeightMm int `json:"height_mm" validate:"gt=0"`
}

type NewLayer struct {
	Depth      int    `json:"depth"`
	MaterialId string `json:"material_id" validate:"required,max=64"`
	Color      string `json:"color" validate:"max=50"`
}

// Input returns the configuration as a NewConfiguration so a stored
// configuration runs through the same checks as a submitted one.
func (c *ProductConfiguration) Input() *NewConfiguration {
	input := &NewConfiguration{
		Name:        c.Name,
		Description: c.Description,
		IsTemplate:  c.IsTemplate,
		MapStyle:    c.MapStyle,
		CustomText:  c.CustomText,
	}
	if c.Location != nil {
		input.Location = &NewLocation{
			Name:      c.Location.Name,
			Latitude:  c.Location.Latitude,
			Longitude: c.Location.Longitude,
			ZoomLevel: c.Location.ZoomLevel,
		}
	}
	if c.FrameStyle != nil {
		input.FrameStyle = &NewFrameStyle{
			StyleName:  c.FrameStyle.StyleName,
			MaterialId: c.FrameStyle.MaterialId,
			Color:      c.FrameStyle.Color,
		}
	}
	if c.Size != nil {
		input.Size = &NewSize{WidthMm: c.Size.WidthMm, HeightMm: c.Size.HeightMm}
	}
	for _, l := range c.Layers {
		input.Layers = append(input.Layers, NewLayer{Depth: l.Depth, MaterialId: l.MaterialId, Color: l.Color})
	}
	return input
}

func (c *ProductConfiguration) IsLocked() bool {
	return c.LockedAt != nil
}

// ConfigurationRepo persists configurations and fetches them as whole trees.
type ConfigurationRepo struct {
	db      *gorm.DB
	catalog *Catalog
}

func NewConfigurationRepo(db *gorm.DB, catalog *Catalog) *ConfigurationRepo {
	return &ConfigurationRepo{db: db, catalog: catalog}
}

func (r *ConfigurationRepo) CreateConfiguration(ctx context.Context, input *NewConfiguration) (*ProductConfiguration, error) {
	if err := ValidateStructure(ctx, r.catalog, input); err != nil {
		return nil, err
	}
	var cfg *ProductConfiguration
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cfg, err = createConfigurationTx(tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// createConfigurationTx assumes input already passed ValidateStructure.
func createConfigurationTx(tx *gorm.DB, input *NewConfiguration) (*ProductConfiguration, error) {
	style := input.MapStyle
	if style == "" {
		style = MapStyleMinimal
	}
	cfg := ProductConfiguration{
		Name:        input.Name,
		Description: input.Description,
		IsTemplate:  input.IsTemplate,
		MapStyle:    style,
		CustomText:  input.CustomText,
	}
	if err := tx.Omit(clause.Associations).Create(&cfg).Error; err != nil {
		return nil, err
	}
	if err := createConfigurationParts(tx, &cfg, input); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func createConfigurationParts(tx *gorm.DB, cfg *ProductConfiguration, input *NewConfiguration) error {
	cfg.Location = &ConfigurationLocation{
		ConfigurationId: cfg.ID,
		Name:            input.Location.Name,
		Latitude:        input.Location.Latitude,
		Longitude:       input.Location.Longitude,
		ZoomLevel:       input.Location.ZoomLevel,
	}
	cfg.FrameStyle = &ConfigurationFrameStyle{
		ConfigurationId: cfg.ID,
		StyleName:       input.FrameStyle.StyleName,
		MaterialId:      input.FrameStyle.MaterialId,
		Color:           input.FrameStyle.Color,
	}
	cfg.Size = &ConfigurationSize{
		ConfigurationId: cfg.ID,
		WidthMm:         input.Size.WidthMm,
		HeightMm:        input.Size.HeightMm,
	}
	cfg.Layers = make([]ConfigurationLayer, 0, len(input.Layers))
	for _, l := range sortedLayers(input.Layers) {
		cfg.Layers = append(cfg.Layers, ConfigurationLayer{
			ConfigurationId: cfg.ID,
			Depth:           l.Depth,
			MaterialId:      l.MaterialId,
			Color:           l.Color,
		})
	}

	if err := tx.Create(cfg.Location).Error; err != nil {
		return err
	}
	if err := tx.Create(cfg.FrameStyle).Error; err != nil {
		return err
	}
	if err := tx.Create(cfg.Size).Error; err != nil {
		return err
	}
	return tx.Create(&cfg.Layers).Error
}

// configurationTree selects a configuration with its has-one parts joined in
// and all layers of the result set loaded by one batched query, ordered by depth.
func configurationTree(db *gorm.DB) *gorm.DB {
	return db.
		Joins("Location").
		Joins("FrameStyle").
		Joins("Size").
		Preload("Layers", func(db *gorm.DB) *gorm.DB {
			return db.Order("configuration_layers.depth ASC")
		})
}

func (r *ConfigurationRepo) GetConfiguration(ctx context.Context, id int) (*ProductConfiguration, error) {
	return getConfigurationTx(r.db.WithContext(ctx), id)
}

func getConfigurationTx(tx *gorm.DB, id int) (*ProductConfiguration, error) {
	var cfg ProductConfiguration
	err := configurationTree(tx).Where("product_configurations.id = ?", id).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrConfigurationNotFound, id)
		}
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigurations fetches whole configuration trees keyed by id. Ids
// that do not exist are absent from the map.
func LoadConfigurations(ctx context.Context, db *gorm.DB, ids []int) (map[int]*ProductConfiguration, error) {
	result := make(map[int]*ProductConfiguration, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var cfgs []*ProductConfiguration
	err := configurationTree(db.WithContext(ctx)).
		Where("product_configurations.id IN ?", ids).
		Find(&cfgs).Error
	if err != nil {
		return nil, err
	}
	for _, c := range cfgs {
		result[c.ID] = c
	}
	return result, nil
}

// FetchConfigurations returns the configurations in the order of ids.
// Any missing id fails the whole call.
func (r *ConfigurationRepo) FetchConfigurations(ctx context.Context, ids []int) ([]*ProductConfiguration, error) {
	found, err := LoadConfigurations(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	result := make([]*ProductConfiguration, 0, len(ids))
	for _, id := range ids {
		cfg, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrConfigurationNotFound, id)
		}
		result = append(result, cfg)
	}
	return result, nil
}

func (r *ConfigurationRepo) ListTemplates(ctx context.Context) ([]*ProductConfiguration, error) {
	var cfgs []*ProductConfiguration
	err := configurationTree(r.db.WithContext(ctx)).
		Where("product_configurations.is_template = ?", true).
		Order("product_configurations.id").
		Find(&cfgs).Error
	return cfgs, err
}

// UpdateConfiguration replaces the configuration's attributes and parts.
// Configurations attached to a placed order are immutable.
func (r *ConfigurationRepo) UpdateConfiguration(ctx context.Context, id int, input *NewConfiguration) (*ProductConfiguration, error) {
	if err := ValidateStructure(ctx, r.catalog, input); err != nil {
		return nil, err
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg ProductConfiguration
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&cfg).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrConfigurationNotFound, id)
			}
			return err
		}
		if cfg.IsLocked() {
			return ErrConfigurationLocked
		}

		style := input.MapStyle
		if style == "" {
			style = MapStyleMinimal
		}
		if err := tx.Model(&cfg).Omit(clause.Associations).Updates(map[string]interface{}{
			"name":        input.Name,
			"description": input.Description,
			"is_template": input.IsTemplate,
			"map_style":   style,
			"custom_text": input.CustomText,
		}).Error; err != nil {
			return err
		}

		for _, part := range []interface{}{&ConfigurationLocation{}, &ConfigurationFrameStyle{}, &ConfigurationSize{}, &ConfigurationLayer{}} {
			if err := tx.Where("configuration_id = ?", id).Delete(part).Error; err != nil {
				return err
			}
		}
		return createConfigurationParts(tx, &cfg, input)
	})
	if err != nil {
		return nil, err
	}
	return r.GetConfiguration(ctx, id)
}

// getConfigurationForUpdateTx row-locks the configuration header before
// reading the tree, so a concurrent UpdateConfiguration either finishes first
// or waits for this transaction.
func getConfigurationForUpdateTx(tx *gorm.DB, id int) (*ProductConfiguration, error) {
	var header ProductConfiguration
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", id).First(&header).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrConfigurationNotFound, id)
		}
		return nil, err
	}
	return getConfigurationTx(tx, id)
}

// lockConfigurationTx freezes the configuration. Locking twice is a no-op.
func lockConfigurationTx(tx *gorm.DB, id int) error {
	now := time.Now().UTC()
	res := tx.Model(&ProductConfiguration{}).
		Where("id = ? AND locked_at IS NULL", id).
		Update("locked_at", &now)
	return res.Error
}
