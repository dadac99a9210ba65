package main

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/middlewares"
	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"bitbucket.org/mmdatafocus/mapframe_backend/models/reports"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"bitbucket.org/mmdatafocus/mapframe_backend/workflow"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// API holds the services behind the HTTP routes.
type API struct {
	db          *gorm.DB
	catalog     *models.Catalog
	ledger      *models.Ledger
	configs     *models.ConfigurationRepo
	checker     *models.BuildabilityChecker
	coordinator *models.Coordinator
}

func NewAPI(db *gorm.DB, locker utils.KeyedLocker) *API {
	catalog := models.NewCatalog(db)
	ledger := models.NewLedger(db, locker)
	configs := models.NewConfigurationRepo(db, catalog)
	return &API{
		db:          db,
		catalog:     catalog,
		ledger:      ledger,
		configs:     configs,
		checker:     models.NewBuildabilityChecker(catalog, ledger),
		coordinator: models.NewCoordinator(db, catalog, configs, ledger),
	}
}

func (a *API) Register(r gin.IRouter) {
	r.GET("/materials", a.listMaterials)
	r.POST("/materials", a.createMaterial)
	r.GET("/materials/:id", a.getMaterial)

	r.GET("/inventory", a.listInventory)
	r.GET("/inventory/low-stock", a.listLowStock)
	r.GET("/inventory/export", a.exportInventory)
	r.GET("/inventory/:materialId", a.getInventory)
	r.POST("/inventory/:materialId/restock", a.restock)
	r.PUT("/inventory/:materialId/threshold", a.setThreshold)

	r.GET("/configurations", a.listConfigurations)
	r.POST("/configurations", a.createConfiguration)
	r.POST("/configurations/check", a.checkConfiguration)
	r.GET("/configurations/:id", a.getConfiguration)
	r.PUT("/configurations/:id", a.updateConfiguration)

	r.POST("/orders", a.placeOrder)
	r.GET("/orders/:orderLineId/reservations", a.listOrderLineReservations)

	r.GET("/reservations/:id", a.getReservation)
	r.GET("/reservations/:id/history", a.reservationHistory)
	r.POST("/reservations/:id/fulfill", a.fulfill)
	r.POST("/reservations/:id/cancel", a.cancel)
	r.POST("/reservations/:id/refund", a.refund)
	r.POST("/reservations/:id/return", a.returnFulfilled)

	r.POST("/internal/ops/low-stock/requeue", a.requeueLowStockAlerts)
}

/* materials */

func (a *API) listMaterials(c *gin.Context) {
	materials, err := a.catalog.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, materials)
}

func (a *API) getMaterial(c *gin.Context) {
	material, err := middlewares.GetMaterial(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, material)
}

func (a *API) createMaterial(c *gin.Context) {
	var input models.NewMaterial
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	material, err := a.catalog.Create(c.Request.Context(), &input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, material)
}

/* inventory */

func inventoryViews(records []*models.InventoryRecord) []models.InventoryView {
	views := make([]models.InventoryView, 0, len(records))
	for _, r := range records {
		views = append(views, r.View())
	}
	return views
}

func (a *API) listInventory(c *gin.Context) {
	records, err := a.ledger.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inventoryViews(records))
}

func (a *API) listLowStock(c *gin.Context) {
	records, err := a.ledger.LowStock(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inventoryViews(records))
}

func (a *API) exportInventory(c *gin.Context) {
	rows, err := reports.GetInventoryReport(c.Request.Context(), a.ledger)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="inventory.xlsx"`)
	if err := reports.WriteInventoryWorkbook(c.Writer, rows); err != nil {
		config.LogError(config.GetLogger(), "API", "exportInventory", "write workbook", len(rows), err)
	}
}

func (a *API) getInventory(c *gin.Context) {
	record, err := middlewares.GetInventoryRecord(c.Request.Context(), c.Param("materialId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record.View())
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (a *API) restock(c *gin.Context) {
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	record, err := a.ledger.Restock(c.Request.Context(), c.Param("materialId"), req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record.View())
}

type thresholdRequest struct {
	LowThreshold *int `json:"low_threshold"`
}

func (a *API) setThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.LowThreshold == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "low_threshold is required"})
		return
	}
	record, err := a.ledger.SetThreshold(c.Request.Context(), c.Param("materialId"), *req.LowThreshold)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record.View())
}

/* configurations */

// GET /configurations?ids=1,2 fetches by id; without ids it lists the templates.
func (a *API) listConfigurations(c *gin.Context) {
	ctx := c.Request.Context()
	raw := c.Query("ids")
	if raw == "" {
		templates, err := a.configs.ListTemplates(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, templates)
		return
	}

	var ids []int
	for _, part := range utils.ParseIdList(raw) {
		id, err := strconv.Atoi(part)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids must be integers"})
			return
		}
		ids = append(ids, id)
	}
	cfgs, err := a.configs.FetchConfigurations(ctx, ids)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfgs)
}

func (a *API) createConfiguration(c *gin.Context) {
	var input models.NewConfiguration
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	cfg, err := a.configs.CreateConfiguration(c.Request.Context(), &input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func configurationId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration id"})
		return 0, false
	}
	return id, true
}

func (a *API) getConfiguration(c *gin.Context) {
	id, ok := configurationId(c)
	if !ok {
		return
	}
	cfg, err := middlewares.GetConfiguration(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (a *API) updateConfiguration(c *gin.Context) {
	id, ok := configurationId(c)
	if !ok {
		return
	}
	var input models.NewConfiguration
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	cfg, err := a.configs.UpdateConfiguration(c.Request.Context(), id, &input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type checkRequest struct {
	ConfigurationId int                      `json:"configuration_id"`
	Configuration   *models.NewConfiguration `json:"configuration"`
	Quantity        int                      `json:"quantity"`
}

func (a *API) checkConfiguration(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()
	input := req.Configuration
	if req.ConfigurationId != 0 {
		cfg, err := middlewares.GetConfiguration(ctx, req.ConfigurationId)
		if err != nil {
			writeError(c, err)
			return
		}
		input = cfg.Input()
	}
	if input == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "configuration or configuration_id is required"})
		return
	}
	result, err := a.checker.Check(ctx, input, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"buildable":      result.Buildable,
		"retryable":      result.Retryable(),
		"structural":     result.Structural,
		"shortages":      result.Shortages,
		"requirement":    result.Requirement,
		"estimated_cost": result.EstimatedCost,
	})
}

/* orders and reservations */

func (a *API) placeOrder(c *gin.Context) {
	var input models.PlaceOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	res, err := a.coordinator.PlaceOrder(c.Request.Context(), input)
	if err != nil {
		if res != nil {
			// rejected rows are returned with the reason
			status, body := errorResponse(err)
			body["reservation"] = res
			c.JSON(status, body)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) listOrderLineReservations(c *gin.Context) {
	list, err := a.coordinator.ListByOrderLine(c.Request.Context(), c.Param("orderLineId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *API) getReservation(c *gin.Context) {
	res, err := a.coordinator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) reservationHistory(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := a.coordinator.Get(ctx, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	histories, err := models.ListHistories(ctx, a.db, models.HistoryReferenceReservation, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}

func (a *API) fulfill(c *gin.Context) {
	a.respondReservation(c)(a.coordinator.Fulfill(c.Request.Context(), c.Param("id")))
}

func (a *API) cancel(c *gin.Context) {
	a.respondReservation(c)(a.coordinator.Cancel(c.Request.Context(), c.Param("id")))
}

func (a *API) refund(c *gin.Context) {
	a.respondReservation(c)(a.coordinator.Refund(c.Request.Context(), c.Param("id")))
}

type returnRequest struct {
	Note string `json:"note"`
}

func (a *API) returnFulfilled(c *gin.Context) {
	var req returnRequest
	// the note is optional; an empty body is fine
	_ = c.ShouldBindJSON(&req)
	a.respondReservation(c)(a.coordinator.ReturnFulfilled(c.Request.Context(), c.Param("id"), req.Note))
}

func (a *API) respondReservation(c *gin.Context) func(*models.Reservation, error) {
	return func(res *models.Reservation, err error) {
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type requeueRequest struct {
	AlertIds []int `json:"alert_ids"`
}

func (a *API) requeueLowStockAlerts(c *gin.Context) {
	var req requeueRequest
	_ = c.ShouldBindJSON(&req)
	n, err := workflow.RequeueDead(c.Request.Context(), a.db, req.AlertIds)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}

/* errors */

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "server", c.FullPath(), c.Request.Method, nil, err)
	}
	c.JSON(status, body)
}

// errorResponse maps domain errors to a status code and JSON body.
func errorResponse(err error) (int, gin.H) {
	body := gin.H{"error": err.Error(), "retryable": models.Retryable(err)}

	var (
		structural *models.StructuralError
		stock      *models.InsufficientStockError
		unknown    *models.UnknownMaterialError
		over       *models.OverReleaseError
		transition *models.InvalidTransitionError
	)
	switch {
	case errors.As(err, &structural):
		body["violations"] = structural.Violations
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &stock):
		body["shortages"] = stock.Shortages
		return http.StatusConflict, body
	case errors.As(err, &unknown):
		body["material_id"] = unknown.MaterialId
		return http.StatusBadRequest, body
	case errors.As(err, &over):
		return http.StatusConflict, body
	case errors.As(err, &transition):
		body["status"] = transition.From
		return http.StatusConflict, body
	case errors.Is(err, models.ErrConfigurationLocked), errors.Is(err, models.ErrConfigurationChanged),
		errors.Is(err, models.ErrDuplicateMaterial):
		return http.StatusConflict, body
	case errors.Is(err, models.ErrReservationNotFound), errors.Is(err, models.ErrConfigurationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, models.ErrInvalidQuantity), errors.Is(err, models.ErrOrderLineRequired):
		return http.StatusBadRequest, body
	case errors.Is(err, utils.ErrLockNotObtained):
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, gin.H{"error": "internal error", "retryable": models.Retryable(err)}
}
