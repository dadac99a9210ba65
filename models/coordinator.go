package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	historyActionPlace   = "PLACE"
	historyActionReject  = "REJECT"
	historyActionFulfill = "FULFILL"
	historyActionRelease = "RELEASE"
	historyActionReturn  = "RETURN"
)

const maxPlaceOrderAttempts = 3

type PlaceOrderInput struct {
	OrderLineId string `json:"order_line_id"`
	// Either an existing configuration id or an inline configuration.
	ConfigurationId int               `json:"configuration_id"`
	Configuration   *NewConfiguration `json:"configuration"`
	Quantity        int               `json:"quantity"`
}

// Coordinator ties reservations to order lifecycle events.
//
//	PENDING -> RESERVED -> CONSUMED
//	PENDING -> RESERVED -> RELEASED   (cancel, refund)
//	PENDING -> REJECTED               (structural defect, stock shortage)
//
// A reservation row is written directly in its first persisted state.
type Coordinator struct {
	db      *gorm.DB
	catalog *Catalog
	configs *ConfigurationRepo
	ledger  *Ledger
	tracer  trace.Tracer
}

func NewCoordinator(db *gorm.DB, catalog *Catalog, configs *ConfigurationRepo, ledger *Ledger) *Coordinator {
	return &Coordinator{
		db:      db,
		catalog: catalog,
		configs: configs,
		ledger:  ledger,
		tracer:  otel.Tracer("mapframe_backend/models/coordinator"),
	}
}

// PlaceOrder reserves the materials for one order line. On a structural
// defect or a stock shortage it persists a REJECTED reservation and returns
// it together with the typed error. Placing the same order line again
// returns the existing reservation unless that one was rejected.
func (c *Coordinator) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.PlaceOrder", trace.WithAttributes(
		attribute.String("order_line_id", input.OrderLineId),
		attribute.Int("quantity", input.Quantity),
	))
	defer span.End()

	var (
		res *Reservation
		err error
	)
	for attempt := 1; attempt <= maxPlaceOrderAttempts; attempt++ {
		res, err = c.placeOrder(ctx, input)
		if !errors.Is(err, ErrConfigurationChanged) {
			break
		}
		span.AddEvent("configuration changed; retrying", trace.WithAttributes(attribute.Int("attempt", attempt)))
	}
	recordSpanError(span, err)
	return res, err
}

func (c *Coordinator) placeOrder(ctx context.Context, input PlaceOrderInput) (*Reservation, error) {
	input.OrderLineId = strings.TrimSpace(input.OrderLineId)
	if input.OrderLineId == "" {
		return nil, ErrOrderLineRequired
	}
	if input.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	existing, err := findActiveReservation(c.db.WithContext(ctx), input.OrderLineId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var (
		cfgInput *NewConfiguration
		cfgId    *int
	)
	if input.ConfigurationId != 0 {
		cfg, err := c.configs.GetConfiguration(ctx, input.ConfigurationId)
		if err != nil {
			return nil, err
		}
		id := cfg.ID
		cfgId = &id
		cfgInput = cfg.Input()
	} else {
		cfgInput = input.Configuration
	}

	if err := ValidateStructure(ctx, c.catalog, cfgInput); err != nil {
		var structural *StructuralError
		if !errors.As(err, &structural) {
			return nil, err
		}
		rejected, rerr := c.persistRejection(ctx, input, cfgId, nil, RejectReasonStructural, structural)
		if rerr != nil {
			return nil, rerr
		}
		return rejected, err
	}

	req, err := Requirements(cfgInput, input.Quantity)
	if err != nil {
		return nil, err
	}
	lockKeys := append(req.LockKeys(), utils.OrderLineLockKey(input.OrderLineId))

	var (
		result    *Reservation
		rejectErr error
	)
	err = c.ledger.Transact(ctx, lockKeys, func(t *LedgerTx) error {
		result, rejectErr = nil, nil
		tx := t.DB()

		existing, err := findActiveReservation(tx, input.OrderLineId)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		configId := cfgId
		if configId != nil {
			// the lock set came from an unlocked read; it only holds if the
			// row-locked configuration still needs the same materials
			current, err := getConfigurationForUpdateTx(tx, *configId)
			if err != nil {
				return err
			}
			currentReq, err := Requirements(current.Input(), input.Quantity)
			if err != nil || !currentReq.Equal(req) {
				return ErrConfigurationChanged
			}
		} else {
			cfg, err := createConfigurationTx(tx, cfgInput)
			if err != nil {
				return err
			}
			id := cfg.ID
			configId = &id
		}

		if err := t.Reserve(req); err != nil {
			var stock *InsufficientStockError
			if !errors.As(err, &stock) {
				return err
			}
			rejectErr = err
			result, err = createRejectedTx(tx, input, configId, req, RejectReasonInsufficientStock, stock)
			return err
		}

		if err := lockConfigurationTx(tx, *configId); err != nil {
			return err
		}

		now := time.Now().UTC()
		res := &Reservation{
			ID:              uuid.NewString(),
			OrderLineId:     input.OrderLineId,
			ConfigurationId: configId,
			Quantity:        input.Quantity,
			OrderSource:     orderSource(ctx),
			Status:          ReservationStatusReserved,
			ReservedAt:      &now,
			Details:         detailsFor(req),
		}
		if err := tx.Create(res).Error; err != nil {
			return err
		}
		if err := createHistory(tx, historyActionPlace, res.ID, HistoryReferenceReservation, nil, res.snapshot(),
			fmt.Sprintf("Reserved %d unit(s) across %d material(s) for order line %s.", req.Total(), len(req), input.OrderLineId)); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrConfigurationChanged) {
			config.LogError(config.GetLogger(), "Coordinator", "PlaceOrder", "reserve transaction", input.OrderLineId, err)
		}
		return nil, err
	}
	if rejectErr != nil {
		return result, rejectErr
	}
	return result, nil
}

func (c *Coordinator) persistRejection(ctx context.Context, input PlaceOrderInput, cfgId *int, req MaterialRequirement, reason RejectReason, cause error) (*Reservation, error) {
	var res *Reservation
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = createRejectedTx(tx, input, cfgId, req, reason, cause)
		return err
	})
	return res, err
}

func createRejectedTx(tx *gorm.DB, input PlaceOrderInput, cfgId *int, req MaterialRequirement, reason RejectReason, cause error) (*Reservation, error) {
	res := &Reservation{
		ID:              uuid.NewString(),
		OrderLineId:     input.OrderLineId,
		ConfigurationId: cfgId,
		Quantity:        input.Quantity,
		OrderSource:     orderSource(tx.Statement.Context),
		Status:          ReservationStatusRejected,
		RejectReason:    &reason,
		RejectDetail:    cause.Error(),
		Details:         detailsFor(req),
	}
	if err := tx.Create(res).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx, historyActionReject, res.ID, HistoryReferenceReservation, nil, res.snapshot(), cause.Error()); err != nil {
		return nil, err
	}
	return res, nil
}

func orderSource(ctx context.Context) string {
	source, _ := utils.GetOrderSourceFromContext(ctx)
	return source
}

func detailsFor(req MaterialRequirement) []ReservationDetail {
	details := make([]ReservationDetail, 0, len(req))
	for _, id := range req.MaterialIds() {
		details = append(details, ReservationDetail{MaterialId: id, Quantity: req[id]})
	}
	return details
}

// findActiveReservation returns the latest non-rejected reservation of the
// order line, or nil.
func findActiveReservation(db *gorm.DB, orderLineId string) (*Reservation, error) {
	var res Reservation
	err := db.Preload("Details").
		Where("order_line_id = ? AND status <> ?", orderLineId, ReservationStatusRejected).
		Order("created_at DESC").
		First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// Fulfill consumes the reserved units: RESERVED -> CONSUMED.
func (c *Coordinator) Fulfill(ctx context.Context, reservationId string) (*Reservation, error) {
	return c.transition(ctx, reservationId, ReservationActionFulfill, "")
}

// Cancel releases the reserved units: RESERVED -> RELEASED.
func (c *Coordinator) Cancel(ctx context.Context, reservationId string) (*Reservation, error) {
	return c.transition(ctx, reservationId, ReservationActionCancel, "")
}

// Refund before fulfillment releases like Cancel. After fulfillment use ReturnFulfilled.
func (c *Coordinator) Refund(ctx context.Context, reservationId string) (*Reservation, error) {
	return c.transition(ctx, reservationId, ReservationActionRefund, "")
}

// ReturnFulfilled puts physically returned units of a consumed reservation
// back on hand. The status stays CONSUMED; it can happen once.
func (c *Coordinator) ReturnFulfilled(ctx context.Context, reservationId string, note string) (*Reservation, error) {
	return c.transition(ctx, reservationId, ReservationActionReturn, note)
}

func (c *Coordinator) transition(ctx context.Context, reservationId string, action ReservationAction, note string) (*Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator."+string(action), trace.WithAttributes(
		attribute.String("reservation_id", reservationId),
	))
	defer span.End()

	current, err := c.Get(ctx, reservationId)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	// reject early without taking locks; the check repeats under lock
	if err := checkTransition(current, action); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	lockKeys := append(current.LockKeys(), utils.OrderLineLockKey(current.OrderLineId))
	var result *Reservation
	err = c.ledger.Transact(ctx, lockKeys, func(t *LedgerTx) error {
		tx := t.DB()
		var res Reservation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", reservationId).
			First(&res).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationId)
			}
			return err
		}
		if err := tx.Where("reservation_id = ?", reservationId).Order("material_id").Find(&res.Details).Error; err != nil {
			return err
		}
		if err := checkTransition(&res, action); err != nil {
			return err
		}

		before := res.snapshot()
		from := res.Status
		req := res.Requirement()
		now := time.Now().UTC()
		updates := map[string]interface{}{}
		var (
			historyAction string
			description   string
		)

		switch action {
		case ReservationActionFulfill:
			if err := t.Consume(req); err != nil {
				return err
			}
			res.Status = ReservationStatusConsumed
			res.ConsumedAt = &now
			updates["status"] = res.Status
			updates["consumed_at"] = &now
			historyAction = historyActionFulfill
			description = fmt.Sprintf("Consumed %d unit(s) on fulfillment.", req.Total())
		case ReservationActionCancel, ReservationActionRefund:
			if err := t.Release(req); err != nil {
				return err
			}
			via := action
			res.Status = ReservationStatusReleased
			res.ReleasedVia = &via
			res.ReleasedAt = &now
			updates["status"] = res.Status
			updates["released_via"] = via
			updates["released_at"] = &now
			historyAction = historyActionRelease
			description = fmt.Sprintf("Released %d unit(s) on %s.", req.Total(), strings.ToLower(string(action)))
		case ReservationActionReturn:
			for _, id := range req.MaterialIds() {
				if err := t.Restock(id, req[id]); err != nil {
					return err
				}
			}
			res.ReturnedAt = &now
			updates["returned_at"] = &now
			historyAction = historyActionReturn
			description = fmt.Sprintf("Returned %d unit(s) to stock after fulfillment.", req.Total())
			if note != "" {
				description += " " + note
			}
		}

		upd := tx.Model(&Reservation{}).Where("id = ? AND status = ?", reservationId, from).Updates(updates)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return &InvalidTransitionError{From: from, Action: action}
		}
		if err := createHistory(tx, historyAction, res.ID, HistoryReferenceReservation, before, res.snapshot(), description); err != nil {
			return err
		}
		if action == ReservationActionReturn {
			if err := createHistory(tx, historyActionReturn, res.ID, HistoryReferenceInventory, nil, req, description); err != nil {
				return err
			}
		}
		result = &res
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		var invalid *InvalidTransitionError
		var over *OverReleaseError
		if !errors.As(err, &invalid) && !errors.As(err, &over) && !errors.Is(err, ErrReservationNotFound) {
			config.LogError(config.GetLogger(), "Coordinator", string(action), "transition transaction", reservationId, err)
		}
		return nil, err
	}
	return result, nil
}

func checkTransition(res *Reservation, action ReservationAction) error {
	switch action {
	case ReservationActionFulfill, ReservationActionCancel, ReservationActionRefund:
		if res.Status == ReservationStatusReserved {
			return nil
		}
	case ReservationActionReturn:
		if res.Status == ReservationStatusConsumed && res.ReturnedAt == nil {
			return nil
		}
	}
	return &InvalidTransitionError{From: res.Status, Action: action}
}

func (c *Coordinator) Get(ctx context.Context, reservationId string) (*Reservation, error) {
	var res Reservation
	err := c.db.WithContext(ctx).Preload("Details", func(db *gorm.DB) *gorm.DB {
		return db.Order("material_id")
	}).Where("id = ?", reservationId).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationId)
		}
		return nil, err
	}
	return &res, nil
}

func (c *Coordinator) ListByOrderLine(ctx context.Context, orderLineId string) ([]*Reservation, error) {
	var list []*Reservation
	err := c.db.WithContext(ctx).Preload("Details", func(db *gorm.DB) *gorm.DB {
		return db.Order("material_id")
	}).Where("order_line_id = ?", orderLineId).Order("created_at ASC").Find(&list).Error
	return list, err
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
