package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxLedgerTxAttempts = 3

// Ledger owns every write to inventory_records. Mutations run inside
// Transact, which takes the keyed locks for the exact material set before
// the database transaction begins.
type Ledger struct {
	db        *gorm.DB
	locker    utils.KeyedLocker
	broker    *LowStockBroker
	inclusive bool
}

func NewLedger(db *gorm.DB, locker utils.KeyedLocker) *Ledger {
	if locker == nil {
		locker = utils.NewLocalLocker()
	}
	return &Ledger{
		db:        db,
		locker:    locker,
		broker:    NewLowStockBroker(),
		inclusive: config.LowStockInclusive(),
	}
}

// Subscribe receives low-stock events after the transaction that produced
// them has committed. Call cancel to stop and close the channel.
func (l *Ledger) Subscribe(buffer int) (<-chan LowStockEvent, func()) {
	return l.broker.Subscribe(buffer)
}

func (l *Ledger) Available(ctx context.Context, materialId string) (int, error) {
	record, err := l.Record(ctx, materialId)
	if err != nil {
		return 0, err
	}
	return record.Available(), nil
}

func (l *Ledger) Record(ctx context.Context, materialId string) (*InventoryRecord, error) {
	var record InventoryRecord
	err := l.db.WithContext(ctx).Where("material_id = ?", materialId).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &UnknownMaterialError{MaterialId: materialId}
		}
		return nil, err
	}
	return &record, nil
}

// Records reads several positions without locking. Unknown ids fail with
// the lowest missing id.
func (l *Ledger) Records(ctx context.Context, materialIds []string) (map[string]*InventoryRecord, error) {
	ids := sortStrings(utils.UniqueSlice(materialIds))
	var records []*InventoryRecord
	if err := l.db.WithContext(ctx).Where("material_id IN ?", ids).Find(&records).Error; err != nil {
		return nil, err
	}
	result := make(map[string]*InventoryRecord, len(records))
	for _, r := range records {
		result[r.MaterialId] = r
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, &UnknownMaterialError{MaterialId: id}
		}
	}
	return result, nil
}

func (l *Ledger) List(ctx context.Context) ([]*InventoryRecord, error) {
	var records []*InventoryRecord
	err := l.db.WithContext(ctx).Preload("Material").Order("material_id").Find(&records).Error
	return records, err
}

func (l *Ledger) LowStock(ctx context.Context) ([]*InventoryRecord, error) {
	var records []*InventoryRecord
	err := l.db.WithContext(ctx).Where("is_low_stock = ?", true).Order("material_id").Find(&records).Error
	return records, err
}

func (l *Ledger) Restock(ctx context.Context, materialId string, quantity int) (*InventoryRecord, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	var result InventoryRecord
	err := l.Transact(ctx, []string{utils.MaterialLockKey(materialId)}, func(t *LedgerTx) error {
		if err := t.Restock(materialId, quantity); err != nil {
			return err
		}
		result = *t.records[materialId]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (l *Ledger) SetThreshold(ctx context.Context, materialId string, threshold int) (*InventoryRecord, error) {
	if threshold < 0 {
		return nil, ErrInvalidQuantity
	}
	var result InventoryRecord
	err := l.Transact(ctx, []string{utils.MaterialLockKey(materialId)}, func(t *LedgerTx) error {
		if err := t.SetThreshold(materialId, threshold); err != nil {
			return err
		}
		result = *t.records[materialId]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Reserve is all-or-nothing: either every material in req gains its
// reservation or nothing changes.
func (l *Ledger) Reserve(ctx context.Context, req MaterialRequirement) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return l.Transact(ctx, req.LockKeys(), func(t *LedgerTx) error {
		return t.Reserve(req)
	})
}

func (l *Ledger) Release(ctx context.Context, req MaterialRequirement) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return l.Transact(ctx, req.LockKeys(), func(t *LedgerTx) error {
		return t.Release(req)
	})
}

func (l *Ledger) Consume(ctx context.Context, req MaterialRequirement) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return l.Transact(ctx, req.LockKeys(), func(t *LedgerTx) error {
		return t.Consume(req)
	})
}

// Transact acquires lockKeys, opens one database transaction and hands fn a
// LedgerTx bound to it. Only tx may be used inside fn. Deadlocks and lock
// wait timeouts replay fn up to maxLedgerTxAttempts times. Low-stock events
// are delivered to subscribers only after a successful commit.
func (l *Ledger) Transact(ctx context.Context, lockKeys []string, fn func(t *LedgerTx) error) error {
	release, err := l.locker.Acquire(ctx, lockKeys)
	if err != nil {
		return err
	}
	defer release()

	allowed := make(map[string]bool, len(lockKeys))
	for _, k := range lockKeys {
		allowed[k] = true
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	var events []LowStockEvent
	for attempt := 1; ; attempt++ {
		events = nil
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			t := &LedgerTx{
				tx:            tx,
				inclusive:     l.inclusive,
				allowed:       allowed,
				correlationId: correlationId,
				records:       make(map[string]*InventoryRecord),
			}
			if err := fn(t); err != nil {
				return err
			}
			events = t.events
			return nil
		})
		if err == nil {
			break
		}
		if attempt < maxLedgerTxAttempts && utils.IsRetryableTxError(err) {
			config.GetLogger().WithFields(logrus.Fields{
				"field":     "Ledger",
				"attempt":   attempt,
				"lock_keys": lockKeys,
			}).Warn("retrying inventory transaction: " + err.Error())
			continue
		}
		return err
	}

	l.broker.publish(events)
	return nil
}

// LedgerTx is the only place on_hand and reserved are written.
type LedgerTx struct {
	tx            *gorm.DB
	inclusive     bool
	allowed       map[string]bool
	correlationId string
	records       map[string]*InventoryRecord
	events        []LowStockEvent
}

// DB is the transaction handle for writes that must commit with the stock change.
func (t *LedgerTx) DB() *gorm.DB {
	return t.tx
}

// Record returns the locked position for materialId.
func (t *LedgerTx) Record(materialId string) (*InventoryRecord, error) {
	if err := t.lock([]string{materialId}); err != nil {
		return nil, err
	}
	r := *t.records[materialId]
	return &r, nil
}

// lock takes row locks on every not yet locked material, ascending by id.
func (t *LedgerTx) lock(materialIds []string) error {
	var pending []string
	for _, id := range sortStrings(utils.UniqueSlice(materialIds)) {
		if !t.allowed[utils.MaterialLockKey(id)] {
			return fmt.Errorf("material %s is outside the transaction lock set", id)
		}
		if _, ok := t.records[id]; !ok {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	var rows []*InventoryRecord
	err := t.tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("material_id IN ?", pending).
		Order("material_id ASC").
		Find(&rows).Error
	if err != nil {
		return err
	}
	for _, r := range rows {
		t.records[r.MaterialId] = r
	}
	for _, id := range pending {
		if _, ok := t.records[id]; !ok {
			return &UnknownMaterialError{MaterialId: id}
		}
	}
	return nil
}

func (t *LedgerTx) Reserve(req MaterialRequirement) error {
	if err := req.Validate(); err != nil {
		return err
	}
	ids := req.MaterialIds()
	if err := t.lock(ids); err != nil {
		return err
	}

	var shortages []Shortage
	for _, id := range ids {
		if avail := t.records[id].Available(); avail < req[id] {
			shortages = append(shortages, Shortage{MaterialId: id, Requested: req[id], Available: avail})
		}
	}
	if len(shortages) > 0 {
		return &InsufficientStockError{Shortages: shortages}
	}

	now := time.Now().UTC()
	for _, id := range ids {
		qty := req[id]
		res := t.tx.Exec(
			"UPDATE inventory_records SET reserved = reserved + ?, updated_at = ? WHERE material_id = ? AND on_hand - reserved >= ?",
			qty, now, id, qty)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			// earlier materials are already updated; the caller must roll back
			return fmt.Errorf("%w: %s", ErrInventoryRowChanged, id)
		}
		t.records[id].Reserved += qty
		t.records[id].UpdatedAt = now
	}
	return t.refreshLowStock(ids)
}

func (t *LedgerTx) Release(req MaterialRequirement) error {
	if err := req.Validate(); err != nil {
		return err
	}
	ids := req.MaterialIds()
	if err := t.lock(ids); err != nil {
		return err
	}
	for _, id := range ids {
		if t.records[id].Reserved < req[id] {
			return &OverReleaseError{MaterialId: id, Requested: req[id], Reserved: t.records[id].Reserved}
		}
	}

	now := time.Now().UTC()
	for _, id := range ids {
		qty := req[id]
		res := t.tx.Exec(
			"UPDATE inventory_records SET reserved = reserved - ?, updated_at = ? WHERE material_id = ? AND reserved >= ?",
			qty, now, id, qty)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return &OverReleaseError{MaterialId: id, Requested: qty, Reserved: t.records[id].Reserved}
		}
		t.records[id].Reserved -= qty
		t.records[id].UpdatedAt = now
	}
	return t.refreshLowStock(ids)
}

// Consume removes reserved units from stock: on_hand and reserved both drop,
// available is unchanged.
func (t *LedgerTx) Consume(req MaterialRequirement) error {
	if err := req.Validate(); err != nil {
		return err
	}
	ids := req.MaterialIds()
	if err := t.lock(ids); err != nil {
		return err
	}
	for _, id := range ids {
		if t.records[id].Reserved < req[id] {
			return &OverReleaseError{MaterialId: id, Requested: req[id], Reserved: t.records[id].Reserved}
		}
	}

	now := time.Now().UTC()
	for _, id := range ids {
		qty := req[id]
		res := t.tx.Exec(
			"UPDATE inventory_records SET on_hand = on_hand - ?, reserved = reserved - ?, updated_at = ? WHERE material_id = ? AND reserved >= ? AND on_hand >= ?",
			qty, qty, now, id, qty, qty)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return &OverReleaseError{MaterialId: id, Requested: qty, Reserved: t.records[id].Reserved}
		}
		t.records[id].OnHand -= qty
		t.records[id].Reserved -= qty
		t.records[id].UpdatedAt = now
	}
	return t.refreshLowStock(ids)
}

func (t *LedgerTx) Restock(materialId string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if err := t.lock([]string{materialId}); err != nil {
		return err
	}
	now := time.Now().UTC()
	res := t.tx.Exec(
		"UPDATE inventory_records SET on_hand = on_hand + ?, updated_at = ? WHERE material_id = ?",
		quantity, now, materialId)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return &UnknownMaterialError{MaterialId: materialId}
	}
	t.records[materialId].OnHand += quantity
	t.records[materialId].UpdatedAt = now
	return t.refreshLowStock([]string{materialId})
}

func (t *LedgerTx) SetThreshold(materialId string, threshold int) error {
	if threshold < 0 {
		return ErrInvalidQuantity
	}
	if err := t.lock([]string{materialId}); err != nil {
		return err
	}
	now := time.Now().UTC()
	res := t.tx.Exec(
		"UPDATE inventory_records SET low_threshold = ?, updated_at = ? WHERE material_id = ?",
		threshold, now, materialId)
	if res.Error != nil {
		return res.Error
	}
	t.records[materialId].LowThreshold = threshold
	t.records[materialId].UpdatedAt = now
	return t.refreshLowStock([]string{materialId})
}

// refreshLowStock re-evaluates the flag for ids and records a transition
// in the outbox when it flips.
func (t *LedgerTx) refreshLowStock(ids []string) error {
	for _, id := range ids {
		r := t.records[id]
		low := r.belowThreshold(t.inclusive)
		if low == r.IsLowStock {
			continue
		}
		if err := t.tx.Exec("UPDATE inventory_records SET is_low_stock = ? WHERE material_id = ?", low, id).Error; err != nil {
			return err
		}
		r.IsLowStock = low

		kind := LowStockCleared
		if low {
			kind = LowStockRaised
		}
		alert := LowStockAlert{
			MaterialId:    id,
			Kind:          kind,
			OnHand:        r.OnHand,
			Reserved:      r.Reserved,
			Available:     r.Available(),
			LowThreshold:  r.LowThreshold,
			CorrelationId: t.correlationId,
			PublishStatus: OutboxPublishStatusPending,
		}
		if err := t.tx.Create(&alert).Error; err != nil {
			return err
		}
		t.events = append(t.events, alert.Event())
	}
	return nil
}
