package models

import (
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"github.com/sirupsen/logrus"
)

// LowStockEvent is emitted when a material crosses its low-stock threshold
// in either direction.
type LowStockEvent struct {
	AlertId      int               `json:"alert_id"`
	MaterialId   string            `json:"material_id"`
	Kind         LowStockEventKind `json:"kind"`
	OnHand       int               `json:"on_hand"`
	Reserved     int               `json:"reserved"`
	Available    int               `json:"available"`
	LowThreshold int               `json:"low_threshold"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// LowStockAlert is the outbox row written in the same transaction as the
// stock mutation that raised or cleared the flag. The dispatcher publishes it.
type LowStockAlert struct {
	ID               int               `gorm:"primary_key;index:idx_low_stock_dispatch,priority:3" json:"id"`
	MaterialId       string            `gorm:"size:64;not null;index" json:"material_id"`
	Kind             LowStockEventKind `gorm:"size:10;not null" json:"kind"`
	OnHand           int               `gorm:"not null" json:"on_hand"`
	Reserved         int               `gorm:"not null" json:"reserved"`
	Available        int               `gorm:"not null" json:"available"`
	LowThreshold     int               `gorm:"not null" json:"low_threshold"`
	CorrelationId    string            `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string            `gorm:"size:20;index;not null;default:'PENDING';index:idx_low_stock_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishAttempts  int               `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time        `gorm:"index;index:idx_low_stock_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time        `gorm:"index" json:"locked_at"`
	LockedBy         *string           `gorm:"size:100" json:"locked_by"`
	LastPublishError *string           `gorm:"type:text" json:"last_publish_error"`
	PubSubMessageId  *string           `gorm:"size:255" json:"pubsub_message_id"`
	PublishedAt      *time.Time        `gorm:"index" json:"published_at"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a LowStockAlert) Event() LowStockEvent {
	return LowStockEvent{
		AlertId:      a.ID,
		MaterialId:   a.MaterialId,
		Kind:         a.Kind,
		OnHand:       a.OnHand,
		Reserved:     a.Reserved,
		Available:    a.Available,
		LowThreshold: a.LowThreshold,
		OccurredAt:   a.CreatedAt,
	}
}

func ConvertToLowStockMessage(a LowStockAlert) config.LowStockMessage {
	return config.LowStockMessage{
		AlertId:       a.ID,
		MaterialId:    a.MaterialId,
		Kind:          string(a.Kind),
		OnHand:        a.OnHand,
		Reserved:      a.Reserved,
		Available:     a.Available,
		LowThreshold:  a.LowThreshold,
		OccurredAt:    a.CreatedAt,
		CorrelationId: a.CorrelationId,
	}
}

// LowStockBroker fans committed events out to in-process subscribers.
// Delivery never blocks the writer: a full subscriber buffer drops the event
// and the outbox row remains the durable record.
type LowStockBroker struct {
	mu     sync.Mutex
	nextId int
	subs   map[int]chan LowStockEvent
}

func NewLowStockBroker() *LowStockBroker {
	return &LowStockBroker{subs: make(map[int]chan LowStockEvent)}
}

func (b *LowStockBroker) Subscribe(buffer int) (<-chan LowStockEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan LowStockEvent, buffer)

	b.mu.Lock()
	id := b.nextId
	b.nextId++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

func (b *LowStockBroker) publish(events []LowStockEvent) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range events {
		for _, ch := range b.subs {
			select {
			case ch <- ev:
			default:
				config.GetLogger().WithFields(logrus.Fields{
					"field":       "LowStockBroker",
					"material_id": ev.MaterialId,
					"kind":        ev.Kind,
				}).Warn("subscriber buffer full, low-stock event dropped")
			}
		}
	}
}
