package storage

import (
	"fmt"
	"time"

	"swapbook/internal/domain"
)

// OrderModel is the persisted row of an order. Legs are stored as JSON
// since they are never queried by field.
type OrderModel struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement:false"`
	Creator    string         `gorm:"index;not null"`
	Filler     string         `gorm:"default:''"`
	Status     string         `gorm:"index;not null"`
	SecretHash string         `gorm:"default:''"`
	Initiator  domain.SwapLeg `gorm:"serializer:json;not null"`
	Follower   domain.SwapLeg `gorm:"serializer:json;not null"`
	CreatedAt  time.Time      `gorm:"autoCreateTime:false"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime:false"`
}

func (OrderModel) TableName() string { return "orders" }

// RetiredOrderModel marks an id that was cancelled and may never be reused.
type RetiredOrderModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	RetiredAt time.Time
}

func (RetiredOrderModel) TableName() string { return "retired_orders" }

func toModel(o domain.Order) OrderModel {
	return OrderModel{
		ID:         uint64(o.ID),
		Creator:    string(o.Creator),
		Filler:     string(o.Filler),
		Status:     o.Status.String(),
		SecretHash: o.SecretHash.String(),
		Initiator:  o.Initiator,
		Follower:   o.Follower,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func (m OrderModel) toDomain() (domain.Order, error) {
	status, err := domain.ParseStatus(m.Status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %d: %w", m.ID, err)
	}
	hash, err := domain.ParseSecretHash(m.SecretHash)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %d: %w", m.ID, err)
	}
	return domain.Order{
		ID:         domain.OrderID(m.ID),
		Creator:    domain.Actor(m.Creator),
		Filler:     domain.Actor(m.Filler),
		Initiator:  m.Initiator,
		Follower:   m.Follower,
		SecretHash: hash,
		Status:     status,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}
