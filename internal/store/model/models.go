package model

import (
	"time"

	"gorm.io/datatypes"
)

// ActiveOrderModel 每个 (strategy, instrument) 至多一行，Body 为完整记录 JSON。
type ActiveOrderModel struct {
	Strategy   string         `gorm:"column:strategy;primaryKey"`
	Instrument string         `gorm:"column:instrument;primaryKey"`
	RecordID   string         `gorm:"column:record_id;index"`
	Status     string         `gorm:"column:status;index"`
	Body       datatypes.JSON `gorm:"column:body"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (ActiveOrderModel) TableName() string { return "active_orders" }

// CompletedOrderModel 只追加；Seq 保证读取顺序与写入顺序一致。
type CompletedOrderModel struct {
	Seq        int64          `gorm:"column:seq;primaryKey;autoIncrement"`
	Strategy   string         `gorm:"column:strategy;index"`
	Instrument string         `gorm:"column:instrument;index"`
	RecordID   string         `gorm:"column:record_id;index"`
	Status     string         `gorm:"column:status"`
	Body       datatypes.JSON `gorm:"column:body"`
	ClosedAt   *time.Time     `gorm:"column:closed_at"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
}

func (CompletedOrderModel) TableName() string { return "completed_orders" }
