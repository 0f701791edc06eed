package store

import "errors"

var (
	// ErrStoreLocked 在限定时间内未拿到存储锁；可重试，调用方不得静默丢弃变更。
	ErrStoreLocked = errors.New("store locked")
	// ErrCorruptPersistedData 持久化快照无法解析；读路径按空处理。
	ErrCorruptPersistedData = errors.New("corrupt persisted data")
	// ErrInvalidTransition 状态迁移不符合生命周期。
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInstrumentBusy 该交易对已有进行中的订单，不能被新订单替换。
	ErrInstrumentBusy = errors.New("instrument already has an active order")
	// ErrNotFound active 分区中没有该交易对。
	ErrNotFound = errors.New("order not found")
)
