package store

import "errors"

var (
	// ErrStoreUnavailable 持久层不可达，整个 tick 需要中止并在下一次重试。
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDuplicateSignal 同一股票同一类型在同一小时内已有记录。
	ErrDuplicateSignal = errors.New("duplicate signal")
	// ErrHorizonConflict 该时点已写入不同的值。
	ErrHorizonConflict = errors.New("horizon already recorded with a different value")
	// ErrRecordClosed 记录已冻结。
	ErrRecordClosed = errors.New("record closed")
	ErrNotFound     = errors.New("record not found")
	// ErrClaimLost 租约已过期或被其他 worker 接管。
	ErrClaimLost = errors.New("claim lost")
)
