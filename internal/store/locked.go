package store

import (
	"errors"
	"fmt"
	"time"
)

func isLocked(err error) bool { return errors.Is(err, ErrStoreLocked) }

// LockedError 构造带等待时长的 ErrStoreLocked。
func LockedError(resource string, waited time.Duration) error {
	return fmt.Errorf("%w: %s (waited %s)", ErrStoreLocked, resource, waited.Round(time.Millisecond))
}

// CorruptionError 构造带来源描述的 ErrCorruptPersistedData。
func CorruptionError(resource string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptPersistedData, resource, cause)
}
