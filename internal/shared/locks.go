package shared

import "fmt"

// PeriodCloseLockKey builds the redis key guarding transitions of one close.
func PeriodCloseLockKey(closeID int64) string {
	return fmt.Sprintf("period_close:%d:lock", closeID)
}

// IdempotencyKey namespaces processed-message markers per module.
func IdempotencyKey(module, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", module, key)
}
