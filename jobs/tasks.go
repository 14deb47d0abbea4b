package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStock alerts on items at or below their reorder threshold.
	TaskTypeLowStock = "inventory:low_stock"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// LowStockPayload describes an item that crossed its reorder threshold.
type LowStockPayload struct {
	ItemID        int64  `json:"item_id"`
	Code          string `json:"code"`
	Description   string `json:"description"`
	Balance       int64  `json:"balance"`
	MinStockLevel int64  `json:"min_stock_level"`
}

// NewLowStockTask constructs an Asynq task for a low-stock alert.
func NewLowStockTask(payload LowStockPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStock, data, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window for key pruning.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
