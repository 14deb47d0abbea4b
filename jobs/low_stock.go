package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/storekeep-erp/storekeep/internal/inventory"
	"github.com/storekeep-erp/storekeep/internal/shared"
)

// LowStockEnqueuer hands low-stock items to the job queue. It satisfies
// inventory.LowStockAlerter so posting paths stay decoupled from delivery.
type LowStockEnqueuer struct {
	client *Client
}

// NewLowStockEnqueuer constructs the enqueuer.
func NewLowStockEnqueuer(client *Client) *LowStockEnqueuer {
	return &LowStockEnqueuer{client: client}
}

// LowStockDetected enqueues one alert task for the item.
func (e *LowStockEnqueuer) LowStockDetected(ctx context.Context, item inventory.Item) error {
	if e == nil || e.client == nil {
		return nil
	}
	task, err := NewLowStockTask(LowStockPayload{
		ItemID:        item.ID,
		Code:          item.Code,
		Description:   item.Description,
		Balance:       item.CurrentBalance,
		MinStockLevel: item.MinStockLevel,
	})
	if err != nil {
		return err
	}
	_, err = e.client.Enqueue(ctx, task)
	return err
}

// LowStockHandler turns queued alerts into published notifications.
type LowStockHandler struct {
	notifier *shared.Notifier
	logger   *slog.Logger
}

// NewLowStockHandler constructs the handler.
func NewLowStockHandler(notifier *shared.Notifier, logger *slog.Logger) *LowStockHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LowStockHandler{notifier: notifier, logger: logger}
}

// Handle processes TaskTypeLowStock tasks.
func (h *LowStockHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LowStockPayload
	if err := unmarshalPayload(t, &payload); err != nil {
		return err
	}
	msg := fmt.Sprintf("item %s is low on stock: %s left, reorder at %s",
		payload.Code, h.notifier.FormatQty(payload.Balance), h.notifier.FormatQty(payload.MinStockLevel))
	err := h.notifier.Publish(ctx, shared.Notification{
		Kind:     "low_stock",
		Message:  msg,
		Entity:   "item",
		EntityID: payload.Code,
		Meta: map[string]any{
			"item_id":         payload.ItemID,
			"balance":         payload.Balance,
			"min_stock_level": payload.MinStockLevel,
		},
	})
	if err != nil {
		h.logger.Warn("publish low stock alert", slog.Int64("item_id", payload.ItemID), slog.Any("error", err))
		return err
	}
	h.logger.Info("low stock alert published", slog.Int64("item_id", payload.ItemID), slog.String("code", payload.Code))
	return nil
}
