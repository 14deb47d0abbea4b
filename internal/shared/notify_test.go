package shared

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNotifierPublish(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, NotificationChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	notifier := NewNotifier(client)
	err = notifier.Publish(ctx, Notification{
		Kind:     "low_stock",
		Message:  "item SKU-1 is low on stock",
		Entity:   "item",
		EntityID: "SKU-1",
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var got Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, "low_stock", got.Kind)
		require.Equal(t, "SKU-1", got.EntityID)
		require.False(t, got.At.IsZero(), "publish stamps the time")
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestNilNotifierDropsMessages(t *testing.T) {
	var notifier *Notifier
	require.NoError(t, notifier.Publish(context.Background(), Notification{Kind: "noop"}))
	require.Equal(t, "1,250", notifier.FormatQty(1250))
}

func TestNotifierFormatting(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	notifier := NewNotifier(client)
	require.Equal(t, "12,500", notifier.FormatQty(12500))
	require.Equal(t, "1,234.50", notifier.FormatAmount(decimal.RequireFromString("1234.499")))
}
