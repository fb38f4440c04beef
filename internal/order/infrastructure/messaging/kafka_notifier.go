// Package messaging 将结算事件投递到 Kafka，由通知服务消费并完成实际推送
package messaging

import (
	"context"
	"time"

	"github.com/wyfcoding/fxsettlement/internal/order/domain"
)

// Producer 消息生产者
type Producer interface {
	SendMessage(ctx context.Context, topic, key string, value any) error
}

// NotificationEvent 投递到通知主题的统一消息格式
type NotificationEvent struct {
	Event      string    `json:"event"`
	UserID     string    `json:"user_id"`
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// KafkaNotifier 通过 Kafka 投递通知
type KafkaNotifier struct {
	producer Producer
	topic    string
}

// NewKafkaNotifier 创建 Kafka 通知投递器
func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

var _ domain.Notifier = (*KafkaNotifier)(nil)

// Enqueue 以用户 ID 作为消息 Key，保证同一用户的通知有序
func (n *KafkaNotifier) Enqueue(ctx context.Context, event, userID, orderID string) error {
	return n.producer.SendMessage(ctx, n.topic, userID, &NotificationEvent{
		Event:      event,
		UserID:     userID,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
	})
}
