package audit

import (
	"context"

	"github.com/wyfcoding/corebanking/pkg/logger"
	"github.com/wyfcoding/corebanking/pkg/mq"
)

// KafkaPublisher 把审计事件发布到 Kafka
type KafkaPublisher struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewKafkaPublisher 创建 Kafka 审计发布器
func NewKafkaPublisher(producer *mq.KafkaProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish 以实体 ID 为分区键发布事件
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if err := p.producer.SendMessage(ctx, p.topic, event.EntityID, event); err != nil {
		// 审计链路故障不阻断交易主流程，记录后返回错误由调用方决定
		logger.Error(ctx, "failed to publish audit event", "event_type", event.EventType, "entity_id", event.EntityID, "error", err)
		return err
	}
	return nil
}
