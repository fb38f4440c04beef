// Package mq 提供 Kafka 生产者，消息体以 JSON 编码，按 key 分区保证同一用户消息有序
package mq

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/fxsettlement/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers []string
	// 写入失败的最大尝试次数
	MaxRetries int
	// 重试退避基数（毫秒）
	RetryBackoff int
}

// Writer 抽象 kafka.Writer 的写入能力，便于测试替换
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer Writer
}

// NewProducer 创建 Kafka 生产者，topic 由每条消息指定
func NewProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := time.Duration(cfg.RetryBackoff) * time.Millisecond
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Snappy,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            maxAttempts,
		WriteBackoffMin:        backoff,
		WriteBackoffMax:        backoff * 10,
	}

	logger.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer}, nil
}

// NewProducerWithWriter 使用给定的 Writer 构造生产者
func NewProducerWithWriter(w Writer) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

// SendMessage 发送单条 JSON 消息
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}

	logger.Debug(ctx, "Kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
