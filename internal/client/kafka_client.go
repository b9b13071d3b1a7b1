package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"policy-core/internal/config"
	"policy-core/internal/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer  messageWriter
	brokers []string
	topic   string
	logger  *zap.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("no kafka notification topic configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.NotificationTopic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchSize:              100,
		BatchBytes:             1048576, // 1MB
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.NotificationTopic),
	)

	return &KafkaProducer{
		writer:  writer,
		brokers: cfg.Brokers,
		topic:   cfg.NotificationTopic,
		logger:  logger,
	}, nil
}

func (p *KafkaProducer) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("failed to close Kafka producer", zap.Error(err))
		return err
	}
	p.logger.Info("Kafka producer closed")
	return nil
}

// PublishNotification writes n keyed by its related report so every event
// about one report lands on the same partition.
func (p *KafkaProducer) PublishNotification(ctx context.Context, n models.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	key := n.RelatedReportID
	if key == "" {
		key = n.ID
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
			{Key: "notification_id", Value: []byte(n.ID)},
		},
		Time: n.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	p.logger.Debug("Published notification",
		zap.String("topic", p.topic),
		zap.String("notification_id", n.ID),
		zap.String("type", string(n.Type)),
	)
	return nil
}

// HealthCheck dials the first reachable broker and reads the topic's
// partitions.
func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: 5 * time.Second, DualStack: true}

	var lastErr error
	for _, broker := range p.brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.ReadPartitions(p.topic)
		conn.Close()
		if err != nil {
			return fmt.Errorf("failed to read Kafka partitions: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to connect to kafka broker: %w", lastErr)
}
