package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"copy-trader-sol/pkg/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const deliveryTimeout = 5 * time.Second

// KafkaNotifier 把跟单结果投递到 Kafka topic，供下游风控/报表消费。
type KafkaNotifier struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaNotifier 创建生产者并确保 topic 存在。
func NewKafkaNotifier(brokers, topic string) (*KafkaNotifier, error) {
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin client: %w", err)
	}
	defer adminClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta, err := adminClient.GetMetadata(nil, true, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	exists := false
	for _, t := range meta.Topics {
		if t.Topic == topic {
			exists = true
			break
		}
	}
	if !exists {
		replicationFactor := 1
		if len(meta.Brokers) > 1 {
			replicationFactor = 2
		}
		results, err := adminClient.CreateTopics(ctx, []kafka.TopicSpecification{{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: replicationFactor,
		}})
		if err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, result := range results {
			if result.Error.Code() != kafka.ErrNoError {
				return nil, fmt.Errorf("failed to create topic %s: %w", result.Topic, result.Error)
			}
		}
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "copy-trader-sol",

		// 可靠性保障
		"acks":               "all",
		"enable.idempotence": true,

		// 超时与重试
		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &KafkaNotifier{producer: producer, topic: topic}, nil
}

type resultMessage struct {
	MasterSignature string `json:"master_signature"`
	FollowerID      int64  `json:"follower_id"`
	FollowerLabel   string `json:"follower_label"`
	TradeType       string `json:"trade_type"`
	Platform        uint8  `json:"platform"`
	InputMint       string `json:"input_mint"`
	OutputMint      string `json:"output_mint"`
	CopySignature   string `json:"copy_signature,omitempty"`
	ViaFallback     bool   `json:"via_fallback"`
	FailReason      string `json:"fail_reason,omitempty"`
	Success         bool   `json:"success"`
	FinishedAt      int64  `json:"finished_at"`
}

func (n *KafkaNotifier) NotifyCopySuccess(ctx context.Context, result *CopyResult) {
	n.publish(ctx, result, true)
}

func (n *KafkaNotifier) NotifyCopyFailure(ctx context.Context, result *CopyResult) {
	n.publish(ctx, result, false)
}

func (n *KafkaNotifier) publish(ctx context.Context, result *CopyResult, success bool) {
	msg := resultMessage{
		MasterSignature: result.MasterSignature.String(),
		FollowerID:      result.FollowerID,
		FollowerLabel:   result.FollowerLabel,
		TradeType:       result.TradeType.String(),
		Platform:        result.Platform,
		InputMint:       result.InputMint.String(),
		OutputMint:      result.OutputMint.String(),
		ViaFallback:     result.ViaFallback,
		FailReason:      result.FailReason,
		Success:         success,
		FinishedAt:      result.FinishedAt,
	}
	if success {
		msg.CopySignature = result.CopySignature.String()
	}

	value, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("[Notifier] 序列化通知失败: %v", err)
		return
	}

	deliveryChan := make(chan kafka.Event, 1)
	err = n.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &n.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(fmt.Sprintf("%d", result.FollowerID)),
		Value: value,
	}, deliveryChan)
	if err != nil {
		logger.Errorf("[Notifier] produce 失败: %v", err)
		return
	}

	select {
	case e, ok := <-deliveryChan:
		if !ok {
			logger.Errorf("[Notifier] delivery channel closed unexpectedly")
			return
		}
		m, ok := e.(*kafka.Message)
		if !ok {
			logger.Errorf("[Notifier] invalid message type: %T", e)
			return
		}
		if m.TopicPartition.Error != nil {
			logger.Errorf("[Notifier] 投递失败: %v", m.TopicPartition.Error)
		}
	case <-time.After(deliveryTimeout):
		go safeDrain(deliveryChan)
		logger.Warnf("[Notifier] 投递超时 (>%v)", deliveryTimeout)
	case <-ctx.Done():
		go safeDrain(deliveryChan)
	}
}

func (n *KafkaNotifier) Close() {
	n.producer.Flush(3000)
	n.producer.Close()
}

// safeDrain 确保 deliveryChan 被 drain，避免 Kafka 回调阻塞
func safeDrain(ch <-chan kafka.Event) {
	defer func() {
		_ = recover()
	}()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
	}
}
