// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"time"
	"tutoria-go/internal/config"
	"tutoria-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// 学习活动事件类型。
const (
	EventChatExchange        = "chat_exchange"
	EventQuizGraded          = "quiz_graded"
	EventFlashcardsGenerated = "flashcards_generated"
)

// StudyEvent 描述一次学习活动（一轮问答、一次测验、一副卡片）。
// 事件仅用于下游分析，本服务不消费。
type StudyEvent struct {
	Type      string `json:"type"`
	UserID    uint   `json:"userId"`
	TutorID   string `json:"tutorId"`
	Subject   string `json:"subject"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceStudyEvent 发送一个学习活动事件到 Kafka。
// 发送是即发即弃语义：调用方只记录失败，不回滚业务操作。
func ProduceStudyEvent(event StudyEvent) error {
	if producer == nil {
		return nil
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Value: eventBytes,
		},
	)
}
