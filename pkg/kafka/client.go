// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"studymate-go/internal/config"
	"studymate-go/pkg/database"
	"studymate-go/pkg/log"
	"studymate-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// 同一文档版本的最大投递次数，超过后提交 offset 并放弃该任务。
const maxDeliveryAttempts = 3

// TaskProcessor defines the interface for any service that can process an
// ingest task. This decouples the Kafka consumer from the concrete pipeline.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
	// Abandon is invoked after delivery attempts are exhausted so the
	// document can be marked failed instead of staying pending forever.
	Abandon(ctx context.Context, task tasks.IngestTask, reason string)
}

// Producer 封装了摄取任务的 Kafka 生产者。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceIngestTask 发送一个文档摄取任务到 Kafka。
// 以 DocumentID 作为消息 key，保证同一文档的任务有序消费。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(task.DocumentID),
			Value: taskBytes,
		},
	)
}

// attemptsKey 生成某一文档版本的投递失败计数 Redis 键。
func attemptsKey(task tasks.IngestTask) string {
	return fmt.Sprintf("ingest:attempts:%s:%s", task.DocumentID, task.ContentHash)
}

// StartConsumer 启动一个 Kafka 消费者来处理摄取任务。
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "studymate-ingest-consumer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理摄取任务: DocumentID=%s, FileName=%s, Hash=%s", task.DocumentID, task.FileName, task.ContentHash)
		if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("摄取任务失败: DocumentID=%s, Error: %v", task.DocumentID, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			key := attemptsKey(task)
			attempts, incErr := database.RDB.Incr(context.Background(), key).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			_ = database.RDB.Expire(context.Background(), key, 24*time.Hour).Err()
			if attempts >= maxDeliveryAttempts {
				log.Errorf("摄取任务多次失败(>=%d)，放弃重试: DocumentID=%s", maxDeliveryAttempts, task.DocumentID)
				processor.Abandon(context.Background(), task, err.Error())
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			// attempts 未达上限时不提交 offset，让 Kafka 自动重投
		} else {
			log.Infof("摄取任务处理成功: DocumentID=%s", task.DocumentID)
			_ = database.RDB.Del(context.Background(), attemptsKey(task)).Err()
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}
