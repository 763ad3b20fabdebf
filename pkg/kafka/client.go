// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"kin-spark-go/internal/config"
	"kin-spark-go/pkg/database"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/tasks"
)

// TaskHandler 处理一条消费到的消息。
// 返回的 taskKey 用于失败重试计数；taskKey 为空且出错时视为消息格式错误，
// 直接提交 offset 跳过，避免毒消息阻塞队列。
type TaskHandler interface {
	HandleMessage(ctx context.Context, value []byte) (taskKey string, err error)
}

// maxAttempts 单个任务的最大处理次数，超过后提交 offset 放弃。
const maxAttempts = 3

var (
	ingestionWriter *kafka.Writer
	leadSyncWriter  *kafka.Writer
)

// InitProducers 初始化两个主题的 Kafka 生产者：文档摄取与线索同步。
func InitProducers(cfg config.KafkaConfig) {
	ingestionWriter = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.IngestionTopic,
		Balancer: &kafka.LeastBytes{},
	}
	leadSyncWriter = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.LeadSyncTopic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceIngestionTask 发送一个文档摄取任务。
func ProduceIngestionTask(ctx context.Context, task tasks.IngestionTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return ingestionWriter.WriteMessages(ctx, kafka.Message{Value: taskBytes})
}

// ProduceLeadSyncTask 发送一个线索 CRM 同步任务。
func ProduceLeadSyncTask(ctx context.Context, task tasks.LeadSyncTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return leadSyncWriter.WriteMessages(ctx, kafka.Message{Value: taskBytes})
}

// StartConsumer 启动一个 Kafka 消费者循环，直到 ctx 取消。
// 处理成功后手动提交 offset；失败时用 Redis 按任务键计数，
// 连续失败达到上限后提交 offset 终止重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, topic, groupID string, handler TaskHandler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s' (group: %s)", topic, groupID)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("Kafka 消费者收到退出信号，停止监听主题 '%s'", topic)
				break
			}
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		log.Infof("收到 Kafka 消息: topic=%s offset=%d", topic, m.Offset)

		taskKey, handleErr := handler.HandleMessage(ctx, m.Value)
		if handleErr == nil {
			// 清理失败计数并提交 offset
			if taskKey != "" {
				_ = database.RDB.Del(ctx, attemptsKey(topic, taskKey)).Err()
			}
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
			continue
		}

		if taskKey == "" {
			// 消息本身无法解析，提交跳过
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", handleErr, string(m.Value))
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Errorf("处理任务失败: topic=%s key=%s, Error: %v", topic, taskKey, handleErr)
		attempts, incErr := database.RDB.Incr(ctx, attemptsKey(topic, taskKey)).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			continue
		}
		_ = database.RDB.Expire(ctx, attemptsKey(topic, taskKey), 24*time.Hour).Err()

		if attempts >= maxAttempts {
			log.Errorf("任务多次失败(>=%d)，提交 offset 终止重试: key=%s", maxAttempts, taskKey)
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
		// attempts 未达上限时不提交 offset，让 Kafka 自动重投
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

func attemptsKey(topic, taskKey string) string {
	return fmt.Sprintf("spark:retry:%s:%s", topic, taskKey)
}
