// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"tutoria-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// historyTTL 是每个导师对话历史在 Redis 中的保留期。
const historyTTL = 30 * 24 * time.Hour

// ConversationRepository 定义了按导师保存的对话历史的操作接口。
type ConversationRepository interface {
	GetHistory(ctx context.Context, tutorID string) ([]model.ChatMessage, error)
	SaveHistory(ctx context.Context, tutorID string, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, tutorID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func historyKey(tutorID string) string {
	return fmt.Sprintf("tutor:%s:history", tutorID)
}

// GetHistory 从 Redis 获取某导师的对话历史；不存在时返回空列表。
func (r *redisConversationRepository) GetHistory(ctx context.Context, tutorID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, historyKey(tutorID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// SaveHistory 将某导师的完整对话历史整体写入 Redis。
func (r *redisConversationRepository) SaveHistory(ctx context.Context, tutorID string, messages []model.ChatMessage) error {
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, historyKey(tutorID), jsonData, historyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

// DeleteHistory 删除某导师的对话历史。
func (r *redisConversationRepository) DeleteHistory(ctx context.Context, tutorID string) error {
	if err := r.redisClient.Del(ctx, historyKey(tutorID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation history: %w", err)
	}
	return nil
}
