package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionEntry 会话令牌在 Redis 中的映射内容
type SessionEntry struct {
	ConversationUUID string `json:"conversation_uuid"`
	ClientID         uint   `json:"client_id"`
	IP               string `json:"ip"`
}

// SessionRepository 会话令牌缓存接口。
// 令牌以滑动 TTL 存储，缓存未命中即视为会话过期。
type SessionRepository interface {
	Save(ctx context.Context, token string, entry *SessionEntry, ttl time.Duration) error
	Get(ctx context.Context, token string) (*SessionEntry, error)
	Refresh(ctx context.Context, token string, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

type redisSessionRepository struct {
	rdb *redis.Client
}

func NewSessionRepository(rdb *redis.Client) SessionRepository {
	return &redisSessionRepository{rdb: rdb}
}

func (r *redisSessionRepository) getSessionKey(token string) string {
	return fmt.Sprintf("spark:session:%s", token)
}

func (r *redisSessionRepository) Save(ctx context.Context, token string, entry *SessionEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化会话条目失败: %w", err)
	}
	return r.rdb.Set(ctx, r.getSessionKey(token), data, ttl).Err()
}

// Get 查询令牌对应的会话条目，未命中返回 (nil, nil)
func (r *redisSessionRepository) Get(ctx context.Context, token string) (*SessionEntry, error) {
	data, err := r.rdb.Get(ctx, r.getSessionKey(token)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry SessionEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("反序列化会话条目失败: %w", err)
	}
	return &entry, nil
}

// Refresh 滑动延长令牌过期时间
func (r *redisSessionRepository) Refresh(ctx context.Context, token string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, r.getSessionKey(token), ttl).Err()
}

func (r *redisSessionRepository) Delete(ctx context.Context, token string) error {
	return r.rdb.Del(ctx, r.getSessionKey(token)).Err()
}
