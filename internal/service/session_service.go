package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/token"
)

// SessionService 定义了访客会话生命周期的接口。
// 令牌在 Redis 中带滑动 TTL 并绑定来源 IP，MySQL 的 expires_at 是过期的最终依据。
type SessionService interface {
	ResolveOrCreate(ctx context.Context, client *model.Client, sessionToken, ip string) (*model.Conversation, string, bool, error)
	Touch(ctx context.Context, conv *model.Conversation, sessionToken string) error
	StartSweeper(ctx context.Context)
}

type sessionService struct {
	convRepo    repository.ConversationRepository
	sessionRepo repository.SessionRepository
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(convRepo repository.ConversationRepository, sessionRepo repository.SessionRepository) SessionService {
	return &sessionService{
		convRepo:    convRepo,
		sessionRepo: sessionRepo,
	}
}

// ResolveOrCreate 解析会话令牌，无效或过期时开启新会话。
// 返回值依次为：会话、应回传给挂件的令牌、是否新建。
func (s *sessionService) ResolveOrCreate(ctx context.Context, client *model.Client, sessionToken, ip string) (*model.Conversation, string, bool, error) {
	now := time.Now()
	if sessionToken != "" {
		if conv := s.resolve(ctx, client, sessionToken, ip, now); conv != nil {
			return conv, sessionToken, false, nil
		}
	}

	// 新会话：64 位十六进制令牌 + 对外 UUID
	newToken := token.GenerateRandomString(32)
	conv := &model.Conversation{
		UUID:         uuid.NewString(),
		ClientID:     client.ID,
		SessionToken: newToken,
		State:        model.ConversationActive,
		ExpiresAt:    now.Add(sessionTTL()),
	}
	if err := s.convRepo.Create(conv); err != nil {
		return nil, "", false, fmt.Errorf("创建会话失败: %w", err)
	}

	entry := &repository.SessionEntry{ConversationUUID: conv.UUID, ClientID: client.ID, IP: ip}
	if err := s.sessionRepo.Save(ctx, newToken, entry, sessionTTL()); err != nil {
		// 缓存写入失败不致命，后续轮次会走 MySQL 回查
		log.Warnf("[Session] 写入会话缓存失败: %v", err)
	}
	log.Infof("[Session] 租户 %d 新建会话 %s", client.ID, conv.UUID)
	return conv, newToken, true, nil
}

// resolve 尝试恢复既有会话，任何不匹配都返回 nil 走新建
func (s *sessionService) resolve(ctx context.Context, client *model.Client, sessionToken, ip string, now time.Time) *model.Conversation {
	entry, err := s.sessionRepo.Get(ctx, sessionToken)
	if err != nil {
		log.Warnf("[Session] 读取会话缓存失败: %v", err)
	}

	if entry != nil {
		// 缓存命中：校验租户与来源 IP 绑定
		if entry.ClientID != client.ID || entry.IP != ip {
			return nil
		}
		conv, err := s.convRepo.FindByUUID(entry.ConversationUUID)
		if err != nil || conv.IsExpired(now) {
			return nil
		}
		return conv
	}

	// 缓存未命中：令牌本身不可猜测，允许按库内记录恢复并回填缓存
	conv, err := s.convRepo.FindBySessionToken(sessionToken)
	if err != nil || conv.ClientID != client.ID || conv.IsExpired(now) {
		return nil
	}
	refill := &repository.SessionEntry{ConversationUUID: conv.UUID, ClientID: client.ID, IP: ip}
	if err := s.sessionRepo.Save(ctx, sessionToken, refill, sessionTTL()); err != nil {
		log.Warnf("[Session] 回填会话缓存失败: %v", err)
	}
	return conv
}

// Touch 在一轮成功对话后滑动延长会话有效期
func (s *sessionService) Touch(ctx context.Context, conv *model.Conversation, sessionToken string) error {
	ttl := sessionTTL()
	if err := s.convRepo.TouchExpiry(conv.ID, time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("延长会话有效期失败: %w", err)
	}
	if err := s.sessionRepo.Refresh(ctx, sessionToken, ttl); err != nil {
		log.Warnf("[Session] 刷新会话缓存 TTL 失败: %v", err)
	}
	return nil
}

// StartSweeper 周期性把过期的活跃会话标记为 abandoned，直到 ctx 结束。
func (s *sessionService) StartSweeper(ctx context.Context) {
	interval := time.Duration(config.Conf.Spark.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Infof("[Session] 过期清扫已启动，间隔 %s", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("[Session] 过期清扫退出")
			return
		case <-ticker.C:
			swept, err := s.convRepo.SweepExpired(time.Now())
			if err != nil {
				log.Error("清扫过期会话失败", err)
				continue
			}
			if swept > 0 {
				log.Infof("[Session] 本轮标记 %d 个过期会话为 abandoned", swept)
			}
		}
	}
}

func sessionTTL() time.Duration {
	return time.Duration(config.Conf.Spark.SessionTimeoutMinutes) * time.Minute
}
