package service

import (
	"time"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/log"
)

// AnalyticsService 定义了埋点事件的接口。
// Record 只记不抛：埋点失败绝不影响对话主流程。
type AnalyticsService interface {
	Record(clientID uint, conversationUUID, eventType string, metadata model.JSONMap)
	Summary(clientID uint, from, to time.Time) ([]model.EventTypeCount, error)
}

type analyticsService struct {
	eventRepo repository.EventRepository
}

// NewAnalyticsService 创建一个新的 AnalyticsService 实例。
func NewAnalyticsService(eventRepo repository.EventRepository) AnalyticsService {
	return &analyticsService{eventRepo: eventRepo}
}

func (s *analyticsService) Record(clientID uint, conversationUUID, eventType string, metadata model.JSONMap) {
	event := &model.AnalyticsEvent{
		ClientID:         clientID,
		ConversationUUID: conversationUUID,
		EventType:        eventType,
		Metadata:         metadata,
	}
	if err := s.eventRepo.Create(event); err != nil {
		log.Warnf("[Analytics] 记录事件 %s 失败: %v", eventType, err)
	}
}

func (s *analyticsService) Summary(clientID uint, from, to time.Time) ([]model.EventTypeCount, error) {
	return s.eventRepo.CountByType(clientID, from, to)
}
