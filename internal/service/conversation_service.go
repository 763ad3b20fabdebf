package service

import (
	"time"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
)

// previewMaxLen 会话列表中首条消息预览的长度上限
const previewMaxLen = 100

// ConversationService 定义了管理后台会话查询的接口。
type ConversationService interface {
	List(clientID uint, state, outcome string, from, to *time.Time, offset, limit int) ([]model.ConversationListItem, int64, error)
	Detail(clientID uint, uuid string) (*model.ConversationDetail, error)
}

type conversationService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	leadRepo repository.LeadRepository
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	leadRepo repository.LeadRepository,
) ConversationService {
	return &conversationService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		leadRepo: leadRepo,
	}
}

// List 返回会话列表，附带首条用户消息预览与时长
func (s *conversationService) List(clientID uint, state, outcome string, from, to *time.Time, offset, limit int) ([]model.ConversationListItem, int64, error) {
	convs, total, err := s.convRepo.ListByClient(clientID, state, outcome, from, to, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]uint, 0, len(convs))
	for _, conv := range convs {
		ids = append(ids, conv.ID)
	}
	previews, err := s.msgRepo.FirstUserMessages(ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]model.ConversationListItem, 0, len(convs))
	for _, conv := range convs {
		items = append(items, model.ConversationListItem{
			UUID:                conv.UUID,
			FirstMessagePreview: truncatePreview(previews[conv.ID]),
			TurnCount:           conv.TurnCount,
			State:               conv.State,
			Outcome:             conv.Outcome,
			Sentiment:           conv.Sentiment,
			CreatedAt:           model.LocalTime(conv.CreatedAt),
			EndedAt:             model.NewLocalTime(conv.EndedAt),
			DurationSeconds:     durationSeconds(&conv),
		})
	}
	return items, total, nil
}

// Detail 返回单个会话的完整视图：元数据、全量转写与线索摘要
func (s *conversationService) Detail(clientID uint, uuid string) (*model.ConversationDetail, error) {
	conv, err := s.convRepo.FindByUUIDForClient(clientID, uuid)
	if err != nil {
		return nil, err
	}

	msgs, err := s.msgRepo.FindByConversationID(conv.ID)
	if err != nil {
		return nil, err
	}
	transcript := make([]model.TranscriptMessage, 0, len(msgs))
	for _, m := range msgs {
		transcript = append(transcript, model.TranscriptMessage{
			UUID:      m.UUID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: model.LocalTime(m.CreatedAt),
		})
	}

	detail := &model.ConversationDetail{
		UUID:            conv.UUID,
		TurnCount:       conv.TurnCount,
		State:           conv.State,
		Outcome:         conv.Outcome,
		Sentiment:       conv.Sentiment,
		CreatedAt:       model.LocalTime(conv.CreatedAt),
		EndedAt:         model.NewLocalTime(conv.EndedAt),
		DurationSeconds: durationSeconds(conv),
		Messages:        transcript,
	}

	// 线索缺失是常态，不作为错误
	if lead, err := s.leadRepo.FindByConversationUUID(conv.UUID); err == nil {
		detail.Lead = &model.LeadSummary{
			UUID:      lead.UUID,
			Name:      lead.Name,
			Email:     lead.Email,
			Phone:     lead.Phone,
			Status:    lead.Status,
			CreatedAt: model.LocalTime(lead.CreatedAt),
		}
	}
	return detail, nil
}

func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewMaxLen {
		return content
	}
	return string(runes[:previewMaxLen]) + "..."
}

func durationSeconds(conv *model.Conversation) int {
	if conv.EndedAt == nil {
		return 0
	}
	return int(conv.EndedAt.Sub(conv.CreatedAt).Seconds())
}
