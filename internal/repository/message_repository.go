package repository

import (
	"gorm.io/gorm"

	"kin-spark-go/internal/model"
)

// MessageRepository 消息数据访问接口
type MessageRepository interface {
	Create(msg *model.Message) error
	FindByConversationID(conversationID uint) ([]model.Message, error)
	FindRecent(conversationID uint, limit int) ([]model.Message, error)
	FirstUserMessages(conversationIDs []uint) (map[uint]string, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(msg *model.Message) error {
	return r.db.Create(msg).Error
}

func (r *messageRepository) FindByConversationID(conversationID uint) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("id ASC").Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// FindRecent 查询会话最近 limit 条消息，按时间正序返回
func (r *messageRepository) FindRecent(conversationID uint, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("id DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// 倒序查出后翻转为时间正序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// FirstUserMessages 批量查询每个会话的首条用户消息，用于列表页预览
func (r *messageRepository) FirstUserMessages(conversationIDs []uint) (map[uint]string, error) {
	previews := make(map[uint]string, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return previews, nil
	}

	var msgs []model.Message
	err := r.db.Where("conversation_id IN ? AND role = ?", conversationIDs, model.RoleUser).
		Order("id ASC").Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if _, ok := previews[msg.ConversationID]; !ok {
			previews[msg.ConversationID] = msg.Content
		}
	}
	return previews, nil
}
