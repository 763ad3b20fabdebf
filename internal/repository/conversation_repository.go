package repository

import (
	"time"

	"gorm.io/gorm"

	"kin-spark-go/internal/model"
)

// ConversationRepository 会话数据访问接口
type ConversationRepository interface {
	Create(conv *model.Conversation) error
	FindByID(id uint) (*model.Conversation, error)
	FindByUUID(uuid string) (*model.Conversation, error)
	FindByUUIDForClient(clientID uint, uuid string) (*model.Conversation, error)
	FindBySessionToken(token string) (*model.Conversation, error)
	IncrementTurn(id uint) error
	IncrementBoundarySignals(id uint, turn int) (bool, error)
	UpdateState(id uint, state, outcome string, endedAt *time.Time) error
	UpdateOutcome(id uint, outcome string) error
	UpdateSentiment(id uint, sentiment string) error
	TouchExpiry(id uint, expiresAt time.Time) error
	ListByClient(clientID uint, state, outcome string, from, to *time.Time, offset, limit int) ([]model.Conversation, int64, error)
	SweepExpired(now time.Time) (int64, error)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(conv *model.Conversation) error {
	return r.db.Create(conv).Error
}

func (r *conversationRepository) FindByID(id uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.Where("id = ?", id).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) FindByUUID(uuid string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.Where("uuid = ?", uuid).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) FindByUUIDForClient(clientID uint, uuid string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.Where("client_id = ? AND uuid = ?", clientID, uuid).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) FindBySessionToken(token string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.Where("session_token = ?", token).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// IncrementTurn 原子递增轮次计数，避免读改写竞争
func (r *conversationRepository) IncrementTurn(id uint) error {
	return r.db.Model(&model.Conversation{}).Where("id = ?", id).
		Update("turn_count", gorm.Expr("turn_count + 1")).Error
}

// IncrementBoundarySignals 原子递增边界信号计数。
// last_boundary_turn 条件保证同一轮内重复调用只生效一次，
// 返回值表示本次调用是否真正递增。
func (r *conversationRepository) IncrementBoundarySignals(id uint, turn int) (bool, error) {
	result := r.db.Model(&model.Conversation{}).
		Where("id = ? AND last_boundary_turn <> ?", id, turn).
		Updates(map[string]interface{}{
			"boundary_signals_fired": gorm.Expr("boundary_signals_fired + 1"),
			"last_boundary_turn":     turn,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *conversationRepository) UpdateState(id uint, state, outcome string, endedAt *time.Time) error {
	updates := map[string]interface{}{"state": state}
	if outcome != "" {
		updates["outcome"] = outcome
	}
	if endedAt != nil {
		updates["ended_at"] = endedAt
	}
	return r.db.Model(&model.Conversation{}).Where("id = ?", id).Updates(updates).Error
}

func (r *conversationRepository) UpdateOutcome(id uint, outcome string) error {
	return r.db.Model(&model.Conversation{}).Where("id = ?", id).
		Update("outcome", outcome).Error
}

func (r *conversationRepository) UpdateSentiment(id uint, sentiment string) error {
	return r.db.Model(&model.Conversation{}).Where("id = ?", id).
		Update("sentiment", sentiment).Error
}

// TouchExpiry 每轮对话后滑动延长会话过期时间
func (r *conversationRepository) TouchExpiry(id uint, expiresAt time.Time) error {
	return r.db.Model(&model.Conversation{}).Where("id = ?", id).
		Update("expires_at", expiresAt).Error
}

// ListByClient 按条件分页查询租户的会话列表，按创建时间倒序
func (r *conversationRepository) ListByClient(clientID uint, state, outcome string, from, to *time.Time, offset, limit int) ([]model.Conversation, int64, error) {
	query := r.db.Model(&model.Conversation{}).Where("client_id = ?", clientID)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	if outcome != "" {
		query = query.Where("outcome = ?", outcome)
	}
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at < ?", *to)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var convs []model.Conversation
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&convs).Error
	if err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

// SweepExpired 将过期的活跃会话批量标记为 abandoned
func (r *conversationRepository) SweepExpired(now time.Time) (int64, error) {
	result := r.db.Model(&model.Conversation{}).
		Where("state = ? AND expires_at <= ?", model.ConversationActive, now).
		Updates(map[string]interface{}{
			"state":    model.ConversationAbandoned,
			"ended_at": now,
		})
	return result.RowsAffected, result.Error
}
