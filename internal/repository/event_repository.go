package repository

import (
	"time"

	"gorm.io/gorm"

	"kin-spark-go/internal/model"
)

// EventRepository 埋点事件数据访问接口
type EventRepository interface {
	Create(event *model.AnalyticsEvent) error
	CountByType(clientID uint, from, to time.Time) ([]model.EventTypeCount, error)
}

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Create(event *model.AnalyticsEvent) error {
	return r.db.Create(event).Error
}

// CountByType 统计时间窗口内各事件类型的数量
func (r *eventRepository) CountByType(clientID uint, from, to time.Time) ([]model.EventTypeCount, error) {
	var rows []model.EventTypeCount
	err := r.db.Model(&model.AnalyticsEvent{}).
		Select("event_type, COUNT(*) AS count").
		Where("client_id = ? AND created_at >= ? AND created_at < ?", clientID, from, to).
		Group("event_type").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
