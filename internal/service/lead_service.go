package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/kafka"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/tasks"
)

// LeadService 定义了线索捕获与后台管理的接口。
type LeadService interface {
	Capture(ctx context.Context, client *model.Client, draft *model.Lead) (*model.Lead, error)
	UpdateStatus(clientID uint, leadUUID, status, adminNotes string) (*model.Lead, error)
	List(clientID uint, status string, from, to *time.Time, offset, limit int) ([]model.Lead, int64, error)
	ExportCSV(w io.Writer, clientID uint, status string, from, to *time.Time) error
}

type leadService struct {
	leadRepo  repository.LeadRepository
	convRepo  repository.ConversationRepository
	analytics AnalyticsService
}

// NewLeadService 创建一个新的 LeadService 实例。
func NewLeadService(leadRepo repository.LeadRepository, convRepo repository.ConversationRepository, analytics AnalyticsService) LeadService {
	return &leadService{
		leadRepo:  leadRepo,
		convRepo:  convRepo,
		analytics: analytics,
	}
}

// Capture 保存挂件提交的线索。同一会话只保留一条线索，重复提交按更新处理。
// CRM 同步走 Kafka 异步执行，投递失败只记录，不影响提交结果。
func (s *leadService) Capture(ctx context.Context, client *model.Client, draft *model.Lead) (*model.Lead, error) {
	if strings.TrimSpace(draft.Email) == "" {
		return nil, fmt.Errorf("email 不能为空")
	}

	lead := s.mergeExisting(client.ID, draft)
	if lead.UUID == "" {
		lead.UUID = uuid.NewString()
	}
	lead.ClientID = client.ID
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	lead.SyncStatus = model.SyncStatusPending

	if err := s.leadRepo.Save(lead); err != nil {
		return nil, fmt.Errorf("保存线索失败: %w", err)
	}

	// 2. 关联会话标记 lead_captured 结果
	if lead.ConversationUUID != "" {
		conv, err := s.convRepo.FindByUUIDForClient(client.ID, lead.ConversationUUID)
		if err != nil {
			log.Warnf("[Lead] 线索 %s 关联的会话 %s 不存在", lead.UUID, lead.ConversationUUID)
		} else if err := s.convRepo.UpdateOutcome(conv.ID, model.OutcomeLeadCaptured); err != nil {
			log.Errorf("标记会话线索结果失败: %v", err)
		}
	}

	// 3. 埋点与异步 CRM 同步
	s.analytics.Record(client.ID, lead.ConversationUUID, model.EventLeadCaptured, model.JSONMap{
		"lead_uuid": lead.UUID,
	})
	if err := kafka.ProduceLeadSyncTask(ctx, tasks.LeadSyncTask{LeadUUID: lead.UUID}); err != nil {
		log.Errorf("投递 CRM 同步任务失败: %v", err)
	}

	log.Infof("[Lead] 租户 %d 捕获线索 %s (%s)", client.ID, lead.UUID, lead.Email)
	return lead, nil
}

// mergeExisting 同一会话已有线索时合并新提交的字段
func (s *leadService) mergeExisting(clientID uint, draft *model.Lead) *model.Lead {
	if draft.ConversationUUID == "" {
		return draft
	}
	existing, err := s.leadRepo.FindByConversationUUID(draft.ConversationUUID)
	if err != nil || existing.ClientID != clientID {
		return draft
	}
	existing.Name = draft.Name
	existing.Email = draft.Email
	if draft.Phone != "" {
		existing.Phone = draft.Phone
	}
	if draft.Company != "" {
		existing.Company = draft.Company
	}
	if draft.Notes != "" {
		existing.Notes = draft.Notes
	}
	return existing
}

func (s *leadService) UpdateStatus(clientID uint, leadUUID, status, adminNotes string) (*model.Lead, error) {
	if !model.ValidLeadStatus(status) {
		return nil, fmt.Errorf("无效的线索状态: %s", status)
	}
	lead, err := s.leadRepo.FindByUUIDForClient(clientID, leadUUID)
	if err != nil {
		return nil, err
	}
	if err := s.leadRepo.UpdateStatus(lead.ID, status, adminNotes); err != nil {
		return nil, fmt.Errorf("更新线索状态失败: %w", err)
	}
	lead.Status = status
	if adminNotes != "" {
		lead.AdminNotes = adminNotes
	}
	return lead, nil
}

func (s *leadService) List(clientID uint, status string, from, to *time.Time, offset, limit int) ([]model.Lead, int64, error) {
	return s.leadRepo.ListByClient(clientID, status, from, to, offset, limit)
}

// ExportCSV 导出线索列表。单元格做公式注入防护：
// 以 = + - @ 制表符或回车开头的值统一加单引号前缀。
func (s *leadService) ExportCSV(w io.Writer, clientID uint, status string, from, to *time.Time) error {
	leads, err := s.leadRepo.ListAllByClient(clientID, status, from, to)
	if err != nil {
		return fmt.Errorf("查询导出线索失败: %w", err)
	}

	cw := csv.NewWriter(w)
	header := []string{"created_at", "name", "email", "phone", "company", "status", "notes", "admin_notes", "conversation"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, lead := range leads {
		row := []string{
			lead.CreatedAt.Format(time.RFC3339),
			sanitizeCSVCell(lead.Name),
			sanitizeCSVCell(lead.Email),
			sanitizeCSVCell(lead.Phone),
			sanitizeCSVCell(lead.Company),
			lead.Status,
			sanitizeCSVCell(lead.Notes),
			sanitizeCSVCell(lead.AdminNotes),
			lead.ConversationUUID,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// sanitizeCSVCell 防御电子表格公式注入
func sanitizeCSVCell(cell string) string {
	if cell == "" {
		return cell
	}
	switch cell[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + cell
	}
	return cell
}
