package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/tasks"
)

// hubspotExistingIDPattern 从 HubSpot 409 冲突响应的 message 中取出已有联系人 ID。
var hubspotExistingIDPattern = regexp.MustCompile(`Existing ID:\s*(\d+)`)

// LeadSyncProcessor 把捕获到的线索推送到客户配置的 CRM 和 Webhook。
// 同步失败只影响 sync_status，不回写会话流程。
type LeadSyncProcessor struct {
	leadRepo       repository.LeadRepository
	clientRepo     repository.ClientRepository
	httpClient     *http.Client
	hubspotBaseURL string
}

// NewLeadSyncProcessor 创建一个新的 LeadSyncProcessor 实例。
func NewLeadSyncProcessor(leadRepo repository.LeadRepository, clientRepo repository.ClientRepository) *LeadSyncProcessor {
	return &LeadSyncProcessor{
		leadRepo:       leadRepo,
		clientRepo:     clientRepo,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		hubspotBaseURL: "https://api.hubapi.com",
	}
}

// HandleMessage 实现 kafka.TaskHandler，解析线索同步任务并执行处理。
func (p *LeadSyncProcessor) HandleMessage(ctx context.Context, value []byte) (string, error) {
	var task tasks.LeadSyncTask
	if err := json.Unmarshal(value, &task); err != nil {
		return "", fmt.Errorf("解析线索同步任务失败: %w", err)
	}
	if task.LeadUUID == "" {
		return "", errors.New("线索同步任务缺少 lead_uuid")
	}
	return task.LeadUUID, p.Process(ctx, task)
}

// Process 是线索同步的主函数。
func (p *LeadSyncProcessor) Process(ctx context.Context, task tasks.LeadSyncTask) error {
	log.Infof("[LeadSync] 开始同步线索, LeadUUID: %s", task.LeadUUID)

	// 1. 加载线索与所属客户端
	lead, err := p.leadRepo.FindByUUID(task.LeadUUID)
	if err != nil {
		return fmt.Errorf("查询线索失败: %w", err)
	}
	if lead == nil {
		log.Warnf("[LeadSync] 线索不存在, 跳过, LeadUUID: %s", task.LeadUUID)
		return nil
	}
	client, err := p.clientRepo.FindByID(lead.ClientID)
	if err != nil {
		return fmt.Errorf("查询客户端失败: %w", err)
	}
	if client == nil {
		log.Warnf("[LeadSync] 线索所属客户端不存在, 跳过, ClientID: %d", lead.ClientID)
		return nil
	}

	settling := client.Settling
	if settling.HubSpotToken == "" && settling.WebhookURL == "" {
		log.Infof("[LeadSync] 客户端未配置任何同步目标, 跳过, Client: %s", client.Slug)
		return nil
	}

	// 2. HubSpot 联系人 upsert
	var crmContactID string
	var syncErr error
	if settling.HubSpotToken != "" {
		log.Infof("[LeadSync] 步骤1: 推送 HubSpot 联系人, LeadUUID: %s", lead.UUID)
		crmContactID, syncErr = p.upsertHubSpotContact(ctx, settling.HubSpotToken, lead)
		if syncErr != nil {
			log.Errorf("[LeadSync] HubSpot 推送失败, LeadUUID: %s, Error: %v", lead.UUID, syncErr)
		} else {
			log.Infof("[LeadSync] HubSpot 推送成功, ContactID: %s", crmContactID)
		}
	}

	// 3. Webhook 投递
	if settling.WebhookURL != "" {
		log.Infof("[LeadSync] 步骤2: 投递 Webhook, LeadUUID: %s", lead.UUID)
		if err := p.deliverWebhook(ctx, settling.WebhookURL, client, lead); err != nil {
			log.Errorf("[LeadSync] Webhook 投递失败, LeadUUID: %s, Error: %v", lead.UUID, err)
			if syncErr == nil {
				syncErr = err
			}
		}
	}

	// 4. 回写同步状态
	if syncErr != nil {
		if err := p.leadRepo.UpdateSyncStatus(lead.ID, model.SyncStatusFailed, crmContactID); err != nil {
			log.Errorf("[LeadSync] 回写失败状态出错, LeadUUID: %s, Error: %v", lead.UUID, err)
		}
		return syncErr
	}
	if err := p.leadRepo.UpdateSyncStatus(lead.ID, model.SyncStatusSynced, crmContactID); err != nil {
		return fmt.Errorf("回写同步状态失败: %w", err)
	}
	log.Infof("[LeadSync] 线索同步完成, LeadUUID: %s", lead.UUID)
	return nil
}

// hubspotContact 是 HubSpot CRM v3 联系人接口的请求体。
type hubspotContact struct {
	Properties map[string]string `json:"properties"`
}

// hubspotResponse 只取响应中关心的字段。
type hubspotResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// upsertHubSpotContact 创建 HubSpot 联系人；邮箱已存在时冲突响应会带出
// 既有联系人 ID，改为对该 ID 做属性更新。返回联系人 ID。
func (p *LeadSyncProcessor) upsertHubSpotContact(ctx context.Context, token string, lead *model.Lead) (string, error) {
	contact := hubspotContact{Properties: p.contactProperties(lead)}

	createURL := p.hubspotBaseURL + "/crm/v3/objects/contacts"
	status, body, err := p.callHubSpot(ctx, http.MethodPost, createURL, token, contact)
	if err != nil {
		return "", err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		return body.ID, nil

	case status == http.StatusConflict:
		// 邮箱已存在，从冲突信息里取出 ID 改为更新
		m := hubspotExistingIDPattern.FindStringSubmatch(body.Message)
		if len(m) < 2 {
			return "", fmt.Errorf("HubSpot 冲突响应中未找到既有联系人 ID: %s", body.Message)
		}
		existingID := m[1]
		updateURL := fmt.Sprintf("%s/crm/v3/objects/contacts/%s", p.hubspotBaseURL, existingID)
		status, body, err = p.callHubSpot(ctx, http.MethodPatch, updateURL, token, contact)
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			return "", fmt.Errorf("HubSpot 更新联系人返回异常状态码: %d", status)
		}
		if body.ID != "" {
			return body.ID, nil
		}
		return existingID, nil

	default:
		return "", fmt.Errorf("HubSpot 创建联系人返回异常状态码: %d, message: %s", status, body.Message)
	}
}

// contactProperties 把线索字段映射为 HubSpot 联系人属性，空值不带。
func (p *LeadSyncProcessor) contactProperties(lead *model.Lead) map[string]string {
	props := map[string]string{
		"email":          lead.Email,
		"hs_lead_status": "NEW",
	}
	if lead.Name != "" {
		first, last := splitContactName(lead.Name)
		props["firstname"] = first
		if last != "" {
			props["lastname"] = last
		}
	}
	if lead.Phone != "" {
		props["phone"] = lead.Phone
	}
	if lead.Company != "" {
		props["company"] = lead.Company
	}
	return props
}

// callHubSpot 发送一次 HubSpot API 请求并解出响应体。
func (p *LeadSyncProcessor) callHubSpot(ctx context.Context, method, url, token string, contact hubspotContact) (int, hubspotResponse, error) {
	var parsed hubspotResponse

	payload, err := json.Marshal(contact)
	if err != nil {
		return 0, parsed, fmt.Errorf("序列化 HubSpot 请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return 0, parsed, fmt.Errorf("构造 HubSpot 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, parsed, fmt.Errorf("请求 HubSpot 失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, parsed, fmt.Errorf("读取 HubSpot 响应失败: %w", err)
	}
	// 冲突等错误响应也带 JSON 体，解析失败不视为错误
	_ = json.Unmarshal(raw, &parsed)
	return resp.StatusCode, parsed, nil
}

// splitContactName 把自由填写的姓名拆成 first/last 两段。
func splitContactName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// webhookPayload 是投递给客户 Webhook 的通知体。
type webhookPayload struct {
	Event      string      `json:"event"`
	ClientUUID string      `json:"client_uuid"`
	ClientSlug string      `json:"client_slug"`
	Lead       *model.Lead `json:"lead"`
	SentAt     time.Time   `json:"sent_at"`
}

// deliverWebhook 把线索以 JSON POST 到客户配置的回调地址，非 2xx 视为失败。
func (p *LeadSyncProcessor) deliverWebhook(ctx context.Context, webhookURL string, client *model.Client, lead *model.Lead) error {
	payload, err := json.Marshal(webhookPayload{
		Event:      "lead.captured",
		ClientUUID: client.UUID,
		ClientSlug: client.Slug,
		Lead:       lead,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("序列化 Webhook 通知失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造 Webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求 Webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回异常状态码: %d", resp.StatusCode)
	}
	return nil
}
