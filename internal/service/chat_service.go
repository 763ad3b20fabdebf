package service

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/internal/settling"
	"kin-spark-go/pkg/llm"
	"kin-spark-go/pkg/log"
)

// Emitter 把引擎产出的事件下发给具体传输层（SSE 或 WebSocket）。
// Done 的 terminated 标记告诉挂件这轮把会话推进了终止态。
type Emitter interface {
	Session(sessionToken, conversationUUID string, turnsRemaining int) error
	Token(text string) error
	WindDown() error
	Done(terminated bool) error
	Error(message string) error
}

// ChatService 定义了对话引擎的接口。
type ChatService interface {
	ProcessTurn(ctx context.Context, client *model.Client, sessionToken, userMessage, ip string, em Emitter) error
}

type chatService struct {
	sessions  SessionService
	preflight PreflightService
	assembler settling.Assembler
	router    ModelRouter
	convRepo  repository.ConversationRepository
	msgRepo   repository.MessageRepository
	analytics AnalyticsService
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	sessions SessionService,
	preflight PreflightService,
	assembler settling.Assembler,
	router ModelRouter,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	analytics AnalyticsService,
) ChatService {
	return &chatService{
		sessions:  sessions,
		preflight: preflight,
		assembler: assembler,
		router:    router,
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		analytics: analytics,
	}
}

// terminationNotice 终止会话时下发的固定收束语，不经过模型生成
const terminationNotice = "This conversation has ended. If you'd like to get in touch, please use the contact options on this site."

// maxMessageRunes 单条访客消息的长度上限
const maxMessageRunes = 4000

// ProcessTurn 处理访客的一轮对话，事件经 Emitter 下发。
func (s *chatService) ProcessTurn(ctx context.Context, client *model.Client, sessionToken, userMessage, ip string, em Emitter) error {
	// 1. 解析或新建会话，先下发 session 事件
	conv, outToken, isNew, err := s.sessions.ResolveOrCreate(ctx, client, sessionToken, ip)
	if err != nil {
		log.Error("解析会话失败", err)
		return em.Error("Unable to start a conversation right now. Please try again.")
	}
	maxTurns := s.effectiveMaxTurns(client)
	remaining := maxTurns - conv.TurnCount
	if remaining < 0 {
		remaining = 0
	}
	if err := em.Session(outToken, conv.UUID, remaining); err != nil {
		return err
	}

	// 2. 终态或已过期的会话拒绝生成。过期会话通常在解析阶段就滚动成新会话，
	// 这里兜底清扫器没跑到的窗口。
	if conv.IsTerminal() {
		return em.Error("This conversation has ended. Start a new chat to continue.")
	}
	if conv.IsExpired(time.Now()) {
		return em.Error("This conversation has expired. Start a new chat to continue.")
	}

	// 3. 校验消息体
	if strings.TrimSpace(userMessage) == "" {
		return em.Error("A message is required.")
	}
	if utf8.RuneCountInString(userMessage) > maxMessageRunes {
		return em.Error("That message is too long. Please keep it under 4000 characters.")
	}

	// 4. 轮次耗尽：逐词下发告别语并完成，不调用模型
	if conv.TurnCount >= maxTurns {
		return s.finishMaxTurns(client, conv, userMessage, em)
	}

	// 5. 读取窗口历史，时机在落库本轮用户消息之前
	history, err := s.loadWindowHistory(conv.ID)
	if err != nil {
		log.Errorf("读取会话历史失败: %v", err)
		history = nil
	}

	// 6. 落库用户消息
	userMsg := &model.Message{
		UUID:           uuid.NewString(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        userMessage,
	}
	if err := s.msgRepo.Create(userMsg); err != nil {
		log.Error("保存用户消息失败", err)
		return em.Error("Unable to process your message right now. Please try again.")
	}

	// 7. 埋点：会话首条消息单独记一类
	currentTurn := conv.TurnCount + 1
	eventType := model.EventMessage
	if isNew || conv.TurnCount == 0 {
		eventType = model.EventFirstMessage
	}
	s.analytics.Record(client.ID, conv.UUID, eventType, model.JSONMap{"turn": currentTurn})

	// 8. 预检：边界、状态、检索三路并发
	pre := s.preflight.Run(ctx, client, conv, history, userMessage)
	if pre.BoundarySignal != model.SignalNone {
		fired, err := s.convRepo.IncrementBoundarySignals(conv.ID, currentTurn)
		if err != nil {
			log.Errorf("记录边界信号失败: %v", err)
		} else if fired {
			conv.BoundarySignalsFired++
			conv.LastBoundaryTurn = currentTurn
		}
	}
	// 跑题且检索无命中才计 out_of_scope：知识库薄导致的检索落空不算跑题
	if pre.BoundarySignal == model.SignalOffTopic && len(pre.Chunks) == 0 {
		s.analytics.Record(client.ID, conv.UUID, model.EventOutOfScope, model.JSONMap{
			"turn": currentTurn,
		})
	}
	if pre.Sentiment != "" {
		if err := s.convRepo.UpdateSentiment(conv.ID, pre.Sentiment); err != nil {
			log.Errorf("更新会话情绪失败: %v", err)
		}
	}

	// 9. 终止判定命中：下发固定收束语，不进入生成
	if pre.Terminate {
		return s.finishTerminated(conv, em)
	}

	// 10. 单向棘轮：出现过边界信号后改带全量历史
	if pre.IncludeFullHistory {
		full, err := s.loadFullHistory(conv.ID, userMsg.ID)
		if err != nil {
			log.Errorf("读取全量历史失败: %v", err)
		} else {
			history = full
		}
	}

	// 11. 组装提示词并流式生成
	phase := settling.TurnPhase(conv.TurnCount, maxTurns,
		config.Conf.Spark.WindDownTurns, config.Conf.Spark.MinTurnsBeforeWindDown)
	msgs := s.assembler.BuildMessages(settling.PromptInput{
		Client:      client,
		History:     history,
		UserMessage: userMessage,
		Phase:       phase,
		Chunks:      pre.Chunks,
		Boundary:    pre.BoundarySignal,
		Now:         time.Now(),
	})

	visible, err := s.generate(ctx, msgs, em)
	if err != nil {
		if ctx.Err() != nil {
			// 访客中断：丢弃半截输出，不落库不计轮次
			log.Infof("[Chat] 会话 %s 流被中断，丢弃本轮输出", conv.UUID)
			return ctx.Err()
		}
		log.Error("生成回复失败", err)
		return em.Error("I ran into a problem answering that. Please try again.")
	}
	if visible == "" {
		log.Warnf("[Chat] 会话 %s 本轮无可见输出", conv.UUID)
		return em.Error("I lost my train of thought. Could you ask that again?")
	}

	// 12. 成功收尾：规整文本落库、推进轮次、滑动会话有效期，
	// 流发完之后才提示收口，挂件可借此浮出留资引导
	s.persistAssistantTurn(conv, outToken, normalizeReply(visible))
	if currentTurn >= maxTurns {
		now := time.Now()
		if err := s.convRepo.UpdateState(conv.ID, model.ConversationCompleted, model.OutcomeMaxTurns, &now); err != nil {
			log.Errorf("标记会话完成失败: %v", err)
		}
	}
	if phase == settling.PhaseWindDown || phase == settling.PhaseFinal || pre.ConversationState == model.StateWrappingUp {
		if err := em.WindDown(); err != nil {
			return err
		}
	}
	return em.Done(false)
}

// generate 先走主模型；在还没有任何可见输出下发、且备选模型不同于主模型时，
// 失败后整段换备选重试一次。已经有输出下发后换路会让访客看到重复内容，只能报错。
func (s *chatService) generate(ctx context.Context, msgs []llm.Message, em Emitter) (string, error) {
	primary := config.Conf.LLM.PrimaryModel
	fallback := config.Conf.LLM.FallbackModel

	visible, emitted, err := s.streamOnce(ctx, primary, msgs, em)
	if err == nil {
		return visible, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	if emitted || fallback == "" || fallback == primary {
		return "", err
	}

	log.Warnf("[Chat] 主模型 %s 失败，切换备选 %s: %v", primary, fallback, err)
	visible, _, err = s.streamOnce(ctx, fallback, msgs, em)
	if err != nil {
		return "", err
	}
	return visible, nil
}

// streamOnce 以指定模型流式生成一次，草稿块经过滤器剥离后才下发。
// 返回可见文本、是否已有内容下发、错误。
func (s *chatService) streamOnce(ctx context.Context, modelID string, msgs []llm.Message, em Emitter) (string, bool, error) {
	client, err := s.router.ClientFor(modelID)
	if err != nil {
		return "", false, err
	}

	var visible strings.Builder
	filter := NewScratchpadFilter(func(text string) error {
		visible.WriteString(text)
		return em.Token(text)
	})

	if err := client.Stream(ctx, msgs, s.buildGenerationParams(), filter.Write); err != nil {
		return "", visible.Len() > 0, err
	}
	if err := filter.Finish(); err != nil {
		return "", visible.Len() > 0, err
	}
	return visible.String(), visible.Len() > 0, nil
}

// finishMaxTurns 轮次耗尽：留存访客这条消息，逐词下发告别语并把会话标记为 completed
func (s *chatService) finishMaxTurns(client *model.Client, conv *model.Conversation, userMessage string, em Emitter) error {
	userMsg := &model.Message{
		UUID:           uuid.NewString(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        userMessage,
	}
	if err := s.msgRepo.Create(userMsg); err != nil {
		log.Errorf("保存用户消息失败: %v", err)
	}
	if err := s.streamCanned(em, s.assembler.Farewell(client)); err != nil {
		return err
	}
	now := time.Now()
	if err := s.convRepo.UpdateState(conv.ID, model.ConversationCompleted, model.OutcomeMaxTurns, &now); err != nil {
		log.Errorf("标记会话完成失败: %v", err)
	}
	return em.Done(false)
}

// finishTerminated 边界升级：下发并留存固定收束语，把会话标记为 terminated
func (s *chatService) finishTerminated(conv *model.Conversation, em Emitter) error {
	if err := s.streamCanned(em, terminationNotice); err != nil {
		return err
	}
	notice := &model.Message{
		UUID:           uuid.NewString(),
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        terminationNotice,
	}
	if err := s.msgRepo.Create(notice); err != nil {
		log.Errorf("保存收束消息失败: %v", err)
	}
	now := time.Now()
	if err := s.convRepo.UpdateState(conv.ID, model.ConversationTerminated, model.OutcomeTerminated, &now); err != nil {
		log.Errorf("标记会话终止失败: %v", err)
	}
	return em.Done(true)
}

// shortReplyRunes 以下的回复才剥标题标记，长回复保留结构
const shortReplyRunes = 500

var (
	headingMarkerPattern = regexp.MustCompile(`(?m)^#{1,3}\s+`)
	replyNewlinePattern  = regexp.MustCompile(`\n{3,}`)
	trailingSpacePattern = regexp.MustCompile(`(?m)[ \t]+$`)
)

// normalizeReply 落库前清理模型输出：聊天气泡里 Markdown 标题显得突兀，
// 短回复直接剥掉标题标记；另合并多余空行、清理行尾空白。
// 访客看到的流不受影响，规整只作用于留存的文本。
func normalizeReply(text string) string {
	if utf8.RuneCountInString(text) < shortReplyRunes {
		text = headingMarkerPattern.ReplaceAllString(text, "")
	}
	text = replyNewlinePattern.ReplaceAllString(text, "\n\n")
	text = trailingSpacePattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// streamCanned 把固定文案逐词下发，贴近真实生成的观感
func (s *chatService) streamCanned(em Emitter, text string) error {
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		if err := em.Token(word); err != nil {
			return err
		}
	}
	return nil
}

// persistAssistantTurn 成功一轮后的收尾。流已经完整下发，
// 即使请求上下文随后被取消也要把落库和续期做完。
func (s *chatService) persistAssistantTurn(conv *model.Conversation, sessionToken, visible string) {
	asstMsg := &model.Message{
		UUID:           uuid.NewString(),
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        visible,
	}
	if err := s.msgRepo.Create(asstMsg); err != nil {
		log.Errorf("保存助手消息失败: %v", err)
	}
	if err := s.convRepo.IncrementTurn(conv.ID); err != nil {
		log.Errorf("推进轮次失败: %v", err)
	}
	if err := s.sessions.Touch(context.Background(), conv, sessionToken); err != nil {
		log.Errorf("延长会话有效期失败: %v", err)
	}
}

// loadWindowHistory 读取上下文窗口内的最近历史
func (s *chatService) loadWindowHistory(convID uint) ([]model.Message, error) {
	return s.msgRepo.FindRecent(convID, config.Conf.Spark.ContextTurns*2)
}

// loadFullHistory 读取全量历史，排除本轮刚落库的用户消息
func (s *chatService) loadFullHistory(convID, excludeID uint) ([]model.Message, error) {
	msgs, err := s.msgRepo.FindByConversationID(convID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != excludeID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *chatService) effectiveMaxTurns(client *model.Client) int {
	if client.MaxTurns > 0 {
		return client.MaxTurns
	}
	return config.Conf.Spark.MaxTurnsDefault
}

func (s *chatService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	if config.Conf.LLM.Generation.Temperature != 0 {
		t := config.Conf.LLM.Generation.Temperature
		gp.Temperature = &t
	}
	if config.Conf.LLM.Generation.TopP != 0 {
		p := config.Conf.LLM.Generation.TopP
		gp.TopP = &p
	}
	if config.Conf.LLM.Generation.MaxTokens != 0 {
		m := config.Conf.LLM.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}
