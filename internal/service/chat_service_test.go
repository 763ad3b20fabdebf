package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/internal/settling"
	"kin-spark-go/pkg/llm"
)

func setTestConfig() {
	config.Conf.Spark = config.SparkConfig{
		MaxTurnsDefault:          20,
		WindDownTurns:            3,
		MinTurnsBeforeWindDown:   5,
		ContextTurns:             8,
		MaxDocChunks:             5,
		DocMatchThreshold:        0.3,
		SessionTimeoutMinutes:    30,
		PreflightTimeoutSeconds:  5,
		TerminateSignalThreshold: 2,
		SweepIntervalMinutes:     5,
	}
	config.Conf.LLM = config.LLMConfig{
		PrimaryModel:   "gemini/flash",
		FallbackModel:  "moonshot/kimi",
		PreflightModel: "groq/tiny",
	}
}

// ---- 引擎测试用的内存替身 ----

type fakeEmitter struct {
	events    []string
	tokens    strings.Builder
	sessionID string
	remaining int
}

func (e *fakeEmitter) Session(token, conversationUUID string, turnsRemaining int) error {
	e.events = append(e.events, "session")
	e.sessionID = conversationUUID
	e.remaining = turnsRemaining
	return nil
}

func (e *fakeEmitter) Token(text string) error {
	e.events = append(e.events, "token")
	e.tokens.WriteString(text)
	return nil
}

func (e *fakeEmitter) WindDown() error {
	e.events = append(e.events, "wind_down")
	return nil
}

func (e *fakeEmitter) Done(terminated bool) error {
	if terminated {
		e.events = append(e.events, "done:terminated")
		return nil
	}
	e.events = append(e.events, "done")
	return nil
}

func (e *fakeEmitter) Error(message string) error {
	e.events = append(e.events, "error:"+message)
	return nil
}

func (e *fakeEmitter) has(event string) bool {
	for _, ev := range e.events {
		if ev == event || strings.HasPrefix(ev, event+":") {
			return true
		}
	}
	return false
}

type fakeConvRepo struct {
	conv          *model.Conversation
	turnAdvanced  int
	boundaryTurns []int
	state         string
	outcome       string
	sentiment     string
}

func (r *fakeConvRepo) Create(conv *model.Conversation) error { return nil }
func (r *fakeConvRepo) FindByID(id uint) (*model.Conversation, error) {
	return r.conv, nil
}
func (r *fakeConvRepo) FindByUUID(uuid string) (*model.Conversation, error) {
	return r.conv, nil
}
func (r *fakeConvRepo) FindByUUIDForClient(clientID uint, uuid string) (*model.Conversation, error) {
	return r.conv, nil
}
func (r *fakeConvRepo) FindBySessionToken(token string) (*model.Conversation, error) {
	return r.conv, nil
}
func (r *fakeConvRepo) IncrementTurn(id uint) error {
	r.turnAdvanced++
	return nil
}
func (r *fakeConvRepo) IncrementBoundarySignals(id uint, turn int) (bool, error) {
	for _, t := range r.boundaryTurns {
		if t == turn {
			return false, nil
		}
	}
	r.boundaryTurns = append(r.boundaryTurns, turn)
	return true, nil
}
func (r *fakeConvRepo) UpdateState(id uint, state, outcome string, endedAt *time.Time) error {
	r.state = state
	r.outcome = outcome
	return nil
}
func (r *fakeConvRepo) UpdateOutcome(id uint, outcome string) error {
	r.outcome = outcome
	return nil
}
func (r *fakeConvRepo) UpdateSentiment(id uint, sentiment string) error {
	r.sentiment = sentiment
	return nil
}
func (r *fakeConvRepo) TouchExpiry(id uint, expiresAt time.Time) error { return nil }
func (r *fakeConvRepo) ListByClient(clientID uint, state, outcome string, from, to *time.Time, offset, limit int) ([]model.Conversation, int64, error) {
	return nil, 0, nil
}
func (r *fakeConvRepo) SweepExpired(now time.Time) (int64, error) { return 0, nil }

type fakeMsgRepo struct {
	existing    []model.Message
	created     []model.Message
	windowCalls int
	fullCalls   int
}

func (r *fakeMsgRepo) Create(msg *model.Message) error {
	msg.ID = uint(len(r.existing) + len(r.created) + 1)
	r.created = append(r.created, *msg)
	return nil
}
func (r *fakeMsgRepo) FindByConversationID(conversationID uint) ([]model.Message, error) {
	r.fullCalls++
	all := append([]model.Message{}, r.existing...)
	return append(all, r.created...), nil
}
func (r *fakeMsgRepo) FindRecent(conversationID uint, limit int) ([]model.Message, error) {
	r.windowCalls++
	return r.existing, nil
}
func (r *fakeMsgRepo) FirstUserMessages(conversationIDs []uint) (map[uint]string, error) {
	return map[uint]string{}, nil
}

type fakeSessions struct {
	conv    *model.Conversation
	token   string
	isNew   bool
	touched int
}

func (s *fakeSessions) ResolveOrCreate(ctx context.Context, client *model.Client, token, ip string) (*model.Conversation, string, bool, error) {
	return s.conv, s.token, s.isNew, nil
}
func (s *fakeSessions) Touch(ctx context.Context, conv *model.Conversation, token string) error {
	s.touched++
	return nil
}
func (s *fakeSessions) StartSweeper(ctx context.Context) {}

type fakePreflight struct {
	result *model.PreflightResult
}

func (p *fakePreflight) Run(ctx context.Context, client *model.Client, conv *model.Conversation, history []model.Message, userMessage string) *model.PreflightResult {
	if p.result != nil {
		return p.result
	}
	return &model.PreflightResult{BoundarySignal: model.SignalNone, ConversationState: model.StateActive}
}

type fakeLLM struct {
	deltas []string
	err    error
	calls  int
}

func (f *fakeLLM) Complete(ctx context.Context, msgs []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.calls++
	return strings.Join(f.deltas, ""), f.err
}
func (f *fakeLLM) Stream(ctx context.Context, msgs []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
	f.calls++
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return f.err
}

type fakeRouter struct {
	clients map[string]llm.Client
	calls   []string
}

func (f *fakeRouter) ClientFor(modelID string) (llm.Client, error) {
	f.calls = append(f.calls, modelID)
	c, ok := f.clients[modelID]
	if !ok {
		return nil, fmt.Errorf("未配置的模型: %s", modelID)
	}
	return c, nil
}

type fakeAnalytics struct {
	recorded []string
}

func (a *fakeAnalytics) Record(clientID uint, conversationUUID, eventType string, metadata model.JSONMap) {
	a.recorded = append(a.recorded, eventType)
}
func (a *fakeAnalytics) Summary(clientID uint, from, to time.Time) ([]model.EventTypeCount, error) {
	return nil, nil
}

type engineFixture struct {
	svc       ChatService
	emitter   *fakeEmitter
	convRepo  *fakeConvRepo
	msgRepo   *fakeMsgRepo
	sessions  *fakeSessions
	preflight *fakePreflight
	router    *fakeRouter
	analytics *fakeAnalytics
	client    *model.Client
	conv      *model.Conversation
}

func newEngineFixture(t *testing.T, primary, fallback *fakeLLM) *engineFixture {
	t.Helper()
	setTestConfig()

	conv := &model.Conversation{
		ID:        1,
		UUID:      "conv-1",
		ClientID:  1,
		State:     model.ConversationActive,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
	fx := &engineFixture{
		emitter:   &fakeEmitter{},
		convRepo:  &fakeConvRepo{conv: conv},
		msgRepo:   &fakeMsgRepo{},
		sessions:  &fakeSessions{conv: conv, token: "tok", isNew: true},
		preflight: &fakePreflight{},
		analytics: &fakeAnalytics{},
		client: &model.Client{
			ID:          1,
			UUID:        "client-1",
			Name:        "Acme Robotics",
			Orientation: settling.OrientationProfessional,
			Settling:    model.SettlingConfig{CompanyName: "Acme Robotics"},
		},
		conv: conv,
	}
	fx.router = &fakeRouter{clients: map[string]llm.Client{}}
	if primary != nil {
		fx.router.clients["gemini/flash"] = primary
	}
	if fallback != nil {
		fx.router.clients["moonshot/kimi"] = fallback
	}
	fx.svc = NewChatService(fx.sessions, fx.preflight, settling.NewAssembler(),
		fx.router, fx.convRepo, fx.msgRepo, fx.analytics)
	return fx
}

func (fx *engineFixture) run(t *testing.T, message string) error {
	t.Helper()
	return fx.svc.ProcessTurn(context.Background(), fx.client, "", message, "1.2.3.4", fx.emitter)
}

// ---- 用例 ----

func TestProcessTurnHappyPath(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"<notes>plan it</notes>", "Hello", " visitor"}}
	fx := newEngineFixture(t, primary, nil)

	require.NoError(t, fx.run(t, "What do you sell?"))

	// 事件顺序：session 开头、done 结尾、草稿不下发
	require.NotEmpty(t, fx.emitter.events)
	assert.Equal(t, "session", fx.emitter.events[0])
	assert.Equal(t, "done", fx.emitter.events[len(fx.emitter.events)-1])
	assert.Equal(t, "Hello visitor", fx.emitter.tokens.String())

	// 用户与助手消息依次落库，助手内容只含可见文本
	require.Len(t, fx.msgRepo.created, 2)
	assert.Equal(t, model.RoleUser, fx.msgRepo.created[0].Role)
	assert.Equal(t, model.RoleAssistant, fx.msgRepo.created[1].Role)
	assert.Equal(t, "Hello visitor", fx.msgRepo.created[1].Content)

	// 轮次推进、会话续期、首条消息埋点
	assert.Equal(t, 1, fx.convRepo.turnAdvanced)
	assert.Equal(t, 1, fx.sessions.touched)
	assert.Contains(t, fx.analytics.recorded, model.EventFirstMessage)
}

func TestProcessTurnTerminalStateRefusesGeneration(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"should never stream"}}
	fx := newEngineFixture(t, primary, nil)
	fx.conv.State = model.ConversationTerminated

	require.NoError(t, fx.run(t, "hello again"))

	assert.True(t, fx.emitter.has("error"))
	assert.Zero(t, primary.calls, "终态会话不得触发生成")
	assert.Empty(t, fx.msgRepo.created, "终态会话不落库任何消息")
}

func TestProcessTurnExpiredConversationRefused(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"should never stream"}}
	fx := newEngineFixture(t, primary, nil)
	fx.conv.ExpiresAt = time.Now().Add(-time.Minute)

	require.NoError(t, fx.run(t, "still there?"))

	// 清扫器还没把它标成 abandoned，引擎也要拒绝生成
	assert.True(t, fx.emitter.has("error"))
	assert.Zero(t, primary.calls)
	assert.Empty(t, fx.msgRepo.created)
}

func TestProcessTurnMaxTurnsFarewell(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"should never stream"}}
	fx := newEngineFixture(t, primary, nil)
	fx.conv.TurnCount = 20

	require.NoError(t, fx.run(t, "one more question"))

	assert.Zero(t, primary.calls, "轮次耗尽不得调用模型")
	assert.Contains(t, fx.emitter.tokens.String(), "Thanks for chatting")
	assert.True(t, fx.emitter.has("done"))
	assert.Equal(t, model.ConversationCompleted, fx.convRepo.state)
	assert.Equal(t, model.OutcomeMaxTurns, fx.convRepo.outcome)
	assert.Equal(t, 0, fx.emitter.remaining)

	// 访客这条消息仍要留存
	require.Len(t, fx.msgRepo.created, 1)
	assert.Equal(t, model.RoleUser, fx.msgRepo.created[0].Role)
	assert.Equal(t, "one more question", fx.msgRepo.created[0].Content)
}

func TestProcessTurnTerminate(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"should never stream"}}
	fx := newEngineFixture(t, primary, nil)
	fx.preflight.result = &model.PreflightResult{
		BoundarySignal:    model.SignalHostile,
		Terminate:         true,
		ConversationState: model.StateActive,
	}

	require.NoError(t, fx.run(t, "you are useless and I hate you"))

	assert.Zero(t, primary.calls, "终止路径不得调用主模型")
	assert.Contains(t, fx.emitter.tokens.String(), "This conversation has ended")
	assert.True(t, fx.emitter.has("done:terminated"))
	assert.Equal(t, model.ConversationTerminated, fx.convRepo.state)
	assert.Equal(t, model.OutcomeTerminated, fx.convRepo.outcome)
	assert.Equal(t, []int{1}, fx.convRepo.boundaryTurns)
	// hostile 信号只计边界计数，不算 out_of_scope 埋点
	assert.NotContains(t, fx.analytics.recorded, model.EventOutOfScope)

	// 收束语作为助手消息留存在记录里
	require.Len(t, fx.msgRepo.created, 2)
	assert.Equal(t, model.RoleAssistant, fx.msgRepo.created[1].Role)
	assert.Contains(t, fx.msgRepo.created[1].Content, "This conversation has ended")
}

func TestProcessTurnBoundarySignalCountsOncePerTurn(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"Back to robots, then."}}
	fx := newEngineFixture(t, primary, nil)
	fx.conv.TurnCount = 2
	fx.preflight.result = &model.PreflightResult{
		BoundarySignal:    model.SignalOffTopic,
		ConversationState: model.StateOffTopic,
	}

	require.NoError(t, fx.run(t, "what's your favourite movie?"))

	// 当前轮次号被记入幂等守卫
	assert.Equal(t, []int{3}, fx.convRepo.boundaryTurns)
	assert.Equal(t, 1, fx.conv.BoundarySignalsFired)
	assert.Contains(t, fx.analytics.recorded, model.EventOutOfScope)
}

func TestProcessTurnRatchetLoadsFullHistory(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"Answer."}}
	fx := newEngineFixture(t, primary, nil)
	fx.conv.BoundarySignalsFired = 1
	fx.msgRepo.existing = []model.Message{
		{ID: 100, Role: model.RoleUser, Content: "old question"},
		{ID: 101, Role: model.RoleAssistant, Content: "old answer"},
	}
	fx.preflight.result = &model.PreflightResult{
		BoundarySignal:     model.SignalNone,
		ConversationState:  model.StateActive,
		IncludeFullHistory: true,
	}

	require.NoError(t, fx.run(t, "next question"))

	assert.Equal(t, 1, fx.msgRepo.fullCalls, "棘轮生效后应读取全量历史")
}

func TestProcessTurnFailover(t *testing.T) {
	primary := &fakeLLM{err: fmt.Errorf("上游超时")}
	fallback := &fakeLLM{deltas: []string{"Fallback answer."}}
	fx := newEngineFixture(t, primary, fallback)

	require.NoError(t, fx.run(t, "hello"))

	assert.Equal(t, "Fallback answer.", fx.emitter.tokens.String())
	assert.True(t, fx.emitter.has("done"))
	assert.Equal(t, []string{"gemini/flash", "moonshot/kimi"}, fx.router.calls)
	require.Len(t, fx.msgRepo.created, 2)
	assert.Equal(t, "Fallback answer.", fx.msgRepo.created[1].Content)
}

func TestProcessTurnFailoverSelfLoopGuard(t *testing.T) {
	primary := &fakeLLM{err: fmt.Errorf("上游超时")}
	fx := newEngineFixture(t, primary, nil)
	config.Conf.LLM.FallbackModel = config.Conf.LLM.PrimaryModel

	require.NoError(t, fx.run(t, "hello"))

	assert.Equal(t, []string{"gemini/flash"}, fx.router.calls, "备选与主模型相同则不得二次调用")
	assert.True(t, fx.emitter.has("error"))
	assert.Equal(t, 0, fx.convRepo.turnAdvanced)
}

func TestProcessTurnNoFailoverAfterVisibleOutput(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"Partial answer that started fine "}, err: fmt.Errorf("连接中断")}
	fallback := &fakeLLM{deltas: []string{"should not run"}}
	fx := newEngineFixture(t, primary, fallback)

	require.NoError(t, fx.run(t, "hello"))

	assert.Equal(t, []string{"gemini/flash"}, fx.router.calls, "已有可见输出后不得换路重放")
	assert.True(t, fx.emitter.has("error"))
	assert.Zero(t, fallback.calls)
}

func TestProcessTurnCancelDiscardsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &fakeLLM{deltas: []string{"Partial "}, err: context.Canceled}
	fx := newEngineFixture(t, primary, nil)
	cancel()

	err := fx.svc.ProcessTurn(ctx, fx.client, "", "hello", "1.2.3.4", fx.emitter)
	require.Error(t, err)

	// 半截输出整体丢弃：不落库助手消息、不计轮次、不发 done
	require.Len(t, fx.msgRepo.created, 1)
	assert.Equal(t, model.RoleUser, fx.msgRepo.created[0].Role)
	assert.Equal(t, 0, fx.convRepo.turnAdvanced)
	assert.False(t, fx.emitter.has("done"))
}

func TestProcessTurnWindDownEvent(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"Wrapping up now."}}
	fx := newEngineFixture(t, primary, nil)
	fx.conv.TurnCount = 17

	require.NoError(t, fx.run(t, "last things"))

	require.True(t, fx.emitter.has("wind_down"))
	windDownAt, lastTokenAt, doneAt := -1, -1, -1
	for i, ev := range fx.emitter.events {
		switch ev {
		case "wind_down":
			windDownAt = i
		case "token":
			lastTokenAt = i
		case "done":
			doneAt = i
		}
	}
	// 流发完之后、done 之前提示收口
	assert.Greater(t, windDownAt, lastTokenAt, "wind_down 必须在流结束之后")
	assert.Greater(t, doneAt, windDownAt, "done 必须收尾")
}

func TestProcessTurnWindDownOnWrappingUpInference(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"Happy to help while we wrap up."}}
	fx := newEngineFixture(t, primary, nil)
	fx.preflight.result = &model.PreflightResult{
		BoundarySignal:    model.SignalNone,
		ConversationState: model.StateWrappingUp,
	}

	require.NoError(t, fx.run(t, "thanks, that covers it"))

	// 轮次还早，但状态推断说对话在收尾，同样要下发 wind_down
	assert.True(t, fx.emitter.has("wind_down"))
}

func TestProcessTurnRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"空消息", "   "},
		{"超长消息", strings.Repeat("长", 4001)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakeLLM{deltas: []string{"should never stream"}}
			fx := newEngineFixture(t, primary, nil)

			require.NoError(t, fx.run(t, tt.message))

			assert.True(t, fx.emitter.has("error"))
			assert.Zero(t, primary.calls)
			assert.Empty(t, fx.msgRepo.created)
		})
	}
}

func TestNormalizeReply(t *testing.T) {
	longBody := strings.Repeat("Detail sentence for a long structured answer. ", 12)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"短回复剥掉标题标记", "# Plans\nDetails here.", "Plans\nDetails here."},
		{"光杆井号行整行清掉", "##\nWe offer three plans.", "We offer three plans."},
		{"多余空行合并", "First.\n\n\n\n\nSecond.", "First.\n\nSecond."},
		{"行内井号保留", "Use #channel for support.", "Use #channel for support."},
		{"行尾空白清理", "line one.  \nline two.\t", "line one.\nline two."},
		{"首尾空白裁剪", "  Answer.  \n", "Answer."},
		{"长回复保留标题结构", "## Overview\n" + longBody, "## Overview\n" + strings.TrimSpace(longBody)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeReply(tt.in))
		})
	}
}

func TestProcessTurnUnclosedScratchpad(t *testing.T) {
	primary := &fakeLLM{deltas: []string{"<notes>rambling forever without closing"}}
	fx := newEngineFixture(t, primary, nil)

	require.NoError(t, fx.run(t, "hello"))

	// 未闭合草稿整体丢弃后无可见输出，本轮按失败处理
	assert.Empty(t, fx.emitter.tokens.String())
	assert.True(t, fx.emitter.has("error"))
	require.Len(t, fx.msgRepo.created, 1)
	assert.Equal(t, 0, fx.convRepo.turnAdvanced)
}

// 引擎对终态的判定要覆盖全部终态枚举
func TestIsTerminalStates(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{model.ConversationActive, false},
		{model.ConversationCompleted, true},
		{model.ConversationTerminated, true},
		{model.ConversationAbandoned, true},
	}
	for _, tt := range tests {
		conv := &model.Conversation{State: tt.state}
		assert.Equal(t, tt.want, conv.IsTerminal(), tt.state)
	}
}

var _ repository.ConversationRepository = (*fakeConvRepo)(nil)
var _ repository.MessageRepository = (*fakeMsgRepo)(nil)
var _ SessionService = (*fakeSessions)(nil)
var _ PreflightService = (*fakePreflight)(nil)
var _ ModelRouter = (*fakeRouter)(nil)
var _ AnalyticsService = (*fakeAnalytics)(nil)
var _ llm.Client = (*fakeLLM)(nil)
var _ Emitter = (*fakeEmitter)(nil)
