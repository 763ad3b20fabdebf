package settling

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"kin-spark-go/internal/model"
	"kin-spark-go/pkg/llm"
)

// maxPromptChars 组装后全部消息内容的字符预算
const maxPromptChars = 48000

const timestampLayout = "Monday, January 2, 2006 at 3:04 PM MST"

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// PromptInput 一次组装所需的全部输入
type PromptInput struct {
	Client      *model.Client
	History     []model.Message
	UserMessage string
	Phase       Phase
	Chunks      []model.RetrievedChunk
	Boundary    model.BoundarySignal
	Now         time.Time
}

// Assembler 提示词组装器，把租户人设、检索命中与对话节奏
// 组装成一次生成调用的完整消息列表
type Assembler interface {
	BuildMessages(in PromptInput) []llm.Message
	Greeting(client *model.Client) string
	Farewell(client *model.Client) string
}

type assembler struct{}

func NewAssembler() Assembler {
	return &assembler{}
}

// Render 渲染模板占位符：current_time 为计算值，其余查租户人设配置，
// 未知占位符渲染为空串而不是保留原样
func Render(template string, cfg model.SettlingConfig, now time.Time) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		if key == "current_time" {
			return FormatTimestamp(cfg.Timezone, now)
		}
		return cfg.Lookup(key)
	})
}

// FormatTimestamp 按租户时区格式化当前时间，时区无效时回退 UTC
func FormatTimestamp(timezone string, now time.Time) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return "It is " + now.In(loc).Format(timestampLayout)
}

// FormatDocContext 将检索命中格式化为带来源标注的引用块，
// 无命中时返回诚实降级说明而不是空串
func FormatDocContext(chunks []model.RetrievedChunk) string {
	if len(chunks) == 0 {
		return noContextFallback
	}
	entries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		label := chunk.Category
		if chunk.Subcategory != "" {
			label = chunk.Category + "/" + chunk.Subcategory
		}
		header := fmt.Sprintf("[%d] %s (%s — relevance: %d%%)",
			i+1, chunk.Title, label, int(chunk.Similarity*100))
		entries = append(entries, header+"\n"+chunk.Content)
	}
	return docContextHeader + "\n\n" + strings.Join(entries, "\n\n---\n\n")
}

// BuildMessages 组装完整上下文：系统提示、历史、当前消息，
// 最后固定追加收口提示。超出字符预算时先丢相关度最低的检索命中，
// 再从最早一条开始裁剪历史，收口提示永不裁剪。
func (a *assembler) BuildMessages(in PromptInput) []llm.Message {
	chunks := in.Chunks
	history := in.History

	msgs := a.build(in, chunks, history)
	for totalChars(msgs) > maxPromptChars && len(chunks) > 0 {
		chunks = chunks[:len(chunks)-1]
		msgs = a.build(in, chunks, history)
	}
	for totalChars(msgs) > maxPromptChars && len(history) > 0 {
		history = history[1:]
		msgs = a.build(in, chunks, history)
	}
	return msgs
}

func (a *assembler) build(in PromptInput, chunks []model.RetrievedChunk, history []model.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+3)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt(in, chunks)})
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == model.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: in.UserMessage})
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: Render(settlingReminder, in.Client.Settling, in.Now)})
	return msgs
}

func (a *assembler) systemPrompt(in PromptInput, chunks []model.RetrievedChunk) string {
	cfg := in.Client.Settling

	// 租户给了完整自定义模板就用它，否则按朝向取内置模板。
	// 自定义模板里的拼写错误占位符会渲染成空串，不会炸掉组装。
	template := in.Client.OrientationOverride
	if template == "" {
		template = OrientationTemplate(in.Client.Orientation)
	}

	sections := []string{
		Render(template, cfg, in.Now),
		scratchpadInstruction,
	}
	if len(cfg.BoundaryTopics) > 0 {
		sections = append(sections,
			"Topics you must decline, briefly and politely: "+strings.Join(cfg.BoundaryTopics, ", ")+".")
	}
	sections = append(sections, FormatDocContext(chunks))
	if tactic := BoundaryTactic(string(in.Boundary)); tactic != "" {
		sections = append(sections, Render(tactic, cfg, in.Now))
	}
	sections = append(sections,
		AwarenessText(in.Phase),
		FormatTimestamp(cfg.Timezone, in.Now),
	)
	return strings.Join(sections, "\n\n")
}

// Greeting 渲染租户配置的开场白，未配置时返回默认欢迎语
func (a *assembler) Greeting(client *model.Client) string {
	if g := strings.TrimSpace(client.Settling.GreetingMessage); g != "" {
		return Render(g, client.Settling, time.Now())
	}
	return "Hi! How can I help you today?"
}

// Farewell 渲染租户配置的告别语，未配置时返回默认结束语
func (a *assembler) Farewell(client *model.Client) string {
	if f := strings.TrimSpace(client.Settling.FarewellMessage); f != "" {
		return Render(f, client.Settling, time.Now())
	}
	return "Thanks for chatting with us! Leave your contact details any time and the team will follow up."
}

func totalChars(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	return total
}
