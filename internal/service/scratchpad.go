package service

import "strings"

// 草稿区协议标记，与人设模板中的说明保持一致
const (
	notesOpen  = "<notes>"
	notesClose = "</notes>"
	// scratchpadHoldback 判定回复是否以草稿块开头前最多缓冲的字符数
	scratchpadHoldback = 50
)

const (
	scratchDeciding = iota
	scratchInNotes
	scratchStripping
	scratchStreaming
)

// ScratchpadFilter 从流式输出中剥离起始的 <notes> 草稿块。
// 草稿块只在回复最开头有效（允许前导空白），闭合标记后的空白一并去掉；
// 回复中段出现的标记原样放行。流结束时仍未闭合的草稿整体丢弃，
// 草稿内容在任何情况下都不会下发、不会落库。
type ScratchpadFilter struct {
	emit  func(string) error
	state int
	buf   strings.Builder
}

// NewScratchpadFilter 创建过滤器，emit 收到的都是访客可见文本。
func NewScratchpadFilter(emit func(string) error) *ScratchpadFilter {
	return &ScratchpadFilter{emit: emit, state: scratchDeciding}
}

// Write 送入一段增量输出。
func (f *ScratchpadFilter) Write(delta string) error {
	switch f.state {
	case scratchStreaming:
		return f.emit(delta)
	case scratchStripping:
		trimmed := strings.TrimLeft(delta, " \t\r\n")
		if trimmed == "" {
			return nil
		}
		f.state = scratchStreaming
		return f.emit(trimmed)
	case scratchInNotes:
		f.buf.WriteString(delta)
		return f.scanClose()
	default:
		f.buf.WriteString(delta)
		return f.decide()
	}
}

// Finish 流结束时调用：仍在判定中的缓冲原样放行，未闭合的草稿丢弃。
func (f *ScratchpadFilter) Finish() error {
	switch f.state {
	case scratchDeciding:
		pending := f.buf.String()
		f.buf.Reset()
		f.state = scratchStreaming
		if pending == "" {
			return nil
		}
		return f.emit(pending)
	case scratchInNotes:
		f.buf.Reset()
		f.state = scratchStreaming
		return nil
	default:
		return nil
	}
}

// decide 判定回复开头是否为草稿块。
// 缓冲内容仍可能是 <notes> 前缀时继续等待，超过缓冲上限就放行。
func (f *ScratchpadFilter) decide() error {
	pending := f.buf.String()
	trimmed := strings.TrimLeft(pending, " \t\r\n")
	if strings.HasPrefix(trimmed, notesOpen) {
		rest := trimmed[len(notesOpen):]
		f.state = scratchInNotes
		f.buf.Reset()
		f.buf.WriteString(rest)
		return f.scanClose()
	}
	if strings.HasPrefix(notesOpen, trimmed) && len(pending) < scratchpadHoldback {
		return nil
	}
	f.state = scratchStreaming
	f.buf.Reset()
	return f.emit(pending)
}

// scanClose 在草稿内容中寻找闭合标记，闭合后开始放行可见文本。
func (f *ScratchpadFilter) scanClose() error {
	notes := f.buf.String()
	idx := strings.Index(notes, notesClose)
	if idx < 0 {
		return nil
	}
	visible := strings.TrimLeft(notes[idx+len(notesClose):], " \t\r\n")
	f.buf.Reset()
	if visible == "" {
		f.state = scratchStripping
		return nil
	}
	f.state = scratchStreaming
	return f.emit(visible)
}
