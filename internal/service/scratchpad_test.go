package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedFilter 按给定分片喂入过滤器并收集访客可见输出
func feedFilter(t *testing.T, deltas []string) string {
	t.Helper()
	var out strings.Builder
	f := NewScratchpadFilter(func(s string) error {
		out.WriteString(s)
		return nil
	})
	for _, d := range deltas {
		require.NoError(t, f.Write(d))
	}
	require.NoError(t, f.Finish())
	return out.String()
}

func TestScratchpadFilter(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   string
	}{
		{
			name:   "整块到达的草稿",
			deltas: []string{"<notes>thinking...</notes>Hello there"},
			want:   "Hello there",
		},
		{
			name:   "无草稿的普通回复",
			deltas: []string{"Hello", " there", "!"},
			want:   "Hello there!",
		},
		{
			name:   "草稿标记跨分片",
			deltas: []string{"<no", "tes>plan the reply", "</not", "es> Hi!"},
			want:   "Hi!",
		},
		{
			name:   "闭合后的前导空白跨分片剥离",
			deltas: []string{"<notes>x</notes>", "\n\n", "  Answer."},
			want:   "Answer.",
		},
		{
			name:   "允许草稿前的前导空白",
			deltas: []string{"\n <notes>hm</notes>ok"},
			want:   "ok",
		},
		{
			name:   "未闭合的草稿整体丢弃",
			deltas: []string{"<notes>never closed, rambling on"},
			want:   "",
		},
		{
			name:   "回复中段的标记原样放行",
			deltas: []string{"Use the <notes> tag like this: </notes>"},
			want:   "Use the <notes> tag like this: </notes>",
		},
		{
			name:   "疑似前缀但并非草稿",
			deltas: []string{"<not", "e: we are closed on Sundays"},
			want:   "<note: we are closed on Sundays",
		},
		{
			name:   "极短回复在流结束时放行",
			deltas: []string{"<n"},
			want:   "<n",
		},
		{
			name:   "空草稿紧跟正文",
			deltas: []string{"<notes></notes>Direct answer"},
			want:   "Direct answer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, feedFilter(t, tt.deltas))
		})
	}
}

func TestScratchpadFilterHoldback(t *testing.T) {
	// 开头明显不是草稿时立刻放行，不等缓冲填满
	var out strings.Builder
	f := NewScratchpadFilter(func(s string) error {
		out.WriteString(s)
		return nil
	})
	require.NoError(t, f.Write("Hi"))
	assert.Equal(t, "Hi", out.String(), "首个分片应立即下发")

	// 纯空白超过缓冲上限后放行
	out.Reset()
	f = NewScratchpadFilter(func(s string) error {
		out.WriteString(s)
		return nil
	})
	blank := strings.Repeat(" ", scratchpadHoldback+10)
	require.NoError(t, f.Write(blank))
	assert.Equal(t, blank, out.String())
}

func TestScratchpadFilterEmitError(t *testing.T) {
	// emit 报错要向上传递，流式下发方可据此中断
	sentinel := assert.AnError
	f := NewScratchpadFilter(func(s string) error { return sentinel })
	err := f.Write("plain text")
	assert.ErrorIs(t, err, sentinel)
}
