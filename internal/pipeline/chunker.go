package pipeline

import (
	"regexp"
	"strings"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	sentencePattern     = regexp.MustCompile(`[^.!?。！？]+[.!?。！？]*\s*`)
)

// normalizeText 清理抽取出的原始文本：去行尾空白、丢弃页码等超短噪声行、
// 合并连续空行。网页和 PDF 抽取结果都先过这一步再切块。
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && len([]rune(trimmed)) <= 2 {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")
	out = multiNewlinePattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// chunkText 把文本切成不超过 size 个字符的块，相邻块之间保留 overlap 个
// 字符的重叠。切分按层级降级：先按段落聚合，超长段落拆成句子，
// 超长句子再按词拆。长度一律按 rune 计，中英文混排不会切出半个字。
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	units := splitUnits(text, size)
	if len(units) == 0 {
		return nil
	}

	var chunks []string
	var cur []rune
	for _, unit := range units {
		u := []rune(unit)
		if len(cur) > 0 && len(cur)+len(u)+1 > size {
			chunks = append(chunks, strings.TrimSpace(string(cur)))
			// 带上一块的结尾继续，重叠量不能把新块顶超
			keep := overlap
			if keep > size-len(u)-1 {
				keep = size - len(u) - 1
			}
			if keep < 0 {
				keep = 0
			}
			if keep > len(cur) {
				keep = len(cur)
			}
			cur = append([]rune(nil), cur[len(cur)-keep:]...)
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, u...)
	}
	if tail := strings.TrimSpace(string(cur)); tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

// splitUnits 把文本拆成每个都不超过 size 个字符的基本单元。
func splitUnits(text string, size int) []string {
	var units []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len([]rune(para)) <= size {
			units = append(units, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if len([]rune(sent)) <= size {
				units = append(units, sent)
				continue
			}
			units = append(units, splitWords(sent, size)...)
		}
	}
	return units
}

// splitSentences 按中英文句末标点拆句，拆不动时原样返回。
func splitSentences(para string) []string {
	matches := sentencePattern.FindAllString(para, -1)
	if len(matches) == 0 {
		return []string{para}
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := strings.TrimSpace(m); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitWords 按空白拆词后重新聚合成不超过 size 的单元。
// 没有空白的超长串（比如整段中文）直接按 size 硬切。
func splitWords(sent string, size int) []string {
	var units []string
	var cur []rune
	for _, word := range strings.Fields(sent) {
		w := []rune(word)
		for len(w) > size {
			if len(cur) > 0 {
				units = append(units, string(cur))
				cur = cur[:0]
			}
			units = append(units, string(w[:size]))
			w = w[size:]
		}
		if len(w) == 0 {
			continue
		}
		if len(cur) > 0 && len(cur)+len(w)+1 > size {
			units = append(units, string(cur))
			cur = cur[:0]
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
	}
	if len(cur) > 0 {
		units = append(units, string(cur))
	}
	return units
}
