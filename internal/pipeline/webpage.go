package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxPageBytes 限制抓取网页响应体的读取量，防止超大页面拖垮消费者。
const maxPageBytes = 10 << 20

// pageFetcher 抓取网页并抽取可读正文。
type pageFetcher struct {
	httpClient *http.Client
}

func newPageFetcher() *pageFetcher {
	return &pageFetcher{
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchText 抓取 URL 并返回页面的可读文本。
func (f *pageFetcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("构造网页请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "KinSparkBot/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("抓取网页失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("抓取网页返回异常状态码: %d", resp.StatusCode)
	}

	text, err := extractHTMLText(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("解析网页内容失败: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("网页没有可读文本: %s", pageURL)
	}
	return text, nil
}

// 这些标签的内容对检索没有价值，解析时整棵子树跳过。
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
	"head":     true,
	"nav":      true,
	"footer":   true,
}

// 块级标签前后补换行，让抽取结果保留段落结构。
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "br": true, "blockquote": true, "pre": true,
}

// extractHTMLText 遍历 HTML 节点树收集文本节点，跳过脚本样式等无关子树。
func extractHTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedTags[n.Data] {
				return
			}
			if blockTags[n.Data] {
				b.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return b.String(), nil
}
