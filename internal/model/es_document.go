// Package model 定义了与数据库表对应的 Go 结构体。
package model

// ES 中 source_type 字段的取值：人工维护的知识条目 / 摄取管道产出的文档切块。
const (
	ESSourceKnowledge = "knowledge"
	ESSourceDocument  = "document"
)

// KnowledgeDoc 代表存储在 Elasticsearch 知识索引中的文档结构。
// ClientID 是租户的 UUID，检索查询在 ES 查询体内按它过滤，保证租户隔离。
type KnowledgeDoc struct {
	DocID        string    `json:"doc_id"`
	ClientID     string    `json:"client_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Category     string    `json:"category"`
	Subcategory  string    `json:"subcategory"`
	SourceType   string    `json:"source_type"`
	Priority     int       `json:"priority"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}
