// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 知识条目分类，与数据库 CHECK 约束保持一致。
const (
	CategoryCompany    = "company"
	CategoryProduct    = "product"
	CategoryCompetitor = "competitor"
	CategoryLegal      = "legal"
	CategoryTeam       = "team"
	CategoryFun        = "fun"
)

// MaxKnowledgeContentLen 限制单条知识条目的正文长度。
// 更长的内容应走文档摄取管道切块后入库。
const MaxKnowledgeContentLen = 3000

// ValidCategory 判断给定值是否为合法的知识分类。
func ValidCategory(c string) bool {
	switch c {
	case CategoryCompany, CategoryProduct, CategoryCompetitor, CategoryLegal, CategoryTeam, CategoryFun:
		return true
	}
	return false
}

// KnowledgeItem 对应于数据库中的 'spark_knowledge_items' 表，即人工维护的知识条目。
// ContentHash 是正文的 SHA-256，同一客户端下重复内容会被拒绝。
type KnowledgeItem struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID           string    `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	ClientID       uint      `gorm:"not null;uniqueIndex:idx_client_content" json:"clientId"`
	Title          string    `gorm:"type:varchar(200);not null" json:"title"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Category       string    `gorm:"type:varchar(20);not null;default:'company'" json:"category"`
	Subcategory    string    `gorm:"type:varchar(50)" json:"subcategory"`
	Priority       int       `gorm:"not null;default:0" json:"priority"`
	Active         bool      `gorm:"not null;default:true" json:"active"`
	ContentHash    string    `gorm:"type:char(64);not null;uniqueIndex:idx_client_content" json:"contentHash"`
	EmbeddingModel string    `gorm:"type:varchar(100)" json:"embeddingModel"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (KnowledgeItem) TableName() string {
	return "spark_knowledge_items"
}

// 文档摄取来源类型。
const (
	SourceTypeText = "text"
	SourceTypeURL  = "url"
	SourceTypeFile = "file"
)

// DocumentChunk 对应于数据库中的 'spark_document_chunks' 表。
// 摄取管道切块后的文档内容，与 Elasticsearch 中的索引一一对应。
type DocumentChunk struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ClientID    uint      `gorm:"index;not null" json:"clientId"`
	SourceID    string    `gorm:"type:char(36);index;not null" json:"sourceId"`
	SourceTitle string    `gorm:"type:varchar(255)" json:"sourceTitle"`
	SourceType  string    `gorm:"type:varchar(10);not null" json:"sourceType"`
	ChunkIndex  int       `gorm:"not null" json:"chunkIndex"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "spark_document_chunks"
}
