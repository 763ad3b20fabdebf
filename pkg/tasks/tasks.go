// Package tasks defines the structures for tasks that are sent to Kafka.
package tasks

// IngestionTask represents one document ingestion job.
// 按 SourceType 取材：text 直接带正文，url 由消费端抓取，file 从 MinIO 取回后交给 Tika。
type IngestionTask struct {
	TaskID     string `json:"task_id"`
	ClientID   uint   `json:"client_id"`
	ClientUUID string `json:"client_uuid"`
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
	Content    string `json:"content,omitempty"`
	URL        string `json:"url,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	FileName   string `json:"file_name,omitempty"`
}

// LeadSyncTask represents one fire-and-forget CRM delivery job.
type LeadSyncTask struct {
	LeadUUID string `json:"lead_uuid"`
}
