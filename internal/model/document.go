package model

import "time"

// 文档索引状态机：not_indexed → indexing → indexed，失败进入 failed。
const (
	DocStatusNotIndexed = "not_indexed"
	DocStatusIndexing   = "indexing"
	DocStatusIndexed    = "indexed"
	DocStatusFailed     = "failed"
)

// Document 对应数据库中的 documents 表，承载文档元数据与索引记录。
// ChunkCount/EmbeddingModel/Indexed 共同构成 IndexRecord，在索引成功时写入。
type Document struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	FileName       string    `gorm:"type:varchar(255);not null" json:"file_name"`
	Status         string    `gorm:"type:varchar(20);not null;default:not_indexed" json:"status"`
	ChunkCount     int       `gorm:"not null;default:0" json:"chunk_count"`
	EmbeddingModel string    `gorm:"type:varchar(100)" json:"embedding_model"`
	Indexed        bool      `gorm:"not null;default:false" json:"indexed"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

// IndexRecord 是索引完成后暴露给调用方的摘要。
type IndexRecord struct {
	DocumentID     string `json:"document_id"`
	ChunkCount     int    `json:"chunk_count"`
	EmbeddingModel string `json:"embedding_model"`
	Indexed        bool   `json:"indexed"`
}

// IndexRecord 从文档行提取索引摘要。
func (d *Document) IndexRecord() IndexRecord {
	return IndexRecord{
		DocumentID:     d.ID,
		ChunkCount:     d.ChunkCount,
		EmbeddingModel: d.EmbeddingModel,
		Indexed:        d.Indexed,
	}
}

// IndexProgress 是异步索引任务的进度快照，存放于 Redis。
type IndexProgress struct {
	State   string `json:"state"` // pending|processing|completed|failed
	Stage   string `json:"stage"` // chunking|embedding|indexing|indexed
	Percent int    `json:"percent"`
}
