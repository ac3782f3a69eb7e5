// Package vectorstore 定义了向量存储适配层。
// 存储按 namespace 分区，namespace 由 user_id 确定性推导；
// 任何操作都不允许跨 namespace 读写，这是整个系统最重要的不变量。
package vectorstore

import (
	"context"
	"fmt"

	"doc-chat-go/internal/model"
)

// Record 是一条待写入的 (向量, 文本, 元数据)。
type Record struct {
	Chunk  model.Chunk
	Vector []float32
	Model  string
}

// QueryParams 控制一次相似度查询。
type QueryParams struct {
	TopK           int
	ScoreThreshold float64
	// DocumentID 非空时只在该文档的分块内检索。
	DocumentID string
}

// Stats 是单个 namespace 的统计信息。
type Stats struct {
	VectorCount int `json:"vector_count"`
}

// Store 是向量存储后端必须满足的契约。
// Query 返回按得分降序排列的结果，得分相同时按 chunk_index 升序，
// 且只包含得分不低于 ScoreThreshold 的分块。
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, params QueryParams) ([]model.RetrievedChunk, error)
	DeleteDocument(ctx context.Context, namespace, documentID string) error
	Stats(ctx context.Context, namespace string) (Stats, error)
}

// NamespaceForUser 从 user_id 确定性推导 namespace。
func NamespaceForUser(userID uint) string {
	return fmt.Sprintf("user_%d", userID)
}
