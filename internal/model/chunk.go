// Package model 包含了应用的数据模型定义。
package model

import "fmt"

// Chunk 是文档切分后的检索单元，一经创建不可变。
// ChunkIndex 在单个文档内从 0 开始连续编号。
type Chunk struct {
	DocumentID string `json:"document_id"`
	UserID     uint   `json:"user_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// ID 返回分块在向量存储中的唯一标识，例如 "abc123_0"。
func (c Chunk) ID() string {
	return fmt.Sprintf("%s_%d", c.DocumentID, c.ChunkIndex)
}

// RetrievedChunk 是检索器返回的带相似度得分的分块，仅存在于内存中。
// Score 归一化到 [0,1]。
type RetrievedChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
