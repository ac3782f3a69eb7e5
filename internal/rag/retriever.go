package rag

import (
	"context"
	"fmt"
	"sort"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/embedding"
)

// RetrieveParams 控制单次检索的范围与过滤条件。
type RetrieveParams struct {
	TopK           int
	ScoreThreshold float64
	// DocumentID 非空时只在该文档的分块内检索
	DocumentID string
}

// Retriever 将查询向量化后在用户自己的 namespace 内做相似度检索。
// namespace 由调用方从用户身份推导，检索器本身无法跨 namespace 取数。
type Retriever struct {
	embedder embedding.Client
	store    vectorstore.Store
}

// NewRetriever 创建一个检索器。
func NewRetriever(embedder embedding.Client, store vectorstore.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve 返回按得分降序、去重后的至多 TopK 个分块。
// 没有任何分块达到阈值时返回空切片而非错误——"没有相关内容"
// 是一个合法的检索结果。
func (r *Retriever) Retrieve(ctx context.Context, namespace, query string, params RetrieveParams) ([]model.RetrievedChunk, error) {
	vectors, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("查询向量化返回了 %d 个向量", len(vectors))
	}

	// 多取一些候选，去重之后再截断到 TopK
	raw, err := r.store.Query(ctx, namespace, vectors[0], vectorstore.QueryParams{
		TopK:           params.TopK * 2,
		ScoreThreshold: params.ScoreThreshold,
		DocumentID:     params.DocumentID,
	})
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	return dedupeAndCap(raw, params.TopK, params.ScoreThreshold), nil
}

// dedupeAndCap 过滤阈值以下的结果，按 (document_id, chunk_index)
// 去重并保留得分最高的一条，最后截断到 topK。
func dedupeAndCap(chunks []model.RetrievedChunk, topK int, threshold float64) []model.RetrievedChunk {
	best := make(map[string]model.RetrievedChunk)
	for _, c := range chunks {
		if c.Score < threshold {
			continue
		}
		key := c.Chunk.ID()
		if prev, ok := best[key]; !ok || c.Score > prev.Score {
			best[key] = c
		}
	}

	out := make([]model.RetrievedChunk, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Chunk.DocumentID != out[j].Chunk.DocumentID {
			return out[i].Chunk.DocumentID < out[j].Chunk.DocumentID
		}
		return out[i].Chunk.ChunkIndex < out[j].Chunk.ChunkIndex
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
