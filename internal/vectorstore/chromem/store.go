// Package chromem 实现了基于 chromem-go 的嵌入式向量存储后端。
// 适合单机部署与测试环境，无需外部 Elasticsearch。
package chromem

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"

	"github.com/philippgille/chromem-go"
)

// Store 是 Store 接口的 chromem-go 实现。
// 每个 namespace 对应一个独立的 collection，隔离由存储结构本身保证。
type Store struct {
	db          *chromem.DB
	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewStore 创建一个 chromem 向量存储。path 为空时使用纯内存模式。
func NewStore(path string) (*Store, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("创建 chromem 数据库失败: %w", err)
		}
	}
	return &Store{db: db, collections: make(map[string]*chromem.Collection)}, nil
}

// collection 获取或创建 namespace 对应的 collection。
func (s *Store) collection(namespace string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[namespace]; ok {
		return c, nil
	}
	c, err := s.db.GetOrCreateCollection("ns_"+namespace, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("获取 collection 失败: %w", err)
	}
	s.collections[namespace] = c
	return c, nil
}

// Upsert 将一批分块写入指定 namespace，已存在的 chunk_id 先删除再写入。
func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	c, err := s.collection(namespace)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(records))
	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.Chunk.ID())
		docs = append(docs, chromem.Document{
			ID:        rec.Chunk.ID(),
			Content:   rec.Chunk.Text,
			Embedding: rec.Vector,
			Metadata: map[string]string{
				"document_id": rec.Chunk.DocumentID,
				"chunk_index": strconv.Itoa(rec.Chunk.ChunkIndex),
				"user_id":     strconv.FormatUint(uint64(rec.Chunk.UserID), 10),
				"token_count": strconv.Itoa(rec.Chunk.TokenCount),
				"model":       rec.Model,
			},
		})
	}

	// upsert 语义：先清理同 ID 的旧记录
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("清理旧分块失败: %w", err)
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("写入分块失败: %w", err)
	}
	return nil
}

// Query 在指定 namespace 内做相似度查询。
// chromem 返回的 cosine 相似度在 [-1,1]，此处归一化到 [0,1]，
// 与 Elasticsearch 后端的得分语义保持一致。
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, params vectorstore.QueryParams) ([]model.RetrievedChunk, error) {
	if params.TopK <= 0 {
		return nil, nil
	}
	c, err := s.collection(namespace)
	if err != nil {
		return nil, err
	}

	count := c.Count()
	if count == 0 {
		return nil, nil
	}
	nResults := params.TopK
	if nResults > count {
		nResults = count
	}

	var where map[string]string
	if params.DocumentID != "" {
		where = map[string]string{"document_id": params.DocumentID}
	}

	raw, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       nResults,
		Where:          where,
	})
	if err != nil {
		return nil, fmt.Errorf("chromem 查询失败: %w", err)
	}

	results := make([]model.RetrievedChunk, 0, len(raw))
	for _, r := range raw {
		score := (1 + float64(r.Similarity)) / 2
		if score < params.ScoreThreshold {
			continue
		}
		chunkIndex, _ := strconv.Atoi(r.Metadata["chunk_index"])
		userID, _ := strconv.ParseUint(r.Metadata["user_id"], 10, 64)
		tokenCount, _ := strconv.Atoi(r.Metadata["token_count"])
		results = append(results, model.RetrievedChunk{
			Chunk: model.Chunk{
				DocumentID: r.Metadata["document_id"],
				UserID:     uint(userID),
				ChunkIndex: chunkIndex,
				Text:       r.Content,
				TokenCount: tokenCount,
			},
			Score: score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
	})
	return results, nil
}

// DeleteDocument 删除指定 namespace 下某文档的全部分块。
func (s *Store) DeleteDocument(ctx context.Context, namespace, documentID string) error {
	c, err := s.collection(namespace)
	if err != nil {
		return err
	}
	if c.Count() == 0 {
		return nil
	}
	if err := c.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		return fmt.Errorf("删除文档分块失败: %w", err)
	}
	return nil
}

// Stats 返回指定 namespace 的向量数量。
func (s *Store) Stats(ctx context.Context, namespace string) (vectorstore.Stats, error) {
	c, err := s.collection(namespace)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	return vectorstore.Stats{VectorCount: c.Count()}, nil
}
