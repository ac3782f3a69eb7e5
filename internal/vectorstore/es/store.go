// Package es 实现了基于 Elasticsearch 的向量存储后端。
package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Store 是 Store 接口的 Elasticsearch 实现。
// 所有 namespace 共用一个索引，每次查询/删除都强制带 namespace 过滤。
type Store struct {
	client    *elasticsearch.Client
	indexName string
}

// NewStore 创建一个 Elasticsearch 向量存储。
func NewStore(client *elasticsearch.Client, indexName string) *Store {
	return &Store{client: client, indexName: indexName}
}

// esChunkDoc 是索引中的文档结构。
type esChunkDoc struct {
	ChunkID    string    `json:"chunk_id"`
	Namespace  string    `json:"namespace"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	UserID     uint      `json:"user_id"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Model      string    `json:"model"`
	Vector     []float32 `json:"vector"`
}

// Upsert 将一批分块写入指定 namespace。文档 ID 取 chunk_id，重复写入即覆盖。
func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	for _, rec := range records {
		doc := esChunkDoc{
			ChunkID:    rec.Chunk.ID(),
			Namespace:  namespace,
			DocumentID: rec.Chunk.DocumentID,
			ChunkIndex: rec.Chunk.ChunkIndex,
			UserID:     rec.Chunk.UserID,
			Text:       rec.Chunk.Text,
			TokenCount: rec.Chunk.TokenCount,
			Model:      rec.Model,
			Vector:     rec.Vector,
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("序列化分块文档失败: %w", err)
		}

		// namespace 参与文档主键，避免不同 namespace 下同名 chunk_id 互相覆盖
		req := esapi.IndexRequest{
			Index:      s.indexName,
			DocumentID: fmt.Sprintf("%s_%s", namespace, rec.Chunk.ID()),
			Body:       bytes.NewReader(docBytes),
			Refresh:    "true",
		}

		res, err := req.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("索引分块到 Elasticsearch 失败: %w", err)
		}
		if res.IsError() {
			body, _ := io.ReadAll(res.Body)
			res.Body.Close()
			log.Errorf("[ESStore] 索引分块出错: %s", string(body))
			return fmt.Errorf("elasticsearch 索引分块返回错误: %s", res.Status())
		}
		res.Body.Close()
	}
	return nil
}

// Query 在指定 namespace 内做 kNN 相似度查询。
// cosine 相似度经 ES 归一化后落在 [0,1]，可直接与 ScoreThreshold 比较。
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, params vectorstore.QueryParams) ([]model.RetrievedChunk, error) {
	if params.TopK <= 0 {
		return nil, nil
	}

	filter := []map[string]interface{}{
		{"term": map[string]interface{}{"namespace": namespace}},
	}
	if params.DocumentID != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"document_id": params.DocumentID},
		})
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              params.TopK,
			"num_candidates": params.TopK * 10,
			"filter": map[string]interface{}{
				"bool": map[string]interface{}{"must": filter},
			},
		},
		"size":    params.TopK,
		"_source": []string{"chunk_id", "document_id", "chunk_index", "user_id", "text", "token_count"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化 ES 查询失败: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch 查询失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ESStore] 查询返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch 查询返回错误: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esChunkDoc `json:"_source"`
				Score  float64    `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析 ES 响应失败: %w", err)
	}

	results := make([]model.RetrievedChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		if hit.Score < params.ScoreThreshold {
			continue
		}
		results = append(results, model.RetrievedChunk{
			Chunk: model.Chunk{
				DocumentID: hit.Source.DocumentID,
				UserID:     hit.Source.UserID,
				ChunkIndex: hit.Source.ChunkIndex,
				Text:       hit.Source.Text,
				TokenCount: hit.Source.TokenCount,
			},
			Score: hit.Score,
		})
	}

	// ES 已按得分降序返回；补充确定性的同分排序
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
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"term": map[string]interface{}{"namespace": namespace}},
					{"term": map[string]interface{}{"document_id": documentID}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("序列化删除查询失败: %w", err)
	}

	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		&buf,
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch 删除失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ESStore] 删除返回错误, status: %s, body: %s", res.Status(), string(body))
		return fmt.Errorf("elasticsearch 删除返回错误: %s", res.Status())
	}
	return nil
}

// Stats 返回指定 namespace 的向量数量。
func (s *Store) Stats(ctx context.Context, namespace string) (vectorstore.Stats, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"namespace": namespace},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return vectorstore.Stats{}, fmt.Errorf("序列化统计查询失败: %w", err)
	}

	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.indexName),
		s.client.Count.WithBody(&buf),
	)
	if err != nil {
		return vectorstore.Stats{}, fmt.Errorf("elasticsearch 统计失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return vectorstore.Stats{}, fmt.Errorf("elasticsearch 统计返回错误: %s", res.Status())
	}

	var countResp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return vectorstore.Stats{}, fmt.Errorf("解析统计响应失败: %w", err)
	}
	return vectorstore.Stats{VectorCount: countResp.Count}, nil
}
