// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"doc-chat-go/internal/config"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/retry"
)

// ErrUnavailable 表示重试预算耗尽后 Embedding 服务仍不可用。
// 索引器将其视为文档级的致命失败，不允许保留半成品索引。
var ErrUnavailable = errors.New("embedding service unavailable")

// Client defines the interface for a batched embedding client.
type Client interface {
	// EmbedBatch 将一组文本向量化，返回与输入同序的向量列表。
	// 内部按 MaxBatchSize 切分批次并对瞬时错误做退避重试。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model 返回当前使用的 embedding 模型名。
	Model() string
	// Dimensions 返回向量维度。
	Dimensions() int
}

type openAICompatibleClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	policy  retry.Policy
	breaker *retry.Breaker
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		breaker: retry.NewBreaker(5, cfg.Timeout),
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Model() string   { return c.cfg.Model }
func (c *openAICompatibleClient) Dimensions() int { return c.cfg.Dimensions }

// EmbedBatch calls the OpenAI-compatible API to embed a list of texts.
func (c *openAICompatibleClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// embedOnce 向量化单个批次，带重试；重试耗尽返回 ErrUnavailable。
func (c *openAICompatibleClient) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, retry.ErrBreakerOpen)
	}

	var result [][]float32
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		vecs, callErr := c.call(ctx, batch)
		if callErr != nil {
			return callErr
		}
		result = vecs
		return nil
	})
	c.breaker.Record(err)
	if err != nil {
		if retry.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			log.Errorf("[EmbeddingClient] 重试耗尽，Embedding 服务不可用: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

func (c *openAICompatibleClient) call(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      batch,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败: %v", err)
		// 连接层错误（含超时）按瞬时处理
		return nil, retry.Transient(fmt.Errorf("failed to call embedding api: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
		if isTransientStatus(resp.StatusCode) {
			log.Warnf("[EmbeddingClient] Embedding API 返回瞬时错误状态码: %s", resp.Status)
			return nil, retry.Transient(err)
		}
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, err
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(batch))
	}

	// 按 index 排序保证与输入同序
	vectors := make([][]float32, len(batch))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(batch) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("received invalid embedding data from api")
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

// isTransientStatus 判断状态码是否为可重试的瞬时错误（限流、超时、5xx）。
func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= 500
}
