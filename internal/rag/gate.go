// Package rag 包含对话式检索管线的各个组件：
// 上下文门控、查询改写、检索、上下文组装与答案生成。
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"doc-chat-go/pkg/llm"
)

// ContextGate 判断一条新查询是否需要依赖此前的对话上下文才能回答。
// 这是一个二元门控而非词面启发式：代词/指代消解（"that"、"it"、
// "tell me more"）无法用关键词规则可靠覆盖——"this contract" 是
// 自包含的，而 "is that enforceable?" 不是。
type ContextGate interface {
	NeedsContext(ctx context.Context, query string) (bool, error)
}

// gateSystemPrompt 是门控分类的 few-shot 提示词。
// 只要求模型输出单个词 true/false，便于严格解析。
const gateSystemPrompt = `You are a classifier. Decide whether the user's question can be answered on its own, or whether it refers to something from earlier in the conversation (pronouns like "that", "it", or requests like "tell me more").

Respond with exactly one word: "true" if prior conversation context is needed, "false" if the question is self-contained.

Examples:
Q: What are the payment terms in this contract?
A: false
Q: Tell me about that in detail
A: true
Q: Is that enforceable?
A: true
Q: What intellectual property rights are covered?
A: false`

type llmGate struct {
	client  llm.Client
	timeout time.Duration
}

// NewLLMGate 创建一个 LLM 门控。门控在关键路径上，
// 只允许一次调用，不做重试；失败由调用方按"需要上下文"兜底。
func NewLLMGate(client llm.Client, timeout time.Duration) ContextGate {
	return &llmGate{client: client, timeout: timeout}
}

// NeedsContext 执行单次分类调用并严格解析 true/false。
func (g *llmGate) NeedsContext(ctx context.Context, query string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: "system", Content: gateSystemPrompt},
		{Role: "user", Content: "Q: " + query + "\nA:"},
	}
	// 门控输出只有一个词，限制 max_tokens 压低时延
	maxTokens := 4
	zero := 0.0
	reply, err := g.client.ChatCompletion(ctx, messages, &llm.GenerationParams{
		Temperature: &zero,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return false, fmt.Errorf("门控分类调用失败: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("门控返回了无法解析的结果: %q", reply)
	}
}
