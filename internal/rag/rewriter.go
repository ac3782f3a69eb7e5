package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/tokenizer"
	"doc-chat-go/pkg/llm"
)

// QueryRewriter 将依赖上下文的查询改写为自包含的独立查询。
// 仅在门控判定"需要上下文"时才会被调用。
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string, history []model.ConversationTurn) (string, error)
}

const rewriteSystemPrompt = `Given a conversation and a follow-up question, rewrite the follow-up into a fully standalone question. Resolve pronouns and implicit references ("that", "it", "this") against the conversation. Keep the user's intent and language. Output only the rewritten question, nothing else.`

type llmRewriter struct {
	client        llm.Client
	tok           tokenizer.Tokenizer
	historyBudget int
	timeout       time.Duration
}

// NewLLMRewriter 创建一个 LLM 查询改写器。
// 喂给模型的历史从最近一条向前取，总量受 historyBudget 个 token 约束。
func NewLLMRewriter(client llm.Client, tok tokenizer.Tokenizer, historyBudget int, timeout time.Duration) QueryRewriter {
	return &llmRewriter{client: client, tok: tok, historyBudget: historyBudget, timeout: timeout}
}

// Rewrite 生成独立查询。调用失败时由调用方回退到原始查询，
// 这是一条降级但非致命的路径。
func (r *llmRewriter) Rewrite(ctx context.Context, query string, history []model.ConversationTurn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	historyText := r.truncateHistory(history)
	userPrompt := fmt.Sprintf("Conversation:\n%s\nFollow-up question: %s\nStandalone question:", historyText, query)

	messages := []llm.Message{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: userPrompt},
	}
	zero := 0.0
	reply, err := r.client.ChatCompletion(ctx, messages, &llm.GenerationParams{Temperature: &zero})
	if err != nil {
		return "", fmt.Errorf("查询改写调用失败: %w", err)
	}

	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(reply), `"`))
	if rewritten == "" {
		return "", fmt.Errorf("查询改写返回了空结果")
	}
	return rewritten, nil
}

// truncateHistory 从最近的轮次向前累计，直到 token 预算耗尽。
// 返回按时间顺序排列的历史文本。
func (r *llmRewriter) truncateHistory(history []model.ConversationTurn) string {
	var kept []string
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		line := fmt.Sprintf("%s: %s", history[i].Role, history[i].Content)
		cost := r.tok.Count(line)
		if used+cost > r.historyBudget && len(kept) > 0 {
			break
		}
		kept = append([]string{line}, kept...)
		used += cost
		if used >= r.historyBudget {
			break
		}
	}
	if len(kept) == 0 {
		return "(none)"
	}
	return strings.Join(kept, "\n")
}
