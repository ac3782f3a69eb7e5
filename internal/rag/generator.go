package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"doc-chat-go/internal/model"
	"doc-chat-go/pkg/llm"
	"doc-chat-go/pkg/log"

	"github.com/gorilla/websocket"
)

// DegradedResponse 是生成模型不可用时返回的降级回复。
// 降级是行为而非错误：会话仍然记录这一轮，但 model_used 为空。
const DegradedResponse = "AI 服务暂时不可用，请稍后重试。您的问题已记录，可稍后重新提问。"

const answerSystemPrompt = `You are a document assistant. Answer the user's question using only the reference excerpts provided below. If the excerpts do not contain the answer, say so plainly instead of guessing. Cite only the provided excerpts.`

const noContextSystemPrompt = `You are a document assistant. No relevant excerpts were found in the user's document for this question. Tell the user that the document does not appear to cover their question, and suggest rephrasing. Do not invent document content.`

// GenerateInput 是一次答案生成的全部输入。
type GenerateInput struct {
	Query   string
	Context AssembledContext
	History []model.ConversationTurn
}

// GenerateResult 是生成结果。降级时 ModelUsed 为 nil，
// SourceChunkIDs 为空；正常时引用只会来自组装进上下文的分块。
type GenerateResult struct {
	Content        string
	SourceChunkIDs []string
	ModelUsed      *string
}

// Generator 基于组装好的上下文生成带引用的答案。
type Generator struct {
	client       llm.Client
	model        string
	historyTurns int
	timeout      time.Duration
}

// NewGenerator 创建一个答案生成器。historyTurns 限制带入提示词的
// 最近历史轮数，上下文分块另有独立的 token 预算。
func NewGenerator(client llm.Client, modelName string, historyTurns int, timeout time.Duration) *Generator {
	if historyTurns <= 0 {
		historyTurns = 6
	}
	return &Generator{client: client, model: modelName, historyTurns: historyTurns, timeout: timeout}
}

// Generate 执行非流式生成。LLM 调用失败不向上抛错，
// 而是返回降级回复，让整条对话链路保持可用。
func (g *Generator) Generate(ctx context.Context, input GenerateInput) GenerateResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, err := g.client.ChatCompletion(ctx, g.buildMessages(input), nil)
	if err != nil {
		log.Errorf("[Generator] 答案生成失败, 返回降级回复: %v", err)
		return GenerateResult{Content: DegradedResponse}
	}
	return g.result(content, input)
}

// GenerateStream 执行流式生成，将增量分块写入 writer。
// 流式调用失败时同样降级：把降级回复作为单条消息写出。
func (g *Generator) GenerateStream(ctx context.Context, input GenerateInput, writer llm.MessageWriter) GenerateResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	capture := &capturingWriter{next: writer}
	if err := g.client.StreamChatMessages(ctx, g.buildMessages(input), nil, capture); err != nil {
		log.Errorf("[Generator] 流式生成失败, 返回降级回复: %v", err)
		if werr := writer.WriteMessage(websocket.TextMessage, []byte(DegradedResponse)); werr != nil {
			log.Errorf("[Generator] 写入降级回复失败: %v", werr)
		}
		return GenerateResult{Content: DegradedResponse}
	}
	return g.result(capture.buf.String(), input)
}

func (g *Generator) result(content string, input GenerateInput) GenerateResult {
	modelUsed := g.model
	res := GenerateResult{
		Content:   strings.TrimSpace(content),
		ModelUsed: &modelUsed,
	}
	// 引用严格限定在组装进上下文的分块
	if len(input.Context.ChunkIDs) > 0 {
		res.SourceChunkIDs = append(res.SourceChunkIDs, input.Context.ChunkIDs...)
	}
	return res
}

func (g *Generator) buildMessages(input GenerateInput) []llm.Message {
	var messages []llm.Message
	if len(input.Context.Chunks) == 0 {
		messages = append(messages, llm.Message{Role: "system", Content: noContextSystemPrompt})
	} else {
		prompt := fmt.Sprintf("%s\n\nReference excerpts:\n%s", answerSystemPrompt, input.Context.Text)
		messages = append(messages, llm.Message{Role: "system", Content: prompt})
	}

	history := input.History
	if len(history) > g.historyTurns {
		history = history[len(history)-g.historyTurns:]
	}
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}

	messages = append(messages, llm.Message{Role: "user", Content: input.Query})
	return messages
}

// capturingWriter 把流式分块透传给下游的同时累积完整内容，
// 用于在流结束后落库会话。
type capturingWriter struct {
	next llm.MessageWriter
	buf  strings.Builder
}

func (w *capturingWriter) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.TextMessage {
		w.buf.Write(data)
	}
	return w.next.WriteMessage(messageType, data)
}
