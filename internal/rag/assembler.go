package rag

import (
	"fmt"
	"strings"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/tokenizer"
)

// AssembledContext 是一次组装的结果：入选的分块、它们消耗的 token 数，
// 以及拼接好的提示词上下文文本。
type AssembledContext struct {
	Chunks     []model.RetrievedChunk
	ChunkIDs   []string
	TokensUsed int
	Text       string
}

// Assembler 在 token 预算内把检索结果组装成提示词上下文。
// 分块只会整块入选或整块排除，不做截断——截断会产生残缺的句子，
// 比少一个分块更伤答案质量。
type Assembler struct {
	tok tokenizer.Tokenizer
}

// NewAssembler 创建一个上下文组装器。
func NewAssembler(tok tokenizer.Tokenizer) *Assembler {
	return &Assembler{tok: tok}
}

// Assemble 按检索排名贪心装入分块，直到下一个分块会超出预算为止。
// 检索结果为空时返回空上下文，由生成器据此改变提示词措辞。
func (a *Assembler) Assemble(chunks []model.RetrievedChunk, tokenBudget int) AssembledContext {
	var out AssembledContext
	var sb strings.Builder
	for _, c := range chunks {
		cost := c.Chunk.TokenCount
		if cost <= 0 {
			cost = a.tok.Count(c.Chunk.Text)
		}
		if out.TokensUsed+cost > tokenBudget {
			break
		}
		out.Chunks = append(out.Chunks, c)
		out.ChunkIDs = append(out.ChunkIDs, c.Chunk.ID())
		out.TokensUsed += cost
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", c.Chunk.ID(), c.Chunk.Text)
	}
	out.Text = strings.TrimSuffix(sb.String(), "\n")
	return out
}
