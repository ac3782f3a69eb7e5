package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"doc-chat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []string
}

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	w.messages = append(w.messages, string(data))
	return nil
}

func generatorInput() GenerateInput {
	assembler := NewAssembler(fieldTokenizer{})
	assembled := assembler.Assemble([]model.RetrievedChunk{
		retrieved("doc-1", 0, 20, 0.9),
		retrieved("doc-1", 3, 20, 0.8),
	}, 1000)
	return GenerateInput{
		Query:   "What does the agreement say about termination?",
		Context: assembled,
		History: turnsOf("earlier question", "earlier answer"),
	}
}

func TestGenerateSuccess(t *testing.T) {
	client := &stubLLM{reply: "The agreement requires 30 days notice."}
	g := NewGenerator(client, "gpt-4o-mini", 6, time.Second)

	res := g.Generate(context.Background(), generatorInput())

	assert.Equal(t, "The agreement requires 30 days notice.", res.Content)
	require.NotNil(t, res.ModelUsed)
	assert.Equal(t, "gpt-4o-mini", *res.ModelUsed)
	// 引用只来自组装进上下文的分块
	assert.Equal(t, []string{"doc-1_0", "doc-1_3"}, res.SourceChunkIDs)
}

func TestGeneratePromptContainsContextAndHistory(t *testing.T) {
	client := &stubLLM{reply: "answer"}
	g := NewGenerator(client, "gpt-4o-mini", 6, time.Second)

	g.Generate(context.Background(), generatorInput())

	require.GreaterOrEqual(t, len(client.lastMessages), 4)
	assert.Equal(t, "system", client.lastMessages[0].Role)
	assert.Contains(t, client.lastMessages[0].Content, "[doc-1_0]")
	assert.Contains(t, client.lastMessages[0].Content, "[doc-1_3]")
	assert.Equal(t, "earlier question", client.lastMessages[1].Content)
	last := client.lastMessages[len(client.lastMessages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "What does the agreement say about termination?", last.Content)
}

func TestGenerateDegradesOnFailure(t *testing.T) {
	client := &stubLLM{err: errors.New("llm down")}
	g := NewGenerator(client, "gpt-4o-mini", 6, time.Second)

	res := g.Generate(context.Background(), generatorInput())

	assert.Equal(t, DegradedResponse, res.Content)
	assert.Nil(t, res.ModelUsed)
	assert.Empty(t, res.SourceChunkIDs)
}

func TestGenerateWithEmptyContext(t *testing.T) {
	client := &stubLLM{reply: "The document does not cover this."}
	g := NewGenerator(client, "gpt-4o-mini", 6, time.Second)

	res := g.Generate(context.Background(), GenerateInput{Query: "unrelated question"})

	require.NotNil(t, res.ModelUsed)
	assert.Empty(t, res.SourceChunkIDs)
	// 空上下文走专门的提示词，明确告知文档没有覆盖
	assert.Contains(t, client.lastMessages[0].Content, "No relevant excerpts")
}

func TestGenerateStreamCapturesFullContent(t *testing.T) {
	client := &stubLLM{streamChunks: []string{"The agreement ", "requires 30 days ", "notice."}}
	g := NewGenerator(client, "gpt-4o-mini", 6, time.Second)

	writer := &recordingWriter{}
	res := g.GenerateStream(context.Background(), generatorInput(), writer)

	assert.Equal(t, "The agreement requires 30 days notice.", res.Content)
	require.NotNil(t, res.ModelUsed)
	assert.Equal(t, "The agreement requires 30 days notice.", strings.Join(writer.messages, ""))
}

func TestGenerateStreamDegradesOnFailure(t *testing.T) {
	client := &stubLLM{streamErr: errors.New("stream broken")}
	g := NewGenerator(client, "gpt-4o-mini", 6, time.Second)

	writer := &recordingWriter{}
	res := g.GenerateStream(context.Background(), generatorInput(), writer)

	assert.Equal(t, DegradedResponse, res.Content)
	assert.Nil(t, res.ModelUsed)
	// 降级回复也会写给客户端
	require.Len(t, writer.messages, 1)
	assert.Equal(t, DegradedResponse, writer.messages[0])
}
