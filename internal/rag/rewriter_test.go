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

func turnsOf(contents ...string) []model.ConversationTurn {
	turns := make([]model.ConversationTurn, len(contents))
	for i, c := range contents {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		turns[i] = model.ConversationTurn{Role: role, Content: c}
	}
	return turns
}

func TestRewriteReturnsStandaloneQuery(t *testing.T) {
	client := &stubLLM{reply: `"What is the termination notice period in the employment agreement?"`}
	r := NewLLMRewriter(client, fieldTokenizer{}, 1000, time.Second)

	out, err := r.Rewrite(context.Background(), "tell me more about that",
		turnsOf("What does the contract say about termination?", "It requires 30 days notice."))
	require.NoError(t, err)
	assert.Equal(t, "What is the termination notice period in the employment agreement?", out)
}

func TestRewriteIncludesRecentHistory(t *testing.T) {
	client := &stubLLM{reply: "standalone"}
	r := NewLLMRewriter(client, fieldTokenizer{}, 1000, time.Second)

	_, err := r.Rewrite(context.Background(), "and that?",
		turnsOf("first question", "first answer", "second question"))
	require.NoError(t, err)

	require.Len(t, client.lastMessages, 2)
	prompt := client.lastMessages[1].Content
	assert.Contains(t, prompt, "first question")
	assert.Contains(t, prompt, "second question")
	assert.Contains(t, prompt, "and that?")
}

func TestRewriteTruncatesHistoryToBudget(t *testing.T) {
	client := &stubLLM{reply: "standalone"}
	// 预算只够最近几条
	r := NewLLMRewriter(client, fieldTokenizer{}, 8, time.Second)

	old := strings.TrimSpace(strings.Repeat("oldword ", 50))
	_, err := r.Rewrite(context.Background(), "and that?",
		turnsOf(old, "short recent answer"))
	require.NoError(t, err)

	prompt := client.lastMessages[1].Content
	assert.NotContains(t, prompt, "oldword")
	assert.Contains(t, prompt, "short recent answer")
}

func TestRewriteFailures(t *testing.T) {
	r := NewLLMRewriter(&stubLLM{err: errors.New("llm down")}, fieldTokenizer{}, 1000, time.Second)
	_, err := r.Rewrite(context.Background(), "and that?", turnsOf("q", "a"))
	assert.Error(t, err)

	r = NewLLMRewriter(&stubLLM{reply: "   "}, fieldTokenizer{}, 1000, time.Second)
	_, err = r.Rewrite(context.Background(), "and that?", turnsOf("q", "a"))
	assert.Error(t, err)
}
