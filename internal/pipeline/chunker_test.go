package pipeline

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordTokenizer 以空格分词，每个词一个 token，便于断言切块边界。
type wordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: map[string]int{}}
}

func (t *wordTokenizer) Encode(text string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var tokens []int
	for _, w := range strings.Fields(text) {
		id, ok := t.ids[w]
		if !ok {
			id = len(t.words)
			t.ids[w] = id
			t.words = append(t.words, w)
		}
		tokens = append(tokens, id)
	}
	return tokens
}

func (t *wordTokenizer) Decode(tokens []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, len(tokens))
	for i, id := range tokens {
		parts[i] = t.words[id]
	}
	return strings.Join(parts, " ")
}

func (t *wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "w" + strings.Repeat("x", i%7) // 制造重复与不重复混合的词表
	}
	return strings.Join(parts, " ")
}

func TestChunkerSplitContiguousIndices(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 10, 2)

	chunks, err := c.Split(words(35), "doc-1", 7)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, "doc-1", chunk.DocumentID)
		assert.Equal(t, uint(7), chunk.UserID)
		assert.LessOrEqual(t, chunk.TokenCount, 10)
		assert.Positive(t, chunk.TokenCount)
	}
}

func TestChunkerSplitOverlap(t *testing.T) {
	tok := newWordTokenizer()
	c := NewChunker(tok, 10, 3)

	chunks, err := c.Split(words(25), "doc-1", 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	// 相邻分块首尾重叠 overlap 个 token
	for i := 1; i < len(chunks); i++ {
		prev := tok.Encode(chunks[i-1].Text)
		cur := tok.Encode(chunks[i].Text)
		overlap := 3
		if len(prev) < overlap || len(cur) < overlap {
			continue
		}
		assert.Equal(t, prev[len(prev)-overlap:], cur[:overlap])
	}
}

func TestChunkerSplitKeepsTrailingShortChunk(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 10, 0)

	chunks, err := c.Split(words(23), "doc-1", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 10, chunks[0].TokenCount)
	assert.Equal(t, 10, chunks[1].TokenCount)
	assert.Equal(t, 3, chunks[2].TokenCount)
}

func TestChunkerSplitShortTextSingleChunk(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 500, 50)

	chunks, err := c.Split("just a few words here", "doc-1", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 5, chunks[0].TokenCount)
}

func TestChunkerSplitEmptyInput(t *testing.T) {
	c := NewChunker(newWordTokenizer(), 10, 2)

	_, err := c.Split("", "doc-1", 1)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = c.Split("   \n\t  ", "doc-1", 1)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestChunkerSplitReconstruction(t *testing.T) {
	tok := newWordTokenizer()
	c := NewChunker(tok, 8, 0)

	text := words(30)
	chunks, err := c.Split(text, "doc-1", 1)
	require.NoError(t, err)

	// overlap 为 0 时，拼接全部分块应还原原文
	var parts []string
	for _, chunk := range chunks {
		parts = append(parts, chunk.Text)
	}
	assert.Equal(t, text, strings.Join(parts, " "))
}
