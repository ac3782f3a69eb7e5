package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/pipeline"
	"doc-chat-go/internal/rag"
	"doc-chat-go/internal/vectorstore/chromem"
	"doc-chat-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordTok 以空格分词，切块器需要可逆的 Encode/Decode。
type wordTok struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

func newWordTok() *wordTok { return &wordTok{ids: map[string]int{}} }

func (t *wordTok) Encode(text string) []int {
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

func (t *wordTok) Decode(tokens []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, len(tokens))
	for i, id := range tokens {
		parts[i] = t.words[id]
	}
	return strings.Join(parts, " ")
}

func (t *wordTok) Count(text string) int { return len(strings.Fields(text)) }

// keywordEmbedder 按主题词频构造确定性向量，保证同主题文本相近。
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	keywords := []string{"termination", "salary", "confidentiality"}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(keywords))
		lower := strings.ToLower(text)
		var norm float32
		for k, kw := range keywords {
			count := float32(strings.Count(lower, kw))
			v[k] = count
			norm += count * count
		}
		if norm == 0 {
			v[0] = 1 // 无主题词的文本给个固定方向
		}
		vecs[i] = v
	}
	return vecs, nil
}

func (keywordEmbedder) Model() string   { return "keyword-embed" }
func (keywordEmbedder) Dimensions() int { return 3 }

func paragraph(topic string, n int) string {
	words := make([]string, n)
	for i := range words {
		if i%3 == 0 {
			words[i] = topic
		} else {
			words[i] = "clause"
		}
	}
	return strings.Join(words, " ")
}

// 完整链路：切块 → 向量化 → 写入 chromem → 检索 → 组装 → 生成引用。
func TestDocumentChatEndToEnd(t *testing.T) {
	ctx := context.Background()

	store, err := chromem.NewStore("")
	require.NoError(t, err)

	tok := newWordTok()
	docs := &fakeDocRepo{docs: map[string]*model.Document{
		"doc-1": {ID: "doc-1", UserID: 1, FileName: "employment_agreement.txt", Status: model.DocStatusNotIndexed},
	}}

	// 三段合同文本，合计约 270 词；块大小 200、重叠 50
	text := strings.Join([]string{
		paragraph("termination", 90),
		paragraph("salary", 90),
		paragraph("confidentiality", 90),
	}, " ")

	chunker := pipeline.NewChunker(tok, 200, 50)
	indexer := pipeline.NewIndexer(chunker, keywordEmbedder{}, store, docs, nil, nil)

	record, err := indexer.IndexDocument(ctx, "doc-1", 1, text)
	require.NoError(t, err)
	assert.True(t, record.Indexed)
	assert.GreaterOrEqual(t, record.ChunkCount, 2)
	assert.LessOrEqual(t, record.ChunkCount, 3)
	require.Equal(t, model.DocStatusIndexed, docs.docs["doc-1"].Status)

	// 生成器把收到的上下文分块 ID 作为引用返回
	modelName := "gpt-4o-mini"
	gen := &fakeGenerator{result: rag.GenerateResult{ModelUsed: &modelName}}
	citingGen := &citingGenerator{inner: gen}

	gate := &fakeGate{needs: false}
	svc := NewChatService(docs, NewSessionService(newMemSessionRepo()),
		gate, &fakeRewriter{}, rag.NewRetriever(keywordEmbedder{}, store),
		rag.NewAssembler(tok), citingGen, testRAGConfig())

	resp, err := svc.SendMessage(ctx, 1, "doc-1", "What is the termination notice period?")
	require.NoError(t, err)

	// 自包含问题不触发改写，答案引用 termination 所在的首个分块
	require.NotEmpty(t, resp.SourceChunkIDs)
	assert.Contains(t, resp.SourceChunkIDs, "doc-1_0")
	require.NotNil(t, resp.ModelUsed)

	// 其他用户的 namespace 里检索不到任何内容
	other, err := rag.NewRetriever(keywordEmbedder{}, store).
		Retrieve(ctx, "user_2", "termination", rag.RetrieveParams{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, other)
}

// citingGenerator 把组装进上下文的分块 ID 透传为引用。
type citingGenerator struct {
	inner *fakeGenerator
}

func (g *citingGenerator) Generate(ctx context.Context, input rag.GenerateInput) rag.GenerateResult {
	res := g.inner.Generate(ctx, input)
	res.Content = "Per the agreement, notice is required."
	res.SourceChunkIDs = input.Context.ChunkIDs
	return res
}

func (g *citingGenerator) GenerateStream(ctx context.Context, input rag.GenerateInput, _ llm.MessageWriter) rag.GenerateResult {
	return g.Generate(ctx, input)
}
