package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/rag"
	"doc-chat-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// --- fakes ---

type fieldTokenizer struct{}

func (fieldTokenizer) Encode(text string) []int {
	return make([]int, len(strings.Fields(text)))
}
func (fieldTokenizer) Decode([]int) string   { return "" }
func (fieldTokenizer) Count(text string) int { return len(strings.Fields(text)) }

type fakeDocRepo struct {
	docs map[string]*model.Document
}

func (r *fakeDocRepo) Create(_ context.Context, doc *model.Document) error {
	r.docs[doc.ID] = doc
	return nil
}

func (r *fakeDocRepo) FindByID(_ context.Context, id string) (*model.Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return doc, nil
}

func (r *fakeDocRepo) FindByUser(_ context.Context, userID uint) ([]model.Document, error) {
	var out []model.Document
	for _, d := range r.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDocRepo) Delete(_ context.Context, id string) error {
	delete(r.docs, id)
	return nil
}

func (r *fakeDocRepo) BeginIndexing(_ context.Context, id string) error {
	if doc, ok := r.docs[id]; ok {
		doc.Status = model.DocStatusIndexing
	}
	return nil
}

func (r *fakeDocRepo) CompleteIndexing(_ context.Context, id string, chunkCount int, embeddingModel string) error {
	if doc, ok := r.docs[id]; ok {
		doc.Status = model.DocStatusIndexed
		doc.ChunkCount = chunkCount
		doc.EmbeddingModel = embeddingModel
		doc.Indexed = true
	}
	return nil
}

func (r *fakeDocRepo) AbortIndexing(_ context.Context, id, toStatus string) error {
	if doc, ok := r.docs[id]; ok {
		doc.Status = toStatus
		doc.Indexed = false
	}
	return nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string][]model.ConversationTurn
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[string][]model.ConversationTurn{}}
}

func (r *memSessionRepo) key(userID uint, documentID string) string {
	return fmt.Sprintf("%d/%s", userID, documentID)
}

func (r *memSessionRepo) AppendTurns(_ context.Context, userID uint, documentID string, turns ...model.ConversationTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(userID, documentID)
	r.sessions[k] = append(r.sessions[k], turns...)
	return nil
}

func (r *memSessionRepo) GetHistory(_ context.Context, userID uint, documentID string) ([]model.ConversationTurn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(userID, documentID)
	out := make([]model.ConversationTurn, len(r.sessions[k]))
	copy(out, r.sessions[k])
	return out, nil
}

func (r *memSessionRepo) DeleteSession(_ context.Context, userID uint, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, r.key(userID, documentID))
	return nil
}

type fakeGate struct {
	needs bool
	err   error
	calls int
}

func (g *fakeGate) NeedsContext(context.Context, string) (bool, error) {
	g.calls++
	return g.needs, g.err
}

type fakeRewriter struct {
	out   string
	err   error
	calls int
}

func (r *fakeRewriter) Rewrite(_ context.Context, query string, _ []model.ConversationTurn) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.out, nil
}

type fakeRetriever struct {
	batches [][]model.RetrievedChunk // 依次返回
	err     error
	queries []string
	params  []rag.RetrieveParams
}

func (r *fakeRetriever) Retrieve(_ context.Context, _ string, query string, params rag.RetrieveParams) ([]model.RetrievedChunk, error) {
	r.queries = append(r.queries, query)
	r.params = append(r.params, params)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.batches) == 0 {
		return nil, nil
	}
	batch := r.batches[0]
	r.batches = r.batches[1:]
	return batch, nil
}

type fakeGenerator struct {
	result rag.GenerateResult
	inputs []rag.GenerateInput
}

func (g *fakeGenerator) Generate(_ context.Context, input rag.GenerateInput) rag.GenerateResult {
	g.inputs = append(g.inputs, input)
	return g.result
}

func (g *fakeGenerator) GenerateStream(ctx context.Context, input rag.GenerateInput, _ llm.MessageWriter) rag.GenerateResult {
	return g.Generate(ctx, input)
}

func someChunks() []model.RetrievedChunk {
	return []model.RetrievedChunk{
		{
			Chunk: model.Chunk{DocumentID: "doc-1", ChunkIndex: 0, Text: "termination requires thirty days notice", TokenCount: 5},
			Score: 0.9,
		},
	}
}

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{
		TopK:                5,
		ScoreThreshold:      0.70,
		WidenTopK:           10,
		WidenScoreThreshold: 0.50,
		HistoryLimit:        10,
		HistoryTokenBudget:  1000,
		ContextTokenBudget:  2000,
	}
}

type chatFixture struct {
	svc       ChatService
	docs      *fakeDocRepo
	sessions  SessionService
	gate      *fakeGate
	rewriter  *fakeRewriter
	retriever *fakeRetriever
	generator *fakeGenerator
}

func newChatFixture() *chatFixture {
	modelName := "gpt-4o-mini"
	f := &chatFixture{
		docs:      &fakeDocRepo{docs: map[string]*model.Document{}},
		gate:      &fakeGate{needs: true},
		rewriter:  &fakeRewriter{out: "rewritten query"},
		retriever: &fakeRetriever{batches: [][]model.RetrievedChunk{someChunks()}},
		generator: &fakeGenerator{result: rag.GenerateResult{
			Content:        "the answer",
			SourceChunkIDs: []string{"doc-1_0"},
			ModelUsed:      &modelName,
		}},
	}
	f.sessions = NewSessionService(newMemSessionRepo())
	f.docs.docs["doc-1"] = &model.Document{ID: "doc-1", UserID: 1, Status: model.DocStatusIndexed}
	f.svc = NewChatService(f.docs, f.sessions, f.gate, f.rewriter, f.retriever,
		rag.NewAssembler(fieldTokenizer{}), f.generator, testRAGConfig())
	return f
}

// --- tests ---

func TestSendMessageHappyPath(t *testing.T) {
	f := newChatFixture()

	resp, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "what about termination?")
	require.NoError(t, err)

	assert.Equal(t, "the answer", resp.Answer)
	require.NotNil(t, resp.ModelUsed)
	assert.Equal(t, []string{"doc-1_0"}, resp.SourceChunkIDs)

	// 首条消息没有历史，门控与改写都不触发
	assert.Zero(t, f.gate.calls)
	assert.Zero(t, f.rewriter.calls)
	require.Len(t, f.retriever.queries, 1)
	assert.Equal(t, "what about termination?", f.retriever.queries[0])
	assert.Equal(t, 5, f.retriever.params[0].TopK)
	assert.Equal(t, 0.70, f.retriever.params[0].ScoreThreshold)
	assert.Equal(t, "doc-1", f.retriever.params[0].DocumentID)

	// 问答双方都已落入会话，顺序为 user → assistant
	history, err := f.sessions.GetHistory(context.Background(), 1, "doc-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "what about termination?", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "the answer", history[1].Content)
	require.NotNil(t, history[1].ModelUsed)
}

func TestSendMessageRewritesWithHistory(t *testing.T) {
	f := newChatFixture()
	require.NoError(t, f.sessions.AddExchange(context.Background(), 1, "doc-1",
		model.ConversationTurn{Role: model.RoleUser, Content: "earlier"},
		model.ConversationTurn{Role: model.RoleAssistant, Content: "reply"},
	))

	_, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "tell me more about that")
	require.NoError(t, err)

	assert.Equal(t, 1, f.gate.calls)
	assert.Equal(t, 1, f.rewriter.calls)
	assert.Equal(t, "rewritten query", f.retriever.queries[0])
}

func TestSendMessageGateFalseSkipsRewrite(t *testing.T) {
	f := newChatFixture()
	f.gate.needs = false
	require.NoError(t, f.sessions.AddExchange(context.Background(), 1, "doc-1",
		model.ConversationTurn{Role: model.RoleUser, Content: "earlier"},
		model.ConversationTurn{Role: model.RoleAssistant, Content: "reply"},
	))

	_, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "what are the payment terms?")
	require.NoError(t, err)

	assert.Zero(t, f.rewriter.calls)
	assert.Equal(t, "what are the payment terms?", f.retriever.queries[0])
}

func TestSendMessageGateFailureDefaultsToNeedingContext(t *testing.T) {
	f := newChatFixture()
	f.gate.err = errors.New("gate down")
	require.NoError(t, f.sessions.AddExchange(context.Background(), 1, "doc-1",
		model.ConversationTurn{Role: model.RoleUser, Content: "earlier"},
		model.ConversationTurn{Role: model.RoleAssistant, Content: "reply"},
	))

	_, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "is that enforceable?")
	require.NoError(t, err)

	// 门控失败按"需要上下文"处理，仍然走改写
	assert.Equal(t, 1, f.rewriter.calls)
	assert.Equal(t, "rewritten query", f.retriever.queries[0])
}

func TestSendMessageRewriteFailureFallsBackToOriginal(t *testing.T) {
	f := newChatFixture()
	f.rewriter.err = errors.New("rewrite down")
	require.NoError(t, f.sessions.AddExchange(context.Background(), 1, "doc-1",
		model.ConversationTurn{Role: model.RoleUser, Content: "earlier"},
		model.ConversationTurn{Role: model.RoleAssistant, Content: "reply"},
	))

	_, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "is that enforceable?")
	require.NoError(t, err)

	assert.Equal(t, "is that enforceable?", f.retriever.queries[0])
}

func TestSendMessageWidensOnceWhenNothingFound(t *testing.T) {
	f := newChatFixture()
	// 第一轮检索为空，第二轮（放宽）命中
	f.retriever.batches = [][]model.RetrievedChunk{nil, someChunks()}

	_, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "something obscure")
	require.NoError(t, err)

	require.Len(t, f.retriever.params, 2)
	assert.Equal(t, 5, f.retriever.params[0].TopK)
	assert.Equal(t, 0.70, f.retriever.params[0].ScoreThreshold)
	assert.Equal(t, 10, f.retriever.params[1].TopK)
	assert.Equal(t, 0.50, f.retriever.params[1].ScoreThreshold)
}

func TestSendMessageWidenedEmptyStillGenerates(t *testing.T) {
	f := newChatFixture()
	f.retriever.batches = nil // 两轮都为空

	_, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "completely unrelated")
	require.NoError(t, err)

	require.Len(t, f.retriever.params, 2)
	require.Len(t, f.generator.inputs, 1)
	assert.Empty(t, f.generator.inputs[0].Context.Chunks)
}

func TestSendMessageDegradedAnswerStillRecorded(t *testing.T) {
	f := newChatFixture()
	f.generator.result = rag.GenerateResult{Content: rag.DegradedResponse}

	resp, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "what about termination?")
	require.NoError(t, err)
	assert.Nil(t, resp.ModelUsed)

	history, err := f.sessions.GetHistory(context.Background(), 1, "doc-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, rag.DegradedResponse, history[1].Content)
	assert.Nil(t, history[1].ModelUsed)
}

func TestSendMessageDocumentNotFound(t *testing.T) {
	f := newChatFixture()

	_, err := f.svc.SendMessage(context.Background(), 1, "missing", "hello")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestSendMessageOtherUsersDocumentLooksMissing(t *testing.T) {
	f := newChatFixture()

	_, err := f.svc.SendMessage(context.Background(), 2, "doc-1", "hello")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestSendMessageNotIndexed(t *testing.T) {
	f := newChatFixture()
	f.docs.docs["doc-1"].Status = model.DocStatusIndexing

	_, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "hello")
	assert.ErrorIs(t, err, ErrDocumentNotIndexed)
}

func TestSendMessageRetrieverErrorPropagates(t *testing.T) {
	f := newChatFixture()
	wantErr := errors.New("store down")
	f.retriever.err = wantErr

	_, err := f.svc.SendMessage(context.Background(), 1, "doc-1", "hello")
	assert.ErrorIs(t, err, wantErr)

	// 失败的问答不落会话
	history, herr := f.sessions.GetHistory(context.Background(), 1, "doc-1")
	require.NoError(t, herr)
	assert.Empty(t, history)
}
