package service

import (
	"context"
	"errors"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/rag"
	"doc-chat-go/internal/repository"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/llm"
	"doc-chat-go/pkg/log"

	"gorm.io/gorm"
)

var (
	// ErrDocumentNotFound 表示文档不存在，或不属于当前用户。
	// 两种情况对外不做区分，避免泄露他人文档的存在性。
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentNotIndexed 表示文档尚未完成索引，无法进行问答。
	ErrDocumentNotIndexed = errors.New("document is not indexed yet")
)

// ChunkRetriever 是对话服务对检索器的依赖。
type ChunkRetriever interface {
	Retrieve(ctx context.Context, namespace, query string, params rag.RetrieveParams) ([]model.RetrievedChunk, error)
}

// AnswerGenerator 是对话服务对答案生成器的依赖。
type AnswerGenerator interface {
	Generate(ctx context.Context, input rag.GenerateInput) rag.GenerateResult
	GenerateStream(ctx context.Context, input rag.GenerateInput, writer llm.MessageWriter) rag.GenerateResult
}

// ChatResponse 是一次文档问答的结果。
// ModelUsed 为 nil 表示走了降级路径。
type ChatResponse struct {
	Answer         string   `json:"answer"`
	SourceChunkIDs []string `json:"source_chunk_ids,omitempty"`
	ModelUsed      *string  `json:"model_used"`
	SearchQuery    string   `json:"search_query,omitempty"`
}

// ChatService 编排完整的文档问答链路：
// 历史 → 门控 → 改写 → 检索 → 组装 → 生成 → 落库。
type ChatService interface {
	SendMessage(ctx context.Context, userID uint, documentID, query string) (*ChatResponse, error)
	StreamMessage(ctx context.Context, userID uint, documentID, query string, writer llm.MessageWriter) error
	GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ConversationTurn, error)
	ClearHistory(ctx context.Context, userID uint, documentID string) error
}

type chatService struct {
	docs      repository.DocumentRepository
	sessions  SessionService
	gate      rag.ContextGate
	rewriter  rag.QueryRewriter
	retriever ChunkRetriever
	assembler *rag.Assembler
	generator AnswerGenerator
	ragCfg    config.RAGConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	docs repository.DocumentRepository,
	sessions SessionService,
	gate rag.ContextGate,
	rewriter rag.QueryRewriter,
	retriever ChunkRetriever,
	assembler *rag.Assembler,
	generator AnswerGenerator,
	ragCfg config.RAGConfig,
) ChatService {
	return &chatService{
		docs:      docs,
		sessions:  sessions,
		gate:      gate,
		rewriter:  rewriter,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		ragCfg:    ragCfg,
	}
}

// SendMessage 执行一次非流式问答并把问答双方的消息落入会话。
func (s *chatService) SendMessage(ctx context.Context, userID uint, documentID, query string) (*ChatResponse, error) {
	input, searchQuery, err := s.prepare(ctx, userID, documentID, query)
	if err != nil {
		return nil, err
	}

	res := s.generator.Generate(ctx, input)
	if err := s.persistExchange(ctx, userID, documentID, query, res); err != nil {
		return nil, err
	}
	return &ChatResponse{
		Answer:         res.Content,
		SourceChunkIDs: res.SourceChunkIDs,
		ModelUsed:      res.ModelUsed,
		SearchQuery:    searchQuery,
	}, nil
}

// StreamMessage 执行一次流式问答，增量分块经 writer 下发，
// 流结束后把完整内容落入会话。
func (s *chatService) StreamMessage(ctx context.Context, userID uint, documentID, query string, writer llm.MessageWriter) error {
	input, _, err := s.prepare(ctx, userID, documentID, query)
	if err != nil {
		return err
	}

	res := s.generator.GenerateStream(ctx, input, writer)
	return s.persistExchange(ctx, userID, documentID, query, res)
}

// GetHistory 返回会话的全部消息。先校验文档归属。
func (s *chatService) GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ConversationTurn, error) {
	if _, err := s.ownedDocument(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return s.sessions.GetHistory(ctx, userID, documentID)
}

// ClearHistory 清空会话。先校验文档归属。
func (s *chatService) ClearHistory(ctx context.Context, userID uint, documentID string) error {
	if _, err := s.ownedDocument(ctx, userID, documentID); err != nil {
		return err
	}
	return s.sessions.DeleteSession(ctx, userID, documentID)
}

// prepare 执行生成之前的全部管线步骤，返回生成输入与实际使用的检索查询。
func (s *chatService) prepare(ctx context.Context, userID uint, documentID, query string) (rag.GenerateInput, string, error) {
	doc, err := s.ownedDocument(ctx, userID, documentID)
	if err != nil {
		return rag.GenerateInput{}, "", err
	}
	if doc.Status != model.DocStatusIndexed {
		return rag.GenerateInput{}, "", ErrDocumentNotIndexed
	}

	history, err := s.sessions.GetHistory(ctx, userID, documentID)
	if err != nil {
		return rag.GenerateInput{}, "", err
	}
	recent := history
	if len(recent) > s.ragCfg.HistoryLimit {
		recent = recent[len(recent)-s.ragCfg.HistoryLimit:]
	}

	// 门控与改写只在有历史可指代时才有意义。
	// 两者都是降级而非致命的：门控失败按"需要上下文"处理，
	// 改写失败回退到原始查询。
	searchQuery := query
	if len(recent) > 0 {
		needsContext, err := s.gate.NeedsContext(ctx, query)
		if err != nil {
			log.Warnf("[Chat] 门控失败, 按需要上下文处理: %v", err)
			needsContext = true
		}
		if needsContext {
			rewritten, err := s.rewriter.Rewrite(ctx, query, recent)
			if err != nil {
				log.Warnf("[Chat] 查询改写失败, 回退到原始查询: %v", err)
			} else {
				searchQuery = rewritten
			}
		}
	}

	namespace := vectorstore.NamespaceForUser(userID)
	chunks, err := s.retriever.Retrieve(ctx, namespace, searchQuery, rag.RetrieveParams{
		TopK:           s.ragCfg.TopK,
		ScoreThreshold: s.ragCfg.ScoreThreshold,
		DocumentID:     documentID,
	})
	if err != nil {
		return rag.GenerateInput{}, "", err
	}

	// 一无所获时放宽一次阈值重试，只放宽这一次
	if len(chunks) == 0 {
		chunks, err = s.retriever.Retrieve(ctx, namespace, searchQuery, rag.RetrieveParams{
			TopK:           s.ragCfg.WidenTopK,
			ScoreThreshold: s.ragCfg.WidenScoreThreshold,
			DocumentID:     documentID,
		})
		if err != nil {
			return rag.GenerateInput{}, "", err
		}
	}

	assembled := s.assembler.Assemble(chunks, s.ragCfg.ContextTokenBudget)
	log.Infof("[Chat] 检索完成, DocumentID: %s, 候选 %d, 入选 %d, 上下文 %d tokens",
		documentID, len(chunks), len(assembled.Chunks), assembled.TokensUsed)

	return rag.GenerateInput{
		Query:   query,
		Context: assembled,
		History: recent,
	}, searchQuery, nil
}

// persistExchange 把问答双方的消息作为一次写入追加到会话。
func (s *chatService) persistExchange(ctx context.Context, userID uint, documentID, query string, res rag.GenerateResult) error {
	userTurn := model.ConversationTurn{
		Role:    model.RoleUser,
		Content: query,
	}
	assistantTurn := model.ConversationTurn{
		Role:           model.RoleAssistant,
		Content:        res.Content,
		ModelUsed:      res.ModelUsed,
		SourceChunkIDs: res.SourceChunkIDs,
	}
	return s.sessions.AddExchange(ctx, userID, documentID, userTurn, assistantTurn)
}

// ownedDocument 查找文档并校验归属。不存在与越权同样返回
// ErrDocumentNotFound。
func (s *chatService) ownedDocument(ctx context.Context, userID uint, documentID string) (*model.Document, error) {
	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}
