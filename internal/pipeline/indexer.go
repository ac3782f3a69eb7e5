package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/embedding"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/tasks"
)

var (
	// ErrAlreadyIndexing 表示该文档正在被另一个索引流程处理。
	ErrAlreadyIndexing = errors.New("document is already being indexed")
	// ErrIndexingFailed 表示索引流程失败，文档保持未索引状态。
	ErrIndexingFailed = errors.New("document indexing failed")
)

// DocumentStore 是索引器对文档元数据存储的最小依赖。
// BeginIndexing 必须是条件式状态迁移：文档已处于 indexing 状态时
// 返回 ErrAlreadyIndexing，以拒绝并发的重复索引。
type DocumentStore interface {
	BeginIndexing(ctx context.Context, documentID string) error
	CompleteIndexing(ctx context.Context, documentID string, chunkCount int, embeddingModel string) error
	AbortIndexing(ctx context.Context, documentID, toStatus string) error
}

// TextSource 提供文档的抽取文本（外部存储协作方）。
type TextSource interface {
	GetDocumentText(ctx context.Context, documentID string) (string, error)
}

// ProgressReporter 接收索引过程中的离散进度事件。
type ProgressReporter interface {
	Report(ctx context.Context, documentID string, progress model.IndexProgress)
}

// Indexer 编排 切块 → 向量化 → 写入向量存储 的完整索引流程。
// 对调用方而言索引是全有或全无的：任何一步失败都会清理已写入的分块。
type Indexer struct {
	chunker  *Chunker
	embedder embedding.Client
	store    vectorstore.Store
	docs     DocumentStore
	texts    TextSource
	progress ProgressReporter

	// 进程内单飞保护：同一文档同一时间只允许一个索引流程
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewIndexer 创建一个文档索引器。
func NewIndexer(
	chunker *Chunker,
	embedder embedding.Client,
	store vectorstore.Store,
	docs DocumentStore,
	texts TextSource,
	progress ProgressReporter,
) *Indexer {
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		docs:     docs,
		texts:    texts,
		progress: progress,
		inFlight: make(map[string]struct{}),
	}
}

// Process 实现 kafka.TaskProcessor，从文本存储读取文档并执行索引。
func (ix *Indexer) Process(ctx context.Context, task tasks.DocumentIndexTask) error {
	text, err := ix.texts.GetDocumentText(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("读取文档文本失败: %w", err)
	}
	_, err = ix.IndexDocument(ctx, task.DocumentID, task.UserID, text)
	return err
}

// IndexDocument 对单个文档执行完整的索引流程。
// 重复索引是幂等的：先删除该文档既有的全部分块，再写入新版本，
// 因此两次索引后 namespace 中恰好是最新一版的 chunk_count 个分块。
func (ix *Indexer) IndexDocument(ctx context.Context, documentID string, userID uint, text string) (model.IndexRecord, error) {
	if !ix.acquire(documentID) {
		return model.IndexRecord{}, ErrAlreadyIndexing
	}
	defer ix.release(documentID)

	if err := ix.docs.BeginIndexing(ctx, documentID); err != nil {
		return model.IndexRecord{}, err
	}

	namespace := vectorstore.NamespaceForUser(userID)
	log.Infof("[Indexer] 开始索引文档, DocumentID: %s, Namespace: %s", documentID, namespace)

	// 1. 切块
	ix.report(ctx, documentID, "processing", "chunking", 10)
	chunks, err := ix.chunker.Split(text, documentID, userID)
	if err != nil {
		// 空文本属于调用方错误，文档保持未索引状态
		ix.abort(ctx, documentID, model.DocStatusNotIndexed)
		return model.IndexRecord{}, err
	}
	log.Infof("[Indexer] 切块完成, DocumentID: %s, 共 %d 个分块", documentID, len(chunks))

	// 2. 清理旧版本分块（重索引幂等；chunk_index 不会跨版本复用）
	if err := ix.store.DeleteDocument(ctx, namespace, documentID); err != nil {
		ix.abort(ctx, documentID, model.DocStatusFailed)
		return model.IndexRecord{}, fmt.Errorf("%w: 清理旧分块失败: %v", ErrIndexingFailed, err)
	}

	// 3. 批量向量化
	ix.report(ctx, documentID, "processing", "embedding", 40)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		ix.abort(ctx, documentID, model.DocStatusFailed)
		if errors.Is(err, embedding.ErrUnavailable) {
			return model.IndexRecord{}, err
		}
		return model.IndexRecord{}, fmt.Errorf("%w: 向量化失败: %v", ErrIndexingFailed, err)
	}
	if len(vectors) != len(chunks) {
		ix.abort(ctx, documentID, model.DocStatusFailed)
		return model.IndexRecord{}, fmt.Errorf("%w: 向量数量 %d 与分块数量 %d 不一致", ErrIndexingFailed, len(vectors), len(chunks))
	}
	log.Infof("[Indexer] 向量化完成, DocumentID: %s", documentID)

	// 4. 写入向量存储
	ix.report(ctx, documentID, "processing", "indexing", 80)
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{Chunk: c, Vector: vectors[i], Model: ix.embedder.Model()}
	}
	if err := ix.store.Upsert(ctx, namespace, records); err != nil {
		// 回滚可能已写入的部分分块，保证不残留半成品索引
		if delErr := ix.store.DeleteDocument(ctx, namespace, documentID); delErr != nil {
			log.Errorf("[Indexer] 回滚分块失败, DocumentID: %s, Error: %v", documentID, delErr)
		}
		ix.abort(ctx, documentID, model.DocStatusFailed)
		return model.IndexRecord{}, fmt.Errorf("%w: 写入向量存储失败: %v", ErrIndexingFailed, err)
	}

	// 5. 写入索引记录
	if err := ix.docs.CompleteIndexing(ctx, documentID, len(chunks), ix.embedder.Model()); err != nil {
		if delErr := ix.store.DeleteDocument(ctx, namespace, documentID); delErr != nil {
			log.Errorf("[Indexer] 回滚分块失败, DocumentID: %s, Error: %v", documentID, delErr)
		}
		ix.abort(ctx, documentID, model.DocStatusFailed)
		return model.IndexRecord{}, fmt.Errorf("%w: 写入索引记录失败: %v", ErrIndexingFailed, err)
	}

	ix.report(ctx, documentID, "completed", "indexed", 100)
	log.Infof("[Indexer] 文档索引完成, DocumentID: %s, ChunkCount: %d", documentID, len(chunks))
	return model.IndexRecord{
		DocumentID:     documentID,
		ChunkCount:     len(chunks),
		EmbeddingModel: ix.embedder.Model(),
		Indexed:        true,
	}, nil
}

func (ix *Indexer) acquire(documentID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, busy := ix.inFlight[documentID]; busy {
		return false
	}
	ix.inFlight[documentID] = struct{}{}
	return true
}

func (ix *Indexer) release(documentID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.inFlight, documentID)
}

func (ix *Indexer) abort(ctx context.Context, documentID, toStatus string) {
	if err := ix.docs.AbortIndexing(ctx, documentID, toStatus); err != nil {
		log.Errorf("[Indexer] 更新文档状态失败, DocumentID: %s, Error: %v", documentID, err)
	}
	ix.report(ctx, documentID, "failed", "", 0)
}

func (ix *Indexer) report(ctx context.Context, documentID, state, stage string, percent int) {
	if ix.progress == nil {
		return
	}
	ix.progress.Report(ctx, documentID, model.IndexProgress{State: state, Stage: stage, Percent: percent})
}
