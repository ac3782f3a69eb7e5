package service

import (
	"context"
	"fmt"
	"strings"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/pipeline"
	"doc-chat-go/internal/repository"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/kafka"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/storage"
	"doc-chat-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentService 管理文档的上传、查询与级联删除。
// 上传只负责登记与入队，实际的索引由 Kafka 消费端异步执行。
type DocumentService interface {
	UploadText(ctx context.Context, userID uint, fileName, text string) (*model.Document, error)
	Get(ctx context.Context, userID uint, documentID string) (*model.Document, error)
	List(ctx context.Context, userID uint) ([]model.Document, error)
	Progress(ctx context.Context, userID uint, documentID string) (*model.IndexProgress, error)
	Delete(ctx context.Context, userID uint, documentID string) error
}

type documentService struct {
	docs     repository.DocumentRepository
	progress repository.ProgressRepository
	sessions SessionService
	store    vectorstore.Store
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docs repository.DocumentRepository,
	progress repository.ProgressRepository,
	sessions SessionService,
	store vectorstore.Store,
) DocumentService {
	return &documentService{
		docs:     docs,
		progress: progress,
		sessions: sessions,
		store:    store,
	}
}

// UploadText 登记一篇新文档：文本写入对象存储，元数据入库，
// 索引任务入队。空文本在入口处直接拒绝。
func (s *documentService) UploadText(ctx context.Context, userID uint, fileName, text string) (*model.Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, pipeline.ErrEmptyInput
	}

	doc := &model.Document{
		ID:       uuid.NewString(),
		UserID:   userID,
		FileName: fileName,
		Status:   model.DocStatusNotIndexed,
	}

	bucket := config.Conf.MinIO.BucketName
	if err := storage.PutDocumentText(ctx, bucket, doc.ID, text); err != nil {
		return nil, fmt.Errorf("保存文档文本失败: %w", err)
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if delErr := storage.DeleteDocumentText(ctx, bucket, doc.ID); delErr != nil {
			log.Errorf("[Document] 回滚文档文本失败, DocumentID: %s, Error: %v", doc.ID, delErr)
		}
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	s.progress.Report(ctx, doc.ID, model.IndexProgress{State: "pending", Percent: 0})

	task := tasks.DocumentIndexTask{
		JobID:      uuid.NewString(),
		DocumentID: doc.ID,
		UserID:     userID,
		FileName:   fileName,
	}
	if err := kafka.ProduceIndexTask(task); err != nil {
		// 入队失败时文档保持 not_indexed，用户可删除后重新上传
		return nil, fmt.Errorf("提交索引任务失败: %w", err)
	}

	log.Infof("[Document] 文档已登记并入队, DocumentID: %s, UserID: %d", doc.ID, userID)
	return doc, nil
}

// Get 返回单篇文档的元数据，校验归属。
func (s *documentService) Get(ctx context.Context, userID uint, documentID string) (*model.Document, error) {
	return s.owned(ctx, userID, documentID)
}

// List 返回用户的全部文档。
func (s *documentService) List(ctx context.Context, userID uint) ([]model.Document, error) {
	return s.docs.FindByUser(ctx, userID)
}

// Progress 返回文档当前的索引进度快照。
func (s *documentService) Progress(ctx context.Context, userID uint, documentID string) (*model.IndexProgress, error) {
	if _, err := s.owned(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return s.progress.Get(ctx, documentID)
}

// Delete 级联删除文档：向量 → 会话 → 进度 → 文本 → 元数据行。
// 先删向量保证即使中途失败，也不会出现"行没了但向量还能被检索到"。
func (s *documentService) Delete(ctx context.Context, userID uint, documentID string) error {
	doc, err := s.owned(ctx, userID, documentID)
	if err != nil {
		return err
	}

	namespace := vectorstore.NamespaceForUser(doc.UserID)
	if err := s.store.DeleteDocument(ctx, namespace, documentID); err != nil {
		return fmt.Errorf("删除文档向量失败: %w", err)
	}
	if err := s.sessions.DeleteSession(ctx, userID, documentID); err != nil {
		return fmt.Errorf("删除文档会话失败: %w", err)
	}
	if err := s.progress.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("删除索引进度失败: %w", err)
	}
	if err := storage.DeleteDocumentText(ctx, config.Conf.MinIO.BucketName, documentID); err != nil {
		return fmt.Errorf("删除文档文本失败: %w", err)
	}
	if err := s.docs.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}

	log.Infof("[Document] 文档已删除, DocumentID: %s, UserID: %d", documentID, userID)
	return nil
}

func (s *documentService) owned(ctx context.Context, userID uint, documentID string) (*model.Document, error) {
	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}
