// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/pipeline"

	"gorm.io/gorm"
)

// DocumentRepository 定义了文档元数据的持久化操作。
// 状态迁移方法同时实现了索引器依赖的 pipeline.DocumentStore。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	FindByUser(ctx context.Context, userID uint) ([]model.Document, error)
	Delete(ctx context.Context, id string) error

	BeginIndexing(ctx context.Context, documentID string) error
	CompleteIndexing(ctx context.Context, documentID string, chunkCount int, embeddingModel string) error
	AbortIndexing(ctx context.Context, documentID, toStatus string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一条文档记录。
func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// FindByID 根据文档 ID 查找文档。
func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByUser 返回某个用户的全部文档，按创建时间倒序。
func (r *documentRepository) FindByUser(ctx context.Context, userID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&docs).Error
	return docs, err
}

// Delete 删除一条文档记录。
func (r *documentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error
}

// BeginIndexing 把文档迁移到 indexing 状态。
// 条件式 UPDATE 保证了跨进程的并发保护：状态已是 indexing 时
// 影响行数为 0，返回 ErrAlreadyIndexing。
func (r *documentRepository) BeginIndexing(ctx context.Context, documentID string) error {
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND status <> ?", documentID, model.DocStatusIndexing).
		Update("status", model.DocStatusIndexing)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&model.Document{}).
			Where("id = ?", documentID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
		return pipeline.ErrAlreadyIndexing
	}
	return nil
}

// CompleteIndexing 写入索引记录并把文档迁移到 indexed 状态。
func (r *documentRepository) CompleteIndexing(ctx context.Context, documentID string, chunkCount int, embeddingModel string) error {
	return r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ?", documentID).
		Updates(map[string]interface{}{
			"status":          model.DocStatusIndexed,
			"chunk_count":     chunkCount,
			"embedding_model": embeddingModel,
			"indexed":         true,
		}).Error
}

// AbortIndexing 在索引失败或输入非法时回退文档状态。
// 回退后文档视为未索引，清空索引记录字段。
func (r *documentRepository) AbortIndexing(ctx context.Context, documentID, toStatus string) error {
	return r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ?", documentID).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"chunk_count": 0,
			"indexed":     false,
		}).Error
}
