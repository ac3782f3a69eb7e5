package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"doc-chat-go/internal/model"
	"doc-chat-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

const progressTTL = 24 * time.Hour

// ProgressRepository 保存异步索引任务的进度快照，供前端轮询。
// Report 方法同时实现了 pipeline.ProgressReporter。
type ProgressRepository interface {
	Report(ctx context.Context, documentID string, progress model.IndexProgress)
	Get(ctx context.Context, documentID string) (*model.IndexProgress, error)
	Delete(ctx context.Context, documentID string) error
}

type redisProgressRepository struct {
	redisClient *redis.Client
}

// NewProgressRepository 创建一个新的 ProgressRepository 实例。
func NewProgressRepository(redisClient *redis.Client) ProgressRepository {
	return &redisProgressRepository{redisClient: redisClient}
}

func progressKey(documentID string) string {
	return fmt.Sprintf("index:progress:%s", documentID)
}

// Report 写入进度快照。进度是尽力而为的辅助信息，
// 写入失败只记日志，不打断索引流程。
func (r *redisProgressRepository) Report(ctx context.Context, documentID string, progress model.IndexProgress) {
	data, err := json.Marshal(progress)
	if err != nil {
		log.Errorf("[Progress] 序列化进度失败, DocumentID: %s, Error: %v", documentID, err)
		return
	}
	if err := r.redisClient.Set(ctx, progressKey(documentID), data, progressTTL).Err(); err != nil {
		log.Errorf("[Progress] 写入进度失败, DocumentID: %s, Error: %v", documentID, err)
	}
}

// Get 读取进度快照，不存在时返回 nil。
func (r *redisProgressRepository) Get(ctx context.Context, documentID string) (*model.IndexProgress, error) {
	raw, err := r.redisClient.Get(ctx, progressKey(documentID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取索引进度失败: %w", err)
	}
	var progress model.IndexProgress
	if err := json.Unmarshal([]byte(raw), &progress); err != nil {
		return nil, fmt.Errorf("反序列化索引进度失败: %w", err)
	}
	return &progress, nil
}

// Delete 清理进度快照，随文档删除级联调用。
func (r *redisProgressRepository) Delete(ctx context.Context, documentID string) error {
	return r.redisClient.Del(ctx, progressKey(documentID)).Err()
}
