package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"doc-chat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 会话保留 7 天，与用户的活跃周期对齐
const sessionTTL = 7 * 24 * time.Hour

// SessionRepository 定义了 (document, user) 维度会话历史的持久化操作。
// 底层是 Redis list，天然保持追加顺序。
type SessionRepository interface {
	AppendTurns(ctx context.Context, userID uint, documentID string, turns ...model.ConversationTurn) error
	GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ConversationTurn, error)
	DeleteSession(ctx context.Context, userID uint, documentID string) error
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func sessionKey(userID uint, documentID string) string {
	return fmt.Sprintf("chat:session:%d:%s", userID, documentID)
}

// AppendTurns 将若干条消息原子地追加到会话末尾。
// 一次问答的 user/assistant 两条消息走同一次 RPUSH，
// 读方不会观察到只有问题没有回答的中间态。
func (r *redisSessionRepository) AppendTurns(ctx context.Context, userID uint, documentID string, turns ...model.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	key := sessionKey(userID, documentID)
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("序列化会话消息失败: %w", err)
		}
		values = append(values, data)
	}
	pipe := r.redisClient.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("追加会话消息失败: %w", err)
	}
	return nil
}

// GetHistory 按时间顺序返回会话的全部消息，会话不存在时返回空。
func (r *redisSessionRepository) GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ConversationTurn, error) {
	key := sessionKey(userID, documentID)
	raw, err := r.redisClient.LRange(ctx, key, 0, -1).Result()
	if err == redis.Nil {
		return []model.ConversationTurn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话历史失败: %w", err)
	}
	turns := make([]model.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		var t model.ConversationTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("反序列化会话消息失败: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// DeleteSession 删除整个会话。删除不存在的会话不是错误。
func (r *redisSessionRepository) DeleteSession(ctx context.Context, userID uint, documentID string) error {
	if err := r.redisClient.Del(ctx, sessionKey(userID, documentID)).Err(); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	return nil
}
