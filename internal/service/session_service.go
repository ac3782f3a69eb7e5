// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/repository"
)

// SessionService 管理 (document, user) 维度的会话历史。
// 会话是只追加的：每个会话同一时间只有一个写入方，
// AddExchange 通过按会话加锁串行化写入，保证轮次顺序与落库顺序一致。
type SessionService interface {
	AddExchange(ctx context.Context, userID uint, documentID string, turns ...model.ConversationTurn) error
	GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ConversationTurn, error)
	DeleteSession(ctx context.Context, userID uint, documentID string) error
}

type sessionService struct {
	sessions repository.SessionRepository

	// 按会话维度的写锁
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(sessions repository.SessionRepository) SessionService {
	return &sessionService{
		sessions: sessions,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *sessionService) lockFor(userID uint, documentID string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", userID, documentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// AddExchange 把一次问答的消息追加到会话末尾。
// 未设置时间戳的消息补上当前时间，保证历史里的时间单调不减。
func (s *sessionService) AddExchange(ctx context.Context, userID uint, documentID string, turns ...model.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	now := time.Now()
	for i := range turns {
		if turns[i].CreatedAt.IsZero() {
			turns[i].CreatedAt = now
		}
	}

	l := s.lockFor(userID, documentID)
	l.Lock()
	defer l.Unlock()
	return s.sessions.AppendTurns(ctx, userID, documentID, turns...)
}

// GetHistory 按时间顺序返回会话的全部消息。
func (s *sessionService) GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ConversationTurn, error) {
	return s.sessions.GetHistory(ctx, userID, documentID)
}

// DeleteSession 删除整个会话，之后的历史查询返回空。
func (s *sessionService) DeleteSession(ctx context.Context, userID uint, documentID string) error {
	l := s.lockFor(userID, documentID)
	l.Lock()
	defer l.Unlock()
	return s.sessions.DeleteSession(ctx, userID, documentID)
}
