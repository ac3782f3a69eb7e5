package model

import "time"

// 对话角色常量。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn 代表会话中的一条消息。
// ModelUsed 为 nil 表示该回复由降级路径产生（LLM 调用失败后的兜底回复）。
type ConversationTurn struct {
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	ModelUsed      *string   `json:"model_used"`
	SourceChunkIDs []string  `json:"source_chunk_ids,omitempty"`
}

// ChatSession 是 (document, user) 维度的有序会话。
// Turns 只追加，从不重排或修改。
type ChatSession struct {
	DocumentID string             `json:"document_id"`
	UserID     uint               `json:"user_id"`
	Turns      []ConversationTurn `json:"turns"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}
