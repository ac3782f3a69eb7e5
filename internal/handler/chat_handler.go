package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"doc-chat-go/internal/middleware"
	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/embedding"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理文档问答请求，包括 REST 与 WebSocket 两种形态。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, jwtManager: jwtManager}
}

type chatRequest struct {
	Query string `json:"query" binding:"required"`
}

// Send 处理一次非流式问答。
func (h *ChatHandler) Send(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	userID := middleware.CurrentUserID(c)
	resp, err := h.chatService.SendMessage(c.Request.Context(), userID, c.Param("id"), req.Query)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}

// History 返回文档会话的历史消息，limit 限定最近 N 条。
func (h *ChatHandler) History(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	turns, err := h.chatService.GetHistory(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if limit, convErr := strconv.Atoi(c.Query("limit")); convErr == nil && limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": turns})
}

// ClearHistory 清空文档会话。
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if err := h.chatService.ClearHistory(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// wsChatMessage 是 WebSocket 连接上的问答请求。
type wsChatMessage struct {
	DocumentID string `json:"document_id"`
	Query      string `json:"query"`
}

// HandleWebSocket 处理一个传入的 WebSocket 连接。
// 浏览器的 WebSocket API 无法携带请求头，token 从路径参数传入。
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req wsChatMessage
		if err := json.Unmarshal(message, &req); err != nil || req.DocumentID == "" || req.Query == "" {
			h.writeWSError(conn, "无效的消息格式")
			continue
		}

		err = h.chatService.StreamMessage(c.Request.Context(), claims.UserID, req.DocumentID, req.Query, conn)
		if err != nil {
			h.writeWSError(conn, h.wsErrorMessage(err))
			continue
		}

		// 流结束标记
		if err := conn.WriteMessage(websocket.TextMessage, []byte("[DONE]")); err != nil {
			log.Warnf("写入流结束标记失败: %v", err)
			break
		}
	}
}

func (h *ChatHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在", "data": nil})
	case errors.Is(err, service.ErrDocumentNotIndexed):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "文档尚未完成索引", "data": nil})
	case errors.Is(err, embedding.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "向量化服务暂时不可用", "data": nil})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "问答失败", "data": nil})
	}
}

func (h *ChatHandler) wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound):
		return "文档不存在"
	case errors.Is(err, service.ErrDocumentNotIndexed):
		return "文档尚未完成索引"
	case errors.Is(err, embedding.ErrUnavailable):
		return "向量化服务暂时不可用"
	default:
		return "问答失败"
	}
}

func (h *ChatHandler) writeWSError(conn *websocket.Conn, message string) {
	payload, _ := json.Marshal(gin.H{"type": "error", "message": message})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Warnf("写入 WebSocket 错误消息失败: %v", err)
	}
}
