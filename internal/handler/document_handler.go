package handler

import (
	"errors"
	"net/http"

	"doc-chat-go/internal/middleware"
	"doc-chat-go/internal/pipeline"
	"doc-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理文档的上传、查询与删除请求。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

type uploadRequest struct {
	FileName string `json:"file_name" binding:"required,max=255"`
	Text     string `json:"text" binding:"required"`
}

// Upload 接收文档文本并提交异步索引任务。
func (h *DocumentHandler) Upload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	userID := middleware.CurrentUserID(c)
	doc, err := h.documentService.UploadText(c.Request.Context(), userID, req.FileName, req.Text)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyInput) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "文档内容为空", "data": nil})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "文档上传失败", "data": nil})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "文档已提交索引", "data": doc})
}

// List 返回当前用户的全部文档。
func (h *DocumentHandler) List(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	docs, err := h.documentService.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取文档列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": docs})
}

// Get 返回单篇文档的元数据与索引记录。
func (h *DocumentHandler) Get(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	doc, err := h.documentService.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "获取文档失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": doc})
}

// Progress 返回文档的索引进度快照。
func (h *DocumentHandler) Progress(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	progress, err := h.documentService.Progress(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "获取索引进度失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": progress})
}

// Delete 级联删除文档及其向量、会话与文本。
func (h *DocumentHandler) Delete(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if err := h.documentService.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.writeError(c, err, "删除文档失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

func (h *DocumentHandler) writeError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, service.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在", "data": nil})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": fallback, "data": nil})
}
