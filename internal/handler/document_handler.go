// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io/ioutil"
	"net/http"

	"studymate-go/internal/middleware"
	"studymate-go/internal/service"
	"studymate-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 单次上传的最大文件大小。课程资料超过这个规模应当拆分后上传。
const maxUploadBytes = 50 << 20 // 50MB

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// UploadDocument 处理文档上传请求。接收 multipart 表单中的 file 字段，
// 排队摄取后立即返回 pending 状态的文档记录。
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 file 字段"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "文件过大"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("UploadDocument: open file failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}
	defer file.Close()

	content, err := ioutil.ReadAll(file)
	if err != nil {
		log.Error("UploadDocument: read file failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}

	dto, err := h.docService.Upload(c.Request.Context(), ownerID, fileHeader.Filename, content)
	if err != nil {
		if errors.Is(err, service.ErrEmptyDocument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "文件内容为空"})
			return
		}
		log.Error("UploadDocument: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文档上传失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档已接收，正在摄取",
		"data":    dto,
	})
}

// ListDocuments 处理获取用户文档列表的请求。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	docs, err := h.docService.List(c.Request.Context(), ownerID)
	if err != nil {
		log.Error("ListDocuments: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文档列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取文档列表成功",
		"data":    docs,
	})
}

// GetDocument 处理查询单个文档状态的请求。
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}
	documentID := c.Param("documentId")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文档 ID"})
		return
	}

	dto, err := h.docService.Get(c.Request.Context(), ownerID, documentID)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Error("GetDocument: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询文档成功",
		"data":    dto,
	})
}

// DeleteDocument 处理删除文档的请求。
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}
	documentID := c.Param("documentId")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文档 ID"})
		return
	}

	if err := h.docService.Delete(c.Request.Context(), ownerID, documentID); err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Error("DeleteDocument: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除文档失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档删除成功",
		"data":    gin.H{"documentId": documentID},
	})
}
