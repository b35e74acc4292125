package handler

import (
	"net/http"
	"strconv"
	"strings"

	"studymate-go/internal/middleware"
	"studymate-go/internal/service"
	"studymate-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 单次问答允许取回的段落数上限，防止超大 topK 拖垮检索。
const maxTopK = 20

// AskHandler 负责处理基于用户资料的问答请求。
type AskHandler struct {
	askService service.AskService
}

// NewAskHandler 创建一个新的 AskHandler 实例。
func NewAskHandler(askService service.AskService) *AskHandler {
	return &AskHandler{askService: askService}
}

// Ask 处理问答请求。查询参数 q 为问题，topK 可选。
func (h *AskHandler) Ask(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	question := strings.TrimSpace(c.Query("q"))
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "问题不能为空"})
		return
	}

	topK := 0
	if raw := c.Query("topK"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTopK {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 topK 参数"})
			return
		}
		topK = parsed
	}

	result, err := h.askService.Ask(c.Request.Context(), ownerID, question, topK)
	if err != nil {
		log.Error("Ask: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "问答处理失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "问答成功",
		"data":    result,
	})
}
