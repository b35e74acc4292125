// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ownerKey 是存入 Gin 上下文的用户标识键。
const ownerKey = "ownerID"

// OwnerMiddleware 从 X-User-Id 请求头解析调用方身份并存入上下文。
// 身份的签发与校验在上游网关完成，这里只做归属隔离。
func OwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-Id")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含用户标识"})
			return
		}
		ownerID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || ownerID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的用户标识"})
			return
		}
		c.Set(ownerKey, uint(ownerID))
		c.Next()
	}
}

// OwnerFromContext 返回请求调用方的用户 ID。
func OwnerFromContext(c *gin.Context) (uint, bool) {
	v, exists := c.Get(ownerKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
