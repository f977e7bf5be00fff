package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soletrade/livechat/internal/common"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic recovered path=%s err=%v", c.Request.URL.Path, rec)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
