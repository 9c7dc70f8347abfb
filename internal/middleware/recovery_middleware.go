// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	"cashier-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope and logs it
// with the stack.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				fields := []zap.Field{
					zap.Any("panic", rec),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				}
				if id, ok := GetCustomerID(c); ok {
					fields = append(fields, zap.String("customer_id", id))
				}
				logger.Error("panic recovered", fields...)

				if !c.Writer.Written() {
					response.Error(c, http.StatusInternalServerError, "internal server error", nil)
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
