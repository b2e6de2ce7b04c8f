package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stilva/shop_backend/utils"
)

// RequestContextMiddleware attaches a correlation id (generated when the
// caller does not send one) and the acting user to the request context so
// ledger rows and audit entries can name who did what.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)

		actor := c.GetHeader("x-actor")
		if actor == "" {
			actor = "admin"
		}
		ctx = utils.SetActorInContext(ctx, actor)

		c.Request = c.Request.WithContext(ctx)
		c.Header("x-correlation-id", cid)
		c.Next()
	}
}
