package middlewares

import (
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderCorrelationId = "X-Correlation-Id"
	HeaderOperator      = "X-Operator"
	HeaderOperatorId    = "X-Operator-Id"
	HeaderOrderSource   = "X-Order-Source"
)

// RequestContextMiddleware copies the correlation id, operator, operator id and
// order source headers into the request context. A correlation id is generated
// when absent and echoed back on the response; a non-numeric operator id is ignored.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		correlationId := strings.TrimSpace(c.GetHeader(HeaderCorrelationId))
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Header(HeaderCorrelationId, correlationId)

		if operator := strings.TrimSpace(c.GetHeader(HeaderOperator)); operator != "" {
			ctx = utils.SetUserNameInContext(ctx, operator)
		}
		if operatorId, err := strconv.Atoi(strings.TrimSpace(c.GetHeader(HeaderOperatorId))); err == nil && operatorId > 0 {
			ctx = utils.SetUserIdInContext(ctx, operatorId)
		}
		if source := strings.TrimSpace(c.GetHeader(HeaderOrderSource)); source != "" {
			ctx = utils.SetOrderSourceInContext(ctx, source)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
