package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/gin-gonic/gin"
)

func TestRequestContextMiddleware_CopiesOperatorHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestContextMiddleware())

	var userId int
	var hasUserId bool
	var userName, correlationId string
	r.GET("/", func(c *gin.Context) {
		ctx := c.Request.Context()
		userId, hasUserId = utils.GetUserIdFromContext(ctx)
		userName, _ = utils.GetUserNameFromContext(ctx)
		correlationId, _ = utils.GetCorrelationIdFromContext(ctx)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOperator, "Ko Aung")
	req.Header.Set(HeaderOperatorId, " 42 ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !hasUserId || userId != 42 || userName != "Ko Aung" {
		t.Fatalf("operator not copied: id=%d (%t) name=%q", userId, hasUserId, userName)
	}
	if correlationId == "" || w.Header().Get(HeaderCorrelationId) != correlationId {
		t.Fatalf("correlation id not generated and echoed: ctx=%q header=%q", correlationId, w.Header().Get(HeaderCorrelationId))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOperatorId, "admin")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if hasUserId {
		t.Fatalf("non-numeric operator id should be ignored, got %d", userId)
	}
}
