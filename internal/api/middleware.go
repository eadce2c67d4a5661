package api

import (
	"net/http"
	"strconv"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"

	callerKey = "caller"
)

// identityMiddleware reads the identity forwarded by the gateway. Requests
// without a user id pass through anonymously and are rejected by the
// services; a malformed identity is rejected here.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerUserID))
		if raw == "" {
			c.Next()
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(apperr.KindUnauthorized, "invalid user id"))
			return
		}

		role := strings.ToLower(strings.TrimSpace(c.GetHeader(headerUserRole)))
		switch role {
		case "":
			role = models.RoleCustomer
		case models.RoleCustomer, models.RoleSeller, models.RoleAdmin:
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(apperr.KindUnauthorized, "unknown role"))
			return
		}

		c.Set(callerKey, service.Caller{UserID: userID, Role: role})
		c.Next()
	}
}

func callerFrom(c *gin.Context) service.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(service.Caller); ok {
			return caller
		}
	}
	return service.Caller{}
}

// respondError writes err with the status of its kind. Internal causes are
// logged and never echoed to the client.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(c.Request.Context()).Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(status, errorBody(apperr.KindOf(err), apperr.Message(err)))
}

func respondBindError(c *gin.Context, err error) {
	body := errorBody(apperr.KindBadRequest, "Invalid request body")
	body["details"] = err.Error()
	c.JSON(http.StatusBadRequest, body)
}

// errorBody is the shape of every error response: the kind under "error"
// and the human readable text under "message".
func errorBody(kind apperr.Kind, message string) gin.H {
	return gin.H{
		"error":   kind,
		"message": message,
	}
}
