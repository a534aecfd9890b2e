package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"formgate/internal/constants"
	"formgate/internal/logger"
	apperrors "formgate/pkg/errors"
	"formgate/pkg/logging"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
	ClientIPKey     = "client_ip"
)

// clientIPHeaders are consulted in order; the first non-empty wins.
var clientIPHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"Client-IP",
}

func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		statusCode := c.Writer.Status()
		logFields := []interface{}{
			"status", statusCode,
			"latency", time.Since(start),
			"method", c.Request.Method,
			"path", path,
		}

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			logFields = append(logFields, "error", errorMessage)
		}

		ctx := c.Request.Context()
		if statusCode >= http.StatusInternalServerError {
			log.ErrorwCtx(ctx, "HTTP Request", logFields...)
		} else {
			log.InfowCtx(ctx, "HTTP Request", logFields...)
		}
	}
}

func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := apperrors.RecoverPanic(recovered)
		log.ErrorwCtx(c.Request.Context(), "Panic recovered",
			"error", err,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.ToErrorResponse(err))
	})
}

// RequestIDMiddleware honours an incoming X-Request-ID or mints a UUID, and
// exposes it to handlers and context-aware loggers.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// ClientIPMiddleware resolves the caller address once per request.
func ClientIPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ResolveClientIP(c.Request)
		c.Set(ClientIPKey, ip)
		c.Request = c.Request.WithContext(logging.WithClientIP(c.Request.Context(), ip))
		c.Next()
	}
}

// ResolveClientIP returns the first comma-separated token of the first
// non-empty proxy header, falling back to the connection address.
// Headers are trusted as-is; deploy behind a proxy that overwrites them.
func ResolveClientIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		if v := r.Header.Get(h); strings.TrimSpace(v) != "" {
			return firstToken(v)
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return firstToken(r.RemoteAddr)
	}
	return constants.UnknownClientIP
}

func firstToken(v string) string {
	token, _, _ := strings.Cut(v, ",")
	if token = strings.TrimSpace(token); token == "" {
		return constants.UnknownClientIP
	}
	return token
}

// ClientIP reads the address stored by ClientIPMiddleware.
func ClientIP(c *gin.Context) string {
	if ip := c.GetString(ClientIPKey); ip != "" {
		return ip
	}
	return ResolveClientIP(c.Request)
}
