package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pithecene-io/chatrelay/log"
)

const (
	headerRequestID = "X-Request-Id"
	ctxRequestID    = "request_id"
)

// RequestID attaches a request id, reusing an inbound X-Request-Id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(ctxRequestID, reqID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

// RequestLogger logs one entry per request, including aborted streams.
func RequestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		aborted := true
		defer func() {
			status := c.Writer.Status()
			path := c.FullPath()
			if path == "" {
				path = c.Request.URL.Path
			}
			fields := map[string]any{
				"method":      strings.ToUpper(c.Request.Method),
				"path":        path,
				"status":      status,
				"bytes":       c.Writer.Size(),
				"duration_ms": time.Since(start).Milliseconds(),
			}
			l := requestLogger(c, logger)
			switch {
			case aborted:
				fields["aborted"] = true
				l.Warn("HTTP request", fields)
			case status >= 500:
				l.Error("HTTP request", fields)
			case status >= 400:
				l.Warn("HTTP request", fields)
			default:
				l.Info("HTTP request", fields)
			}
		}()
		c.Next()
		aborted = false
	}
}

// Recovery converts handler panics into 500 responses. http.ErrAbortHandler
// is re-raised so the server drops the connection without a clean end.
func Recovery(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}
			requestLogger(c, logger).Error("handler panic", map[string]any{"panic": r})
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			c.Abort()
		}()
		c.Next()
	}
}

// CORS allows the configured client origin, or every origin when none is
// configured or the value is not an http(s) origin.
func CORS(clientOrigin string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	origin := strings.TrimRight(strings.TrimSpace(clientOrigin), "/")
	if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
		cfg.AllowOrigins = []string{origin}
		cfg.AllowCredentials = true
	} else {
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}

func requestLogger(c *gin.Context, logger *log.Logger) *log.Logger {
	if logger == nil {
		logger = log.NewNop()
	}
	if id := c.GetString(ctxRequestID); id != "" {
		return logger.WithRequest(id)
	}
	return logger
}
