package apiserver

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/midterm-hq/midterm/docs"
	"github.com/midterm-hq/midterm/internal/session"
	"github.com/midterm-hq/midterm/internal/update"
)

// SetupRouter configures every route this core's HTTPS listener serves.
// disableRequestLogging skips the logrus access-log middleware (useful
// under `--check-update`-style one-shot invocations).
func SetupRouter(mgr *session.Manager, auth AuthChecker, checker update.Checker, disableRequestLogging bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(noCacheMiddleware())
	if !disableRequestLogging {
		r.Use(logrusMiddleware())
	}

	r.GET("/swagger", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	h := NewHandler(mgr, auth, checker)
	head := headHandler()

	r.GET("/ws/mux", h.HandleMuxWS)
	r.GET("/ws/state", h.HandleStateWS)

	r.POST("/api/sessions", h.HandleCreateSession)
	r.HEAD("/api/sessions", head)
	r.DELETE("/api/sessions/:id", h.HandleDeleteSession)
	r.PUT("/api/sessions/:id/name", h.HandleRenameSession)
	r.POST("/api/sessions/:id/resize", h.HandleResizeSession)

	return r
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// headHandler returns a simple 200 OK for HEAD requests to check endpoint existence.
func headHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Status(http.StatusOK)
	}
}

// noCacheMiddleware adds no-cache headers to all responses.
func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

// sensitiveQueryParams names query parameters redacted before logging.
var sensitiveQueryParams = []string{
	"api_key", "apikey", "api-key",
	"token", "access_token", "refresh_token", "auth_token", "bearer",
	"password", "passwd", "pwd",
	"secret", "client_secret", "api_secret",
	"key", "private_key", "encryption_key",
	"authorization", "auth",
	"credential", "credentials",
	"session", "session_id", "sessionid",
	"jwt",
}

func redactSecrets(pathWithQuery string) string {
	parts := strings.SplitN(pathWithQuery, "?", 2)
	if len(parts) != 2 {
		return pathWithQuery
	}
	basePath, queryString := parts[0], parts[1]

	values, err := url.ParseQuery(queryString)
	if err != nil {
		return redactQueryPatterns(pathWithQuery)
	}

	hasSecrets := false
	for key := range values {
		for _, param := range sensitiveQueryParams {
			if strings.EqualFold(key, param) {
				hasSecrets = true
				break
			}
		}
	}
	if !hasSecrets {
		return pathWithQuery
	}

	for key := range values {
		for _, param := range sensitiveQueryParams {
			if strings.EqualFold(key, param) {
				values.Set(key, "[REDACTED]")
				break
			}
		}
	}
	return basePath + "?" + values.Encode()
}

func redactQueryPatterns(pathWithQuery string) string {
	result := pathWithQuery
	for _, param := range sensitiveQueryParams {
		pattern := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(param) + `=)[^&\s]*`)
		result = pattern.ReplaceAllString(result, "${1}[REDACTED]")
	}
	return result
}

func logrusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		sanitizedPath := redactSecrets(path)

		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))

		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		if len(c.Errors) > 0 {
			logrus.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}
		msg := fmt.Sprintf("%s %s %d %d %dms", c.Request.Method, sanitizedPath, statusCode, dataLength, latency)
		switch {
		case statusCode >= http.StatusInternalServerError, statusCode >= http.StatusBadRequest:
			logrus.Error(msg)
		default:
			logrus.Info(msg)
		}
	}
}
