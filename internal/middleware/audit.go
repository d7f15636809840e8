package middleware

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/pkg/logger"
)

const maxAuditBody = 2000

// RequestContext stores client IP, user agent and request id on the request
// context so audit rows written by services carry them. Register after
// logger.GinLogger.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := services.WithRequestMeta(c.Request.Context(), services.RequestMeta{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: logger.RequestID(c),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Detached returns the request context without client cancellation. Mutating
// handlers use it so a disconnect mid-transaction cannot leave half-applied state.
func Detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// AuditLog records admin write operations (POST/PUT/PATCH/DELETE) to system_logs.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "PATCH" && method != "DELETE" {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil && !strings.HasPrefix(c.ContentType(), "multipart/") {
			bodyBytes, _ := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = maskSensitiveFields(string(bodyBytes))
			if len(bodySnippet) > maxAuditBody {
				bodySnippet = bodySnippet[:maxAuditBody] + "...[truncated]"
			}
		}

		c.Next()

		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)
		message := formatAuditMessage(GetUsername(c), method, c.Request.URL.Path, status)

		services.LogRequest(c.Request.Context(), module, action, message, GetUserID(c), map[string]interface{}{
			"method": method,
			"path":   c.Request.URL.Path,
			"status": status,
			"body":   bodySnippet,
			"audit":  true,
		})
	}
}

// parseRouteInfo extracts module and action from a Gin route pattern,
// e.g. "/api/admin/companies" + "POST" gives module "Companies", action "Create".
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	path = strings.TrimPrefix(path, "admin/")

	segment := strings.SplitN(path, "/", 2)[0]
	if segment == "" {
		segment = "unknown"
	}
	module = titleWords(strings.ReplaceAll(segment, "-", " "))

	switch method {
	case "POST":
		action = "Create"
	case "PUT", "PATCH":
		action = "Update"
	case "DELETE":
		action = "Delete"
	default:
		action = method
	}
	return module, action
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func formatAuditMessage(username, method, path string, status int) string {
	outcome := "failed"
	if status >= 200 && status < 300 {
		outcome = "ok"
	}
	var b strings.Builder
	b.WriteString("[Audit] ")
	b.WriteString(username)
	b.WriteString(" ")
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	b.WriteString(": ")
	b.WriteString(outcome)
	return b.String()
}

var sensitiveKeys = []string{"password", "confirm_password", "old_password", "new_password", "service_key", "secret", "token", "refresh_token"}

// maskSensitiveFields replaces sensitive string values in a JSON body.
func maskSensitiveFields(body string) string {
	for _, key := range sensitiveKeys {
		body = maskJSONValue(body, key)
	}
	return body
}

// maskJSONValue masks every quoted value of "key" in a JSON document, best effort.
func maskJSONValue(body, key string) string {
	needle := "\"" + key + "\""
	from := 0
	for {
		idx := strings.Index(strings.ToLower(body[from:]), needle)
		if idx == -1 {
			return body
		}
		idx += from
		pos := idx + len(needle)
		for pos < len(body) && (body[pos] == ' ' || body[pos] == '\t') {
			pos++
		}
		if pos >= len(body) || body[pos] != ':' {
			from = idx + len(needle)
			continue
		}
		pos++
		for pos < len(body) && (body[pos] == ' ' || body[pos] == '\t') {
			pos++
		}
		if pos >= len(body) || body[pos] != '"' {
			from = idx + len(needle)
			continue
		}
		end := strings.Index(body[pos+1:], "\"")
		if end == -1 {
			return body
		}
		body = body[:pos+1] + "***" + body[pos+1+end:]
		from = pos + 4
	}
}
