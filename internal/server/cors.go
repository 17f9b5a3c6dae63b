package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds CORS middleware configuration. SDKs post from arbitrary
// customer origins, so an empty AllowedOrigins echoes any Origin back.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

var (
	defaultCORSMethods = []string{"GET", "POST", "OPTIONS"}
	defaultCORSHeaders = []string{"X-Requested-With", "Content-Type", "Authorization"}
)

// CORS returns a middleware that sets cross-origin headers on every response,
// errors included, and answers preflight OPTIONS requests with 204.
func CORS(config CORSConfig) gin.HandlerFunc {
	methods := config.AllowedMethods
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	headers := config.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	allowedMethods := strings.Join(methods, ", ")
	allowedHeaders := strings.Join(headers, ", ")
	maxAge := "300"
	if config.MaxAge > 0 {
		maxAge = strconv.Itoa(config.MaxAge)
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if origin := allowedOrigin(config.AllowedOrigins, c.Request.Header.Get("Origin")); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
		}
		h.Set("Access-Control-Allow-Methods", allowedMethods)
		h.Set("Access-Control-Allow-Headers", allowedHeaders)
		h.Set("Access-Control-Max-Age", maxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// allowedOrigin returns the value for Access-Control-Allow-Origin. With no
// Origin header it is "*"; otherwise the origin itself when it matches
// (exact, "*" or "*.example.com" wildcard), else "".
func allowedOrigin(allowed []string, origin string) string {
	if origin == "" {
		return "*"
	}
	if len(allowed) == 0 {
		return origin
	}
	for _, a := range allowed {
		switch {
		case a == "*":
			return origin
		case strings.HasPrefix(a, "*."):
			if strings.HasSuffix(origin, strings.TrimPrefix(a, "*")) {
				return origin
			}
		case a == origin:
			return origin
		}
	}
	return ""
}
