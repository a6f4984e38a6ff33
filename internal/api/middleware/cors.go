package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins  []string
	AllowAllOrigins bool
}

// Headers and methods this API actually serves; the surface is JSON-only
// GET/POST.
const (
	corsAllowHeaders = "Content-Type, Accept, Origin, Authorization, X-Requested-With"
	corsAllowMethods = "GET, POST, OPTIONS"
)

// CORS returns a middleware that handles Cross-Origin Resource Sharing
func CORS(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowedOrigin, allowed := resolveOrigin(origin, config)
		if !allowed {
			c.Next()
			return
		}

		if allowedOrigin == "*" {
			// Wildcard origins cannot carry credentials
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "false")
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// resolveOrigin picks the Access-Control-Allow-Origin value for a request
// origin, or reports that no CORS headers should be set.
func resolveOrigin(origin string, config CORSConfig) (string, bool) {
	if config.AllowAllOrigins {
		return "*", true
	}
	if len(config.AllowedOrigins) == 0 {
		// Nothing configured: echo the caller's origin.
		return origin, true
	}
	for _, allowed := range config.AllowedOrigins {
		if allowed == "*" {
			return origin, true
		}
		if origin == allowed {
			return origin, true
		}
	}
	return "", false
}
