package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey = "response_meta"
	requestStartKey = "request_start"

	// MetaCacheHit reports whether a response was served from Redis.
	MetaCacheHit = "cache_hit"
	// MetaDegraded reports that the primary write succeeded but a side effect failed.
	MetaDegraded = "degraded"
)

// WithResponseMeta records the request start so handlers can report processing time.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
	}
}

// SetMeta stores one response meta entry.
func SetMeta(c *gin.Context, key string, value interface{}) {
	ensureMeta(c)[key] = value
}

// SetCacheHit records cache hit information for the current response.
func SetCacheHit(c *gin.Context, hit bool) {
	SetMeta(c, MetaCacheHit, hit)
}

// SetDegraded flags a response whose side effects did not all succeed.
func SetDegraded(c *gin.Context, degraded bool) {
	SetMeta(c, MetaDegraded, degraded)
}

// ExtractMeta returns the metadata collected so far, with processing_time_ms filled in
// when WithResponseMeta ran.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	meta := ensureMeta(c)
	if v, ok := c.Get(requestStartKey); ok {
		if start, ok := v.(time.Time); ok {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}
