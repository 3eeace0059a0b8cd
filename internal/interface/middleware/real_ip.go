package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// RealIP resolves the client IP behind proxies and stores it in the Gin
// context (key "real_ip"). Rate-limit keys and the private-IP allowlist
// read from it.
//
// Priority:
// 1) CF-Connecting-IP / True-Client-IP (CDN headers)
// 2) X-Forwarded-For (left-most entry)
// 3) fallback to c.ClientIP()
func RealIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range []string{"CF-Connecting-IP", "True-Client-IP"} {
			if v := strings.TrimSpace(c.GetHeader(h)); v != "" {
				if ip := net.ParseIP(v); ip != nil {
					c.Set("real_ip", ip.String())
					c.Next()
					return
				}
			}
		}
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				c.Set("real_ip", ip.String())
				c.Next()
				return
			}
		}
		c.Set("real_ip", c.ClientIP())
		c.Next()
	}
}
