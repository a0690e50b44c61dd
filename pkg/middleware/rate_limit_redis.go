package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/jwtsession/pkg/logger"
	"github.com/gogotex/jwtsession/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimitMiddleware is a fixed-window limiter shared by every instance behind the same Redis.
// Each window allows floor(rps*window)+burst requests per limit key.
//
// When Redis fails the request is let through: refusing token renewal would log users out
// on a limiter outage.
func RedisRateLimitMiddleware(client *redis.Client, rps float64, burst int, window time.Duration) gin.HandlerFunc {
	if client == nil {
		return RateLimitMiddleware(rps, burst)
	}
	windowSeconds := int64(window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	allowed := int64(rps*float64(windowSeconds)) + int64(burst)
	ttl := time.Duration(windowSeconds+1) * time.Second
	retryAfter := strconv.FormatInt(windowSeconds, 10)

	return func(c *gin.Context) {
		key := fmt.Sprintf("rl:%s:%d", limitKey(c), time.Now().Unix()/windowSeconds)
		ctx := c.Request.Context()

		var incr *redis.IntCmd
		_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			incr = p.Incr(ctx, key)
			p.Expire(ctx, key, ttl)
			return nil
		})
		if err != nil {
			logger.Warn("rate limit check failed, allowing request", "key", key, "err", err)
			metrics.RateLimitAllowed.WithLabelValues("redis_unavailable").Inc()
			c.Next()
			return
		}
		if incr.Val() > allowed {
			c.Header("Retry-After", retryAfter)
			metrics.RateLimitRejected.WithLabelValues("redis").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("redis").Inc()
		c.Next()
	}
}
