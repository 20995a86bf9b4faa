package api

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const ctxUser = "user"

// currentUser returns the authenticated user, or nil for guests
func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Protect requires a valid bearer token for an existing user
func Protect(tokens TokenParser, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortMessage(c, http.StatusUnauthorized, "Not authorized to access this route")
			return
		}

		claims, err := tokens.Parse(token)
		if err != nil {
			abortMessage(c, http.StatusUnauthorized, "Not authorized, token failed")
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil || user == nil {
			abortMessage(c, http.StatusUnauthorized, "Not authorized, user not found")
			return
		}

		c.Set(ctxUser, user)
		c.Next()
	}
}

// IdentifyUser attaches the user when a valid token is present and otherwise
// lets the request through as a guest
func IdentifyUser(tokens TokenParser, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if claims, err := tokens.Parse(token); err == nil {
				if user, err := users.GetUserByID(c.Request.Context(), claims.UserID); err == nil {
					c.Set(ctxUser, user)
				}
			}
		}
		c.Next()
	}
}

// AuthorizeAdmin must run after Protect
func AuthorizeAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentUser(c).Admin() {
			abortMessage(c, http.StatusForbidden, "User is not authorized to access this route")
			return
		}
		c.Next()
	}
}

type secretBody struct {
	Secret string `json:"secret"`
}

// VerifySecretKey guards plugin-to-server calls with a shared secret in the JSON body.
// The body is cached so the handler can bind it again.
func VerifySecretKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			util.GetLogger().Error("STATS_SECRET is not configured")
			abortMessage(c, http.StatusInternalServerError, "Server configuration error.")
			return
		}

		var body secretBody
		_ = c.ShouldBindBodyWith(&body, binding.JSON)
		if body.Secret == "" || subtle.ConstantTimeCompare([]byte(body.Secret), []byte(expected)) != 1 {
			abortMessage(c, http.StatusUnauthorized, "Unauthorized: Invalid secret key.")
			return
		}
		c.Next()
	}
}

// ipLimiters hands out one token bucket per client IP. Buckets idle for longer
// than idleTTL are full again, so dropping them loses no state.
type ipLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	limiters  map[string]*ipLimiter
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	idle := time.Minute
	if limit > 0 && limit != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &ipLimiters{
		limit:    limit,
		burst:    burst,
		idleTTL:  idle,
		now:      time.Now,
		limiters: map[string]*ipLimiter{},
	}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		for key, entry := range l.limiters {
			if now.Sub(entry.lastSeen) >= l.idleTTL {
				delete(l.limiters, key)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (l *ipLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RateLimit throttles requests per client IP with a token bucket
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	return rateLimit(newIPLimiters(limit, burst))
}

func rateLimit(limiters *ipLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := limiters.get(c.ClientIP()).ReserveN(limiters.now(), 1)
		if delay := res.DelayFrom(limiters.now()); delay > 0 {
			res.CancelAt(limiters.now())
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			abortMessage(c, http.StatusTooManyRequests, "Too many requests, please try again later.")
			return
		}
		c.Next()
	}
}

func abortMessage(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"success": false, "message": message})
}

// requestLogger logs each request through zap
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
