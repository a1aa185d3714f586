package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RequestLog holds information about an API request for usage logging
type RequestLog struct {
	RequestID      string
	Endpoint       string
	Method         string
	ResponseTimeMs int
	ResponseStatus int
	UserCount      int
	CacheHit       bool
	IPAddress      string
	UserAgent      string
	Timestamp      time.Time
}

// AnalyticsMiddleware logs all API requests to Postgres for usage
// reporting. Inserts run asynchronously so logging never blocks a
// response; a nil pool disables the middleware.
func AnalyticsMiddleware(db *pgxpool.Pool, log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db == nil {
			return c.Next()
		}

		start := time.Now()
		requestID := uuid.NewString()
		c.Locals("request_id", requestID)

		err := c.Next()

		responseTime := time.Since(start)

		cacheHit := false
		if val := c.Locals("cache_hit"); val != nil {
			cacheHit = val.(bool)
		}
		userCount := 0
		if val := c.Locals("user_count"); val != nil {
			userCount = val.(int)
		}

		requestLog := &RequestLog{
			RequestID:      requestID,
			Endpoint:       c.Path(),
			Method:         c.Method(),
			ResponseTimeMs: int(responseTime.Milliseconds()),
			ResponseStatus: c.Response().StatusCode(),
			UserCount:      userCount,
			CacheHit:       cacheHit,
			IPAddress:      c.IP(),
			UserAgent:      c.Get("User-Agent"),
			Timestamp:      time.Now(),
		}

		// Log asynchronously (non-blocking)
		go logRequest(db, log, requestLog)

		c.Set("X-Request-ID", requestID)
		c.Set("X-Response-Time", responseTime.String())

		return err
	}
}

// logRequest inserts one request record
func logRequest(db *pgxpool.Pool, log *slog.Logger, reqLog *RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := db.Exec(ctx, `
		INSERT INTO usage_log (
			request_id,
			endpoint,
			method,
			response_time_ms,
			response_status,
			user_count,
			cache_hit,
			ip_address,
			user_agent,
			timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, reqLog.RequestID, reqLog.Endpoint, reqLog.Method, reqLog.ResponseTimeMs,
		reqLog.ResponseStatus, reqLog.UserCount, reqLog.CacheHit,
		reqLog.IPAddress, reqLog.UserAgent, reqLog.Timestamp)
	if err != nil {
		log.Warn("failed to log request", "request_id", reqLog.RequestID, "error", err)
	}
}
