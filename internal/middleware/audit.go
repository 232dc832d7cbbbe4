package middleware

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// ActorHeader carries the caller identity set by an upstream gateway.
const ActorHeader = "X-User-ID"

// AuditConfig tunes the request audit middleware.
type AuditConfig struct {
	Writer port.AuditWriter
	// SkipPaths are path prefixes that are not recorded, such as probes.
	SkipPaths []string
	Logger    *slog.Logger
}

// AuditMiddleware records every request for compliance purposes.
func AuditMiddleware(cfg AuditConfig) fiber.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(c fiber.Ctx) error {
		path := c.Path()
		for _, prefix := range cfg.SkipPaths {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		start := time.Now()

		// Fiber reuses context objects, so capture before the handler runs.
		path = strings.Clone(path)
		method := strings.Clone(c.Method())
		ip := strings.Clone(c.IP())
		userAgent := strings.Clone(c.Get("User-Agent"))
		userID := strings.Clone(c.Get(ActorHeader))
		if userID == "" {
			userID = "anonymous"
		}

		err := c.Next()

		details, _ := json.Marshal(map[string]interface{}{
			"method":      method,
			"path":        path,
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		})

		go func() {
			if writeErr := cfg.Writer.WriteAudit(
				userID,
				domain.AuditActionHTTPRequest,
				"api",
				path,
				string(details),
				ip,
				userAgent,
			); writeErr != nil {
				logger.Error("failed to write audit log", "error", writeErr)
			}
		}()

		return err
	}
}
