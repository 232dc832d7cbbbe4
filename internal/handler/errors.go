package handler

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-repoflow/internal/port"
)

// statusFor maps an error kind to the HTTP status returned to clients.
func statusFor(err error) int {
	switch port.KindOf(err) {
	case port.KindValidation:
		return fiber.StatusBadRequest
	case port.KindNotFound:
		return fiber.StatusNotFound
	case port.KindConflict:
		return fiber.StatusConflict
	case port.KindRateLimit:
		return fiber.StatusTooManyRequests
	case port.KindProviderAPI:
		return fiber.StatusBadGateway
	case port.KindRepositoryLoad:
		var load *port.RepositoryLoadError
		if errors.As(err, &load) {
			switch load.Reason {
			case port.ReasonNotFound, port.ReasonEmpty:
				return fiber.StatusUnprocessableEntity
			case port.ReasonRateLimited:
				return fiber.StatusTooManyRequests
			}
		}
		return fiber.StatusBadGateway
	}
	if errors.Is(err, port.ErrQueueFull) || errors.Is(err, port.ErrQueueClosed) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respondError writes err as a JSON body carrying its kind.
func respondError(c fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  port.KindOf(err),
	})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "kind": port.KindValidation})
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(c fiber.Ctx, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
