// Package api exposes detection control, sample ingest and journey queries
// over HTTP.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"journey-detector/internal/detection"
	"journey-detector/internal/ingest"
	"journey-detector/internal/journey"
	"journey-detector/internal/store"
)

// New builds the fiber app with every route mounted under /v1.
func New(m *detection.Manager, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	RegisterRoutes(app.Group("/v1"), m)
	return app
}

// RegisterRoutes mounts the detection routes on r. Journey durations are
// measured with the manager clock.
func RegisterRoutes(r fiber.Router, m *detection.Manager) {
	r.Get("/detection", func(c *fiber.Ctx) error {
		return c.JSON(m.Status())
	})

	r.Post("/detection/start", func(c *fiber.Ctx) error {
		if err := m.Start(c.UserContext()); err != nil {
			return mapError(err)
		}
		return c.JSON(fiber.Map{"detecting": m.IsDetecting()})
	})

	r.Post("/detection/stop", func(c *fiber.Ctx) error {
		if err := m.Stop(c.UserContext()); err != nil {
			return mapError(err)
		}
		return c.JSON(fiber.Map{"detecting": m.IsDetecting()})
	})

	r.Post("/samples/activity", func(c *fiber.Ctx) error {
		s, err := ingest.DecodeActivity(c.Body())
		if err != nil {
			return mapError(err)
		}
		if err := m.OnActivitySample(c.UserContext(), s); err != nil {
			return mapError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(m.Status())
	})

	r.Post("/samples/location", func(c *fiber.Ctx) error {
		f, err := ingest.DecodeFix(c.Body())
		if err != nil {
			return mapError(err)
		}
		if err := m.OnLocationFix(c.UserContext(), f); err != nil {
			return mapError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(m.Status())
	})

	r.Get("/journeys/current", func(c *fiber.Ctx) error {
		j := m.CurrentJourney()
		if j == nil {
			return fiber.NewError(fiber.StatusNotFound, "no open journey")
		}
		return c.JSON(j.Snapshot(m.Now()))
	})

	r.Get("/journeys", func(c *fiber.Ctx) error {
		js, err := m.ArchivedJourneys(c.UserContext())
		if err != nil {
			return mapError(err)
		}
		switch c.Query("order") {
		case "", "archived":
		case "recent":
			journey.SortByRecency(js)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "order must be archived or recent")
		}
		now := m.Now()
		out := make([]journey.Snapshot, 0, len(js))
		for _, j := range js {
			out = append(out, j.Snapshot(now))
		}
		return c.JSON(out)
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, journey.ErrInvalidSample):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrStorage):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return err
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request failed", zap.String("path", c.Path()), zap.Int("status", code), zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
