// Package api serves the advisor's JSON API: session-scoped and one-shot
// calculations plus the reference tables the form is built from.
package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/pipeline"
)

// Calculator runs one calculation attempt against a session.
type Calculator interface {
	Calculate(ctx context.Context, sess *pipeline.Session, input domain.CalculationInput) (domain.WateringRecommendation, error)
}

// Config controls the fiber app.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewApp builds the fiber app with all routes registered.
func NewApp(cfg Config, calc Calculator, sessions *pipeline.SessionStore, logger *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "lawn-watering-advisor",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          errorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestLogger(logger))

	RegisterRoutes(app, calc, sessions)
	return app
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, calc Calculator, sessions *pipeline.SessionStore) {
	h := &handlers{calc: calc, sessions: sessions}

	v1 := app.Group("/api/v1")
	v1.Get("/grasses", h.grasses)
	v1.Get("/sprinklers", h.sprinklers)
	v1.Get("/days", h.days)

	v1.Post("/calculate", h.calculateOnce)
	v1.Post("/sessions", h.createSession)
	v1.Get("/sessions/:id", h.getSession)
	v1.Post("/sessions/:id/calculate", h.calculateSession)
}

type handlers struct {
	calc     Calculator
	sessions *pipeline.SessionStore
}

func (h *handlers) grasses(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"grasses": domain.Grasses(), "default": domain.DefaultGrass})
}

func (h *handlers) sprinklers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sprinklers": domain.Sprinklers(), "default": domain.DefaultSprinkler})
}

func (h *handlers) days(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"days":                      domain.DaysOfWeek,
		"default_day":               domain.DaysOfWeek[0],
		"default_notification_time": domain.DefaultNotificationTime,
	})
}

func (h *handlers) createSession(c *fiber.Ctx) error {
	sess := h.sessions.Create()
	return c.Status(fiber.StatusCreated).JSON(sess.Snapshot())
}

func (h *handlers) getSession(c *fiber.Ctx) error {
	sess, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.Snapshot())
}

// calculateSession runs a calculation against a stored session. The
// response is always the session snapshot, so a failed attempt still shows
// its error message alongside the form values.
func (h *handlers) calculateSession(c *fiber.Ctx) error {
	sess, err := h.lookup(c)
	if err != nil {
		return err
	}
	input, err := bindInput(c, sess.Snapshot().CalculationInput)
	if err != nil {
		return err
	}

	_, err = h.calc.Calculate(c.UserContext(), sess, input)
	status := fiber.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	return c.Status(status).JSON(sess.Snapshot())
}

// calculateOnce runs a calculation on a throwaway session.
func (h *handlers) calculateOnce(c *fiber.Ctx) error {
	input, err := bindInput(c, domain.DefaultInput())
	if err != nil {
		return err
	}

	sess := pipeline.NewSession()
	if _, err := h.calc.Calculate(c.UserContext(), sess, input); err != nil {
		return fiber.NewError(statusFor(err), domain.UserMessage(err))
	}
	st := sess.Snapshot()
	return c.JSON(fiber.Map{
		"input":                st.CalculationInput,
		"location":             st.Location,
		"weather_station_info": st.WeatherStationInfo,
		"recommendation":       st.Result,
	})
}

func (h *handlers) lookup(c *fiber.Ctx) (*pipeline.Session, error) {
	id := c.Params("id")
	if err := validate.Var(id, "required,uuid"); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid session id")
	}
	sess, err := h.sessions.Get(id)
	if err != nil {
		if errors.Is(err, pipeline.ErrSessionNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "session not found")
		}
		return nil, err
	}
	return sess, nil
}

// statusFor maps a calculation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPostcodeNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrCalculationInProgress):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrDataUnavailable),
		errors.Is(err, domain.ErrDataMissing),
		errors.Is(err, domain.ErrDataCorrupt),
		errors.Is(err, domain.ErrConnectivity):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrService),
		errors.Is(err, domain.ErrInsufficientData):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		}
		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
}

func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start),
		)
		return err
	}
}
