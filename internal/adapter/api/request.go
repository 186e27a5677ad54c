package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("grass", func(fl validator.FieldLevel) bool {
		_, ok := domain.LookupGrass(domain.GrassType(fl.Field().String()))
		return ok
	})
	_ = v.RegisterValidation("sprinkler", func(fl validator.FieldLevel) bool {
		return domain.KnownSprinkler(domain.SprinklerType(fl.Field().String()))
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) != len("15:04") {
			return false
		}
		_, err := time.Parse("15:04", s)
		return err == nil
	})
	return v
}

// calculateRequest is the form submission. Empty fields keep their current
// value. The postcode is checked by the orchestrator so that a bad postcode
// is recorded on the session like any other failed attempt.
type calculateRequest struct {
	GrassType        string `json:"grass_type" validate:"omitempty,grass"`
	Postcode         string `json:"postcode" validate:"max=16"`
	SprinklerType    string `json:"sprinkler_type" validate:"omitempty,sprinkler"`
	NotificationDay  string `json:"notification_day" validate:"omitempty,oneof=Sunday Monday Tuesday Wednesday Thursday Friday Saturday"`
	NotificationTime string `json:"notification_time" validate:"omitempty,hhmm"`
}

// bindInput parses and validates the body and overlays it on base.
func bindInput(c *fiber.Ctx, base domain.CalculationInput) (domain.CalculationInput, error) {
	var req calculateRequest
	if err := c.BodyParser(&req); err != nil {
		return base, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return base, fiber.NewError(fiber.StatusBadRequest, describe(err))
	}

	in := base
	in.Postcode = req.Postcode
	if req.GrassType != "" {
		in.Grass = domain.GrassType(req.GrassType)
	}
	if req.SprinklerType != "" {
		in.Sprinkler = domain.SprinklerType(req.SprinklerType)
	}
	if req.NotificationDay != "" {
		in.NotificationDay = req.NotificationDay
	}
	if req.NotificationTime != "" {
		in.NotificationTime = req.NotificationTime
	}
	return in, nil
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}
