package adminapi

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleEngineError maps runtime errors to problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case rwerrors.IsNotFound(err):
		return notFound(c, err.Error())

	case errors.Is(err, rwerrors.ErrInvalidOperation), errors.Is(err, rwerrors.ErrBadArguments),
		errors.Is(err, rwerrors.ErrAmbiguousName), errors.Is(err, rwerrors.ErrInvalidData):
		return badRequest(c, err.Error())

	case rwerrors.IsCancelled(err), rwerrors.IsTimeout(err):
		problem := problems.NewStatusProblem(fiber.StatusServiceUnavailable).
			WithInstance(c.Path()).
			WithType("unavailable").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
