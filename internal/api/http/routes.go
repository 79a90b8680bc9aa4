package httpapi

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-series/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
// metrics may be nil.
func RegisterRoutes(app *fiber.App, service *weather.Service, metrics weather.Metrics) {
	v1 := app.Group("/api/v1")

	v1.Get("/datasets", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"datasets": service.Datasets(),
		})
	})

	v1.Get("/datasets/:name/points", func(c *fiber.Ctx) error {
		var req pointsQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := req.check(); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		points, err := service.Resolve(c.UserContext(), req.Dataset, req.years())
		if err != nil {
			return resolveError(req.Dataset, err)
		}

		return c.JSON(fiber.Map{
			"dataset": req.Dataset,
			"range":   req.years(),
			"summary": weather.Summarize(points),
			"points":  points,
		})
	})

	streams := newStreamHandler(service, metrics)

	v1.Use("/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/stream", websocket.New(streams.serve))
}

// resolveError maps a Resolve failure onto an HTTP error.
func resolveError(dataset string, err error) error {
	var fetchErr *weather.FetchError
	switch {
	case errors.Is(err, weather.ErrUnknownDataset):
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown dataset %q", dataset))
	case errors.Is(err, weather.ErrInvalidRange):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.As(err, &fetchErr):
		return fiber.NewError(fiber.StatusBadGateway, "failed to load dataset from upstream")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read dataset")
	}
}

// pointsQuery holds the path and query parameters of the points endpoint.
type pointsQuery struct {
	Dataset string `validate:"required"`
	From    *int   `validate:"omitempty,min=1,max=9999"`
	To      *int   `validate:"omitempty,min=1,max=9999"`
}

func (q *pointsQuery) bind(c *fiber.Ctx) error {
	q.Dataset = c.Params("name")

	from, err := parseYear(c.Query("from"))
	if err != nil {
		return fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseYear(c.Query("to"))
	if err != nil {
		return fmt.Errorf("invalid to: %w", err)
	}

	q.From = from
	q.To = to
	return nil
}

func (q *pointsQuery) check() error {
	if err := validate.Struct(q); err != nil {
		return err
	}
	if q.From != nil && q.To != nil && *q.From > *q.To {
		return errors.New("from must not be after to")
	}
	return nil
}

func (q *pointsQuery) years() weather.YearRange {
	return weather.YearRange{From: q.From, To: q.To}
}

// parseYear returns nil for an empty value, which leaves that side unbounded.
func parseYear(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		return nil, errors.New("year must be an integer")
	}
	return &y, nil
}
