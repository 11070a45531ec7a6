package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
	"github.com/velodata/cycling-data-aggregation/internal/cache"
	"github.com/velodata/cycling-data-aggregation/internal/store"
)

var validate = validator.New()

// refreshTimeout bounds one on-demand collection run triggered over HTTP.
const refreshTimeout = 5 * time.Minute

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, orch *activity.Orchestrator, agg *activity.Aggregator, st *store.MemoryStore, cacheStore *cache.Store) {
	v1 := app.Group("/api/v1")

	v1.Get("/activity/summary", func(c *fiber.Ctx) error {
		summary, err := st.Latest()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no aggregated activity data yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch activity summary")
		}
		return c.JSON(summary)
	})

	v1.Get("/activity/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		summaries, err := st.Range(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no activity history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch activity history")
		}

		return c.JSON(fiber.Map{
			"from":      req.From,
			"to":        req.To,
			"summaries": summaries,
		})
	})

	v1.Get("/activity/display", func(c *fiber.Ctx) error {
		summary, err := st.Latest()
		if err != nil {
			return c.JSON(activity.DisplayFallback(""))
		}
		return c.JSON(activity.DisplayFromSummary(summary))
	})

	v1.Get("/activity/status", func(c *fiber.Ctx) error {
		maxAge := 60 * time.Minute
		if v := c.Query("max_age"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid max_age duration")
			}
			maxAge = d
		}
		return c.JSON(fiber.Map{
			"status":    orch.Status(),
			"hasRecent": orch.HasRecent(maxAge),
		})
	})

	v1.Post("/activity/refresh", func(c *fiber.Ctx) error {
		force := c.QueryBool("force", false)

		ctx, cancel := context.WithTimeout(c.UserContext(), refreshTimeout)
		defer cancel()

		result, err := orch.Run(ctx, activity.RunParams{ForceRefresh: force})
		if err != nil {
			if errors.Is(err, activity.ErrAllSourcesFailed) {
				return fiber.NewError(fiber.StatusBadGateway, err.Error())
			}
			var storageErr *activity.StorageError
			if errors.As(err, &storageErr) && result != nil && len(result.Successful) > 0 {
				// The fetch succeeded; report the summary but flag the cache.
				summary := agg.Summarize(result)
				st.SaveSummary(summary)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error":   true,
					"message": err.Error(),
					"summary": summary,
				})
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		summary := agg.Summarize(result)
		st.SaveSummary(summary)

		return c.JSON(fiber.Map{
			"run":     result,
			"summary": summary,
		})
	})

	v1.Get("/cache/stats", func(c *fiber.Ctx) error {
		stats, err := cacheStore.Stats()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(stats)
	})

	v1.Post("/cache/cleanup", func(c *fiber.Ctx) error {
		removed, err := cacheStore.CleanupExpired()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"removed": removed})
	})
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
