// Package dashboard is the ops-facing JSON surface: job listings across
// every user, aggregate counts and a liveness snapshot. It is read only
// and sits behind the same JWT middleware as the rest of the API.
package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
)

// Service serves the /dashboard group. Active is wired to the runner's
// task gauge at startup; it stays a func field so the package does not
// import the runner.
type Service struct {
	Db      *gorm.DB
	Logger  *logrus.Logger
	Started time.Time
	Active  func() int
}

// ListJobs pages generation jobs across all users, optionally filtered by
// kind and status.
func (s *Service) ListJobs(c *fiber.Ctx) error {
	kind := fields.MediaKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		return fields.RespondError(c, apperr.Wrap(errors.New(string(kind)), apperr.ErrValidation, "unknown kind filter"))
	}
	status := fields.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		return fields.RespondError(c, apperr.Wrap(errors.New(string(status)), apperr.ErrValidation, "unknown status filter"))
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	jobs, total, err := fields.ListAllJobs(s.Db, kind, status, limit, offset)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "list jobs"))
	}
	return fields.Respond(c, http.StatusOK, fiber.Map{
		"jobs":   jobs,
		"count":  len(jobs),
		"total":  total,
		"offset": offset,
	})
}

// Counts aggregates job totals per kind and status.
func (s *Service) Counts(c *fiber.Ctx) error {
	counts, err := fields.CountJobsByStatus(s.Db)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "count jobs"))
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return fields.Respond(c, http.StatusOK, fiber.Map{"counts": counts, "total": total})
}

// Status reports process liveness: DB reachability, uptime and how many
// jobs are still waiting on a vendor. The DB check doubles as the queue
// depth query, one round trip covers both.
func (s *Service) Status(c *fiber.Ctx) error {
	depth, err := fields.QueueDepth(s.Db)
	if err != nil {
		s.Logger.WithField("error", err.Error()).Error("status probe failed")
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrUnavailable, "database unreachable"))
	}
	out := fiber.Map{
		"db":          "up",
		"uptime":      time.Since(s.Started).Round(time.Second).String(),
		"queue_depth": depth,
	}
	if s.Active != nil {
		out["active_tasks"] = s.Active()
	}
	return fields.Respond(c, http.StatusOK, out)
}
