package controller

import (
	"errors"

	"focusroom-be/internal/dto"
	"focusroom-be/internal/pkg/logger"
	"focusroom-be/internal/pkg/serverutils"

	"github.com/gofiber/fiber/v2"
)

// SessionCounter reports how many users the scheduler currently tracks.
type SessionCounter interface {
	Count() int
}

type IAdminController interface {
	RegisterRoutes(r fiber.Router)
	GetLogs(ctx *fiber.Ctx) error
	GetLogDetail(ctx *fiber.Ctx) error
	GetSchedulerStats(ctx *fiber.Ctx) error
}

type adminController struct {
	logs     logger.ILogger
	sessions SessionCounter
}

func NewAdminController(logs logger.ILogger, sessions SessionCounter) IAdminController {
	return &adminController{logs: logs, sessions: sessions}
}

func (c *adminController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/admin/v1")
	h.Use(serverutils.AdminMiddleware)

	h.Get("/logs", c.GetLogs)
	h.Get("/logs/:id", c.GetLogDetail)
	h.Get("/scheduler", c.GetSchedulerStats)
}

func (c *adminController) GetLogs(ctx *fiber.Ctx) error {
	var q dto.LogListQuery
	if err := ctx.QueryParser(&q); err != nil {
		return serverutils.NewBadRequestError("invalid query")
	}
	if err := serverutils.ValidateRequest(q); err != nil {
		return err
	}

	logs, err := c.logs.GetLogs(logger.LogQuery{Level: q.Level, Module: q.Module, Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("System logs", logs))
}

func (c *adminController) GetLogDetail(ctx *fiber.Ctx) error {
	// Log ID is the md5 of the line, not a UUID
	l, err := c.logs.GetLogById(ctx.Params("id"))
	if errors.Is(err, logger.ErrLogNotFound) {
		return serverutils.NewNotFoundError("Log not found")
	}
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Log detail", l))
}

func (c *adminController) GetSchedulerStats(ctx *fiber.Ctx) error {
	active := 0
	if c.sessions != nil {
		active = c.sessions.Count()
	}
	return ctx.JSON(serverutils.SuccessResponse("Scheduler stats", fiber.Map{"active_sessions": active}))
}
