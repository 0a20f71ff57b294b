package controller

import (
	"errors"

	"focusroom-be/internal/dto"
	"focusroom-be/internal/pkg/serverutils"
	"focusroom-be/internal/service"
	"focusroom-be/pkg/intervention"

	"github.com/gofiber/fiber/v2"
)

type IInterventionController interface {
	RegisterRoutes(r fiber.Router)
	PostSignal(ctx *fiber.Ctx) error
	SetContext(ctx *fiber.Ctx) error
	Evaluate(ctx *fiber.Ctx) error
	State(ctx *fiber.Ctx) error
	Decisions(ctx *fiber.Ctx) error
	DecisionHistory(ctx *fiber.Ctx) error
	Patterns(ctx *fiber.Ctx) error
	Job(ctx *fiber.Ctx) error
}

type interventionController struct {
	interventionService service.IInterventionService
}

func NewInterventionController(interventionService service.IInterventionService) IInterventionController {
	return &interventionController{
		interventionService: interventionService,
	}
}

func (c *interventionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/intervention/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Post("signals", c.PostSignal)
	h.Post("context", c.SetContext)
	h.Post("evaluate", c.Evaluate)
	h.Get("state", c.State)
	h.Get("decisions/history", c.DecisionHistory)
	h.Get("decisions", c.Decisions)
	h.Get("patterns", c.Patterns)
	h.Get("jobs/:id", c.Job)
}

// mapError turns core sentinels into HTTP statuses.
func mapError(err error) error {
	switch {
	case errors.Is(err, intervention.ErrInvalidSignal):
		return serverutils.NewBadRequestError(err.Error())
	case errors.Is(err, intervention.ErrJobNotFound):
		return serverutils.NewNotFoundError(err.Error())
	case errors.Is(err, intervention.ErrForbidden):
		return serverutils.NewForbiddenError(err.Error())
	case errors.Is(err, service.ErrHistoryUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return err
}

func (c *interventionController) PostSignal(ctx *fiber.Ctx) error {
	userID, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.PostSignalRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.NewBadRequestError("invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.interventionService.PostSignal(ctx.UserContext(), userID, &req)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Signal recorded", res))
}

func (c *interventionController) SetContext(ctx *fiber.Ctx) error {
	userID, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.SetContextRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.NewBadRequestError("invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.interventionService.SetContext(ctx.UserContext(), userID, &req); err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Context updated", nil))
}

func (c *interventionController) Evaluate(ctx *fiber.Ctx) error {
	userID, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.interventionService.Evaluate(ctx.UserContext(), userID)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Evaluation complete", res))
}

func (c *interventionController) State(ctx *fiber.Ctx) error {
	userID, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	res := c.interventionService.GetState(ctx.UserContext(), userID)
	return ctx.JSON(serverutils.SuccessResponse("Success get state", res))
}

func (c *interventionController) Decisions(ctx *fiber.Ctx) error {
	userID, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	res := c.interventionService.GetRecentDecisions(ctx.UserContext(), userID, ctx.QueryInt("limit", 0))
	return ctx.JSON(serverutils.SuccessResponse("Success get decisions", res))
}

func (c *interventionController) DecisionHistory(ctx *fiber.Ctx) error {
	userID, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var q dto.DecisionHistoryQuery
	if err := ctx.QueryParser(&q); err != nil {
		return serverutils.NewBadRequestError("invalid query")
	}
	if err := serverutils.ValidateRequest(q); err != nil {
		return err
	}

	res, err := c.interventionService.GetDecisionHistory(ctx.UserContext(), userID, &q)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get decision history", res))
}

func (c *interventionController) Patterns(ctx *fiber.Ctx) error {
	userID, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.interventionService.GetLearningPatterns(ctx.UserContext(), userID)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get learning patterns", res))
}

func (c *interventionController) Job(ctx *fiber.Ctx) error {
	userID, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.interventionService.GetJob(ctx.UserContext(), userID, ctx.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get job", res))
}
