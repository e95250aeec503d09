package api

import (
	"context"
	"errors"
	"net/http"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	"QuantGate/internal/usecase"
	xhttp "QuantGate/pkg/http"
	xlogger "QuantGate/pkg/logger"
	"QuantGate/pkg/util"

	"github.com/labstack/echo/v4"
)

// BacktestUseCase is what the HTTP layer needs from the backtest service.
type BacktestUseCase interface {
	Run(ctx context.Context, req *models.BacktestRequest) (*models.Outcome, error)
	Enqueue(ctx context.Context, req *models.BacktestRequest) (string, error)
	Lookup(ctx context.Context, id string) (*models.Outcome, error)
	Recent(ctx context.Context, limit int) ([]models.RunRecord, error)
}

// BacktestEchoHandler exposes backtests over Echo.
type BacktestEchoHandler struct {
	logger *xlogger.Logger
	svc    BacktestUseCase
	limit  echo.MiddlewareFunc
}

// NewBacktestEchoHandler builds the handler; limit guards the submit routes and may be nil.
func NewBacktestEchoHandler(logger *xlogger.Logger, svc BacktestUseCase, limit echo.MiddlewareFunc) *BacktestEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &BacktestEchoHandler{logger: logger, svc: svc, limit: limit}
}

func (h *BacktestEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/backtests")
	var submit []echo.MiddlewareFunc
	if h.limit != nil {
		submit = append(submit, h.limit)
	}
	g.POST("", h.Run, submit...)
	g.POST("/async", h.Enqueue, submit...)
	g.GET("", h.Recent)
	g.GET("/:id", h.Get)
}

// Run executes a backtest and answers once the chart is resolved.
func (h *BacktestEchoHandler) Run(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	out, err := h.svc.Run(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("backtest run error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, out)
}

// Enqueue queues a backtest and returns its request id.
func (h *BacktestEchoHandler) Enqueue(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	id, err := h.svc.Enqueue(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("backtest enqueue error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.AcceptedResponse(c, map[string]string{"request_id": id})
}

// Get returns the cached outcome by job id or request id.
func (h *BacktestEchoHandler) Get(c echo.Context) error {
	out, err := h.svc.Lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *BacktestEchoHandler) Recent(c echo.Context) error {
	limit := util.ParseIntDefault(c.QueryParam("limit"), 20)
	recs, err := h.svc.Recent(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("backtest history error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, xhttp.ListDataResponse{Rows: recs, Total: int64(len(recs))})
}

func toAppError(err error) *xhttp.AppError {
	var (
		appErr *xhttp.AppError
		subErr *errs.SubmissionError
		renErr *errs.RenderError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &subErr):
		return xhttp.BadGatewayError("ERR_SUBMISSION", "executor rejected the backtest").
			WithParam("status", subErr.Status).
			WithParam("retryable", subErr.Retryable).
			WithError(err)
	case errors.As(err, &renErr):
		return xhttp.NewAppError("ERR_RENDER", "", "chart rendering failed", http.StatusInternalServerError).
			WithParam("job_id", renErr.Result.JobID).
			WithError(err)
	case errors.Is(err, usecase.ErrOutcomeNotFound):
		return xhttp.NotFoundError("backtest not found")
	case errors.Is(err, usecase.ErrAsyncDisabled), errors.Is(err, usecase.ErrHistoryDisabled):
		return xhttp.NewAppError("ERR_DISABLED", "", err.Error(), http.StatusServiceUnavailable)
	default:
		return xhttp.InternalError("something went wrong").WithError(err)
	}
}
