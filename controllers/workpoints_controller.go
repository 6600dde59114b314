package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vocabnest/vocabnest/services"
	"github.com/vocabnest/vocabnest/utils"
)

// WorkPointsController exposes the work-points sync, calendar and status endpoints.
type WorkPointsController struct {
	svc *services.WorkPointsService
}

// NewWorkPointsController creates a new WorkPointsController instance.
func NewWorkPointsController(svc *services.WorkPointsService) *WorkPointsController {
	return &WorkPointsController{svc: svc}
}

// Sync stores one device's daily tally. The result envelope is returned on every outcome.
func (w *WorkPointsController) Sync(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}

	var req struct {
		Date              string `json:"date"`
		WorkPoints        *int64 `json:"workPoints"`
		DeviceFingerprint string `json:"deviceFingerprint"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusBadRequest, 40020, "invalid request payload",
			services.SyncResult{Success: false, Message: "invalid request payload"})
		return
	}
	if req.WorkPoints == nil {
		utils.Fail(ctx, http.StatusBadRequest, 40020, "workPoints is required",
			services.SyncResult{Success: false, Message: "workPoints is required"})
		return
	}

	res, err := w.svc.SyncWorkPoints(ctx.Request.Context(), userID, req.Date, req.DeviceFingerprint, *req.WorkPoints)
	if err != nil {
		var verr *services.ValidationError
		var nerr *services.NotFoundError
		switch {
		case errors.As(err, &verr):
			utils.Fail(ctx, http.StatusBadRequest, 40020, verr.Error(), res)
		case errors.As(err, &nerr):
			utils.Fail(ctx, http.StatusNotFound, 40401, nerr.Error(), res)
		default:
			utils.Fail(ctx, http.StatusInternalServerError, 50040, res.Message, res)
		}
		return
	}
	utils.Success(ctx, res)
}

// Calendar returns a month of per-day totals classified in the client's timezone
// (query tz=IANA name, or offset=minutes east of UTC).
func (w *WorkPointsController) Calendar(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	loc, err := services.ResolveLocation(ctx.Query("tz"), ctx.Query("offset"))
	if err != nil {
		respondServiceError(ctx, err, 50041, "failed to load calendar")
		return
	}
	data, err := w.svc.GetCalendarData(ctx.Request.Context(), userID, ctx.Param("month"), loc)
	if err != nil {
		respondServiceError(ctx, err, 50041, "failed to load calendar")
		return
	}
	utils.Success(ctx, data)
}

// Status returns the lifetime total and this month's per-day totals.
func (w *WorkPointsController) Status(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	loc, err := services.ResolveLocation(ctx.Query("tz"), ctx.Query("offset"))
	if err != nil {
		respondServiceError(ctx, err, 50042, "failed to load work points status")
		return
	}
	st, err := w.svc.Status(ctx.Request.Context(), userID, loc)
	if err != nil {
		respondServiceError(ctx, err, 50042, "failed to load work points status")
		return
	}
	utils.Success(ctx, st)
}
