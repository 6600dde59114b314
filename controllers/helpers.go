package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vocabnest/vocabnest/middleware"
	"github.com/vocabnest/vocabnest/services"
	"github.com/vocabnest/vocabnest/utils"
)

func parsePagination(pageStr, sizeStr string) (int, int) {
	page := 1
	pageSize := 20
	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
		pageSize = s
	}
	return page, pageSize
}

func paginationPayload(page, pageSize int, total int64) gin.H {
	return gin.H{
		"page":        page,
		"page_size":   pageSize,
		"total":       total,
		"total_pages": int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		return uint(v), true
	case int64:
		return uint(v), true
	case float64:
		return uint(v), true
	default:
		return 0, false
	}
}

// requireUser reads the authenticated user id or writes a 401.
func requireUser(ctx *gin.Context) (uint, bool) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
	}
	return userID, ok
}

func parseID(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40009, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// respondServiceError maps typed service errors to 400/404 and anything else to 500.
func respondServiceError(ctx *gin.Context, err error, internalCode int, internalMsg string) {
	var verr *services.ValidationError
	var nerr *services.NotFoundError
	switch {
	case errors.As(err, &verr):
		utils.Error(ctx, http.StatusBadRequest, 40020, verr.Error())
	case errors.As(err, &nerr):
		utils.Error(ctx, http.StatusNotFound, 40401, nerr.Error())
	default:
		utils.Sugar.Errorw(internalMsg, "path", ctx.FullPath(), "error", err)
		utils.Error(ctx, http.StatusInternalServerError, internalCode, internalMsg)
	}
}
