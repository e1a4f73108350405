// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// outcomeStatus maps business outcomes of publish/cancel to HTTP codes.
func outcomeStatus(out order.Outcome) int {
	switch out {
	case order.OutcomePublished, order.OutcomeAlreadyPublished, order.OutcomeCancelled:
		return http.StatusOK
	case order.OutcomeNotFound:
		return http.StatusNotFound
	case order.OutcomeAlreadyProcessed, order.OutcomeMissingDestination:
		return http.StatusConflict
	case order.OutcomePublishFailed:
		return http.StatusBadGateway
	default:
		return http.StatusConflict
	}
}
