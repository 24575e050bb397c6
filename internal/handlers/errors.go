package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/gateway"
	"github.com/imrishuroy/go-course-settlement/internal/logging"
	"github.com/imrishuroy/go-course-settlement/internal/orders"
	"github.com/imrishuroy/go-course-settlement/internal/settlement"
)

// errorResponse is the JSON body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, orders.ErrCourseUnavailable):
		return http.StatusUnprocessableEntity, "course_unavailable"
	case errors.Is(err, gateway.ErrGateway):
		return http.StatusBadGateway, "gateway_error"
	case errors.Is(err, settlement.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, settlement.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *handler) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(c, h.logger).Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, errorResponse{Error: msg, Code: code})
}
