package handlers

import (
	"errors"
	"net/http"

	"flower-classifier-backend/internal/middleware"
	"flower-classifier-backend/internal/models"
	"flower-classifier-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindInvalidInput:
		return http.StatusBadRequest
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindTransport, services.KindMalformedPayload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a service error. Failures after the upload row exists
// carry its id and last written status so the client can find it in history.
func writeError(c *gin.Context, err error) {
	resp := models.ErrorResponse{Success: false, Error: publicMessage(err)}

	var pe *services.PipelineError
	if errors.As(err, &pe) {
		resp.Message = pe.Stage
		if pe.UploadID != uuid.Nil {
			resp.UploadID = pe.UploadID.String()
			resp.Status = pe.Status
		}
	}

	c.JSON(statusFor(services.KindOf(err)), resp)
}

func publicMessage(err error) string {
	var pe *services.PipelineError
	if errors.As(err, &pe) {
		return pe.Summary()
	}
	return "internal error"
}

func badRequest(c *gin.Context, msg, detail string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Success: false, Error: msg, Message: detail})
}

func ownerID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Success: false, Error: "user id not found"})
	}
	return id, ok
}
