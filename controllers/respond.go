package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/services"
	"github.com/kendall-kelly/cafe-orders-api/utils"
	"github.com/sirupsen/logrus"
)

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string, details interface{}) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   body,
	})
}

// respondServiceError maps service errors to HTTP responses. Transition
// errors carry the current and requested status so the UI can explain them.
func respondServiceError(c *gin.Context, err error) {
	var (
		invalid   *services.InvalidTransitionError
		terminal  *services.TerminalStateError
		conflict  *services.ConflictError
		notFound  *services.NotFoundError
		forbidden *services.ForbiddenError
		invalidIn *services.ValidationError
		upload    *utils.FileUploadError
	)

	switch {
	case errors.As(err, &invalid):
		respondError(c, http.StatusBadRequest, invalid.Code, invalid.Error(), gin.H{
			"dimension": invalid.Dimension,
			"current":   invalid.Current,
			"requested": invalid.Requested,
		})
	case errors.As(err, &terminal):
		respondError(c, http.StatusConflict, terminal.Code, terminal.Error(), gin.H{
			"current": terminal.Status,
		})
	case errors.As(err, &conflict):
		respondError(c, http.StatusConflict, conflict.Code, conflict.Error(), gin.H{
			"order_id": conflict.OrderID,
			"refetch":  true,
		})
	case errors.As(err, &notFound):
		respondError(c, http.StatusNotFound, notFound.Code, notFound.Error(), nil)
	case errors.As(err, &forbidden):
		respondError(c, http.StatusForbidden, forbidden.Code, forbidden.Error(), nil)
	case errors.As(err, &invalidIn):
		respondError(c, http.StatusBadRequest, invalidIn.Code, "Invalid request data", invalidIn.Error())
	case errors.As(err, &upload):
		respondError(c, http.StatusBadRequest, upload.Code, upload.Message, nil)
	default:
		logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).WithError(err).Error("Request failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong", nil)
	}
}

func respondBindError(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, services.CodeValidation, "Invalid request data", err.Error())
}

// requireActor returns the resolved caller or writes a 401.
func requireActor(c *gin.Context) (services.Actor, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Could not extract user information", nil)
		return services.Actor{}, false
	}
	return actor, true
}
