package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/services"
)

// EventRequestController accepts event booking requests and forwards them
// to admins as notifications
type EventRequestController struct {
	dispatcher *services.NotificationDispatcher
	nowFunc    func() time.Time
}

func NewEventRequestController(dispatcher *services.NotificationDispatcher) *EventRequestController {
	return &EventRequestController{dispatcher: dispatcher, nowFunc: time.Now}
}

// CreateEventRequest handles POST /api/v1/event-requests (public)
func (ec *EventRequestController) CreateEventRequest(c *gin.Context) {
	var req services.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if !req.EventDate.After(ec.nowFunc()) {
		respondServiceError(c, services.NewValidation("event_date", "must be in the future"))
		return
	}

	ec.dispatcher.EventRequested(c.Request.Context(), req)
	respondData(c, http.StatusAccepted, gin.H{
		"name":       req.Name,
		"event_date": req.EventDate,
		"guests":     req.Guests,
	})
}
