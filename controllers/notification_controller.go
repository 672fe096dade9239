package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/services"
)

// NotificationController serves the caller's notification inbox
type NotificationController struct {
	store services.NotificationStore
}

func NewNotificationController(store services.NotificationStore) *NotificationController {
	return &NotificationController{store: store}
}

// ListNotifications handles GET /api/v1/notifications?unread=true&limit=50
func (nc *NotificationController) ListNotifications(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	unread := false
	if v := c.Query("unread"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondServiceError(c, services.NewValidation("unread", "must be true or false"))
			return
		}
		unread = parsed
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	list, err := nc.store.ListFor(c.Request.Context(), actor, unread, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    list,
		"count":   len(list),
	})
}

// MarkRead handles PUT /api/v1/notifications/:id/read
func (nc *NotificationController) MarkRead(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	if err := nc.store.MarkRead(c.Request.Context(), c.Param("id"), actor, time.Now()); err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"id": c.Param("id"), "read": true})
}
