package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"gorm.io/gorm"
)

// UpdateUserRequest represents the request body for updating a user profile
type UpdateUserRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// UserController serves the caller's own profile
type UserController struct {
	db *gorm.DB
}

func NewUserController(db *gorm.DB) *UserController {
	return &UserController{db: db}
}

// GetMyProfile handles GET /api/v1/users/me. Guests get the order their
// token grants instead of an account.
func (uc *UserController) GetMyProfile(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	if actor.UserID == nil {
		respondData(c, http.StatusOK, gin.H{
			"role":     actor.Role,
			"order_id": actor.OrderID,
		})
		return
	}

	var user models.User
	if err := uc.db.WithContext(c.Request.Context()).First(&user, *actor.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "USER_NOT_FOUND", "User profile not found", nil)
			return
		}
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, user)
}

// UpdateMyProfile handles PUT /api/v1/users/me - updates the display name.
// Email and role are owned by account management.
func (uc *UserController) UpdateMyProfile(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if actor.UserID == nil {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "Guests do not have a profile", nil)
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	db := uc.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, *actor.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "USER_NOT_FOUND", "User profile not found", nil)
			return
		}
		respondServiceError(c, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if err := db.Model(&user).Update("name", name).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	user.Name = name
	respondData(c, http.StatusOK, user)
}
