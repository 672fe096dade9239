package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/kendall-kelly/cafe-orders-api/services"
	"github.com/sirupsen/logrus"
)

// RewardClaimTTL is how long a redemption code stays valid at the counter
const RewardClaimTTL = 24 * time.Hour

// RedeemRewardRequest represents the request body for redeeming a reward
type RedeemRewardRequest struct {
	Reward string `json:"reward" binding:"required,max=120"`
}

// RewardController issues and consumes reward claim codes
type RewardController struct {
	tokens     *services.TokenService
	dispatcher *services.NotificationDispatcher
}

func NewRewardController(tokens *services.TokenService, dispatcher *services.NotificationDispatcher) *RewardController {
	return &RewardController{tokens: tokens, dispatcher: dispatcher}
}

// RedeemReward handles POST /api/v1/rewards/redemptions (customers only)
func (rc *RewardController) RedeemReward(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if actor.Role != models.RoleCustomer || actor.UserID == nil {
		respondServiceError(c, services.NewForbidden("only customers can redeem rewards"))
		return
	}

	var req RedeemRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	subject := strconv.FormatUint(uint64(*actor.UserID), 10)
	token, code, err := rc.tokens.Issue(c.Request.Context(), models.TokenPurposeRewardClaim, subject, req.Reward, RewardClaimTTL)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	rc.dispatcher.RewardRedemptionRequested(c.Request.Context(), services.RewardRedemption{
		CustomerID:    *actor.UserID,
		CustomerEmail: actor.Email,
		Reward:        req.Reward,
		ClaimCode:     code,
		ExpiresAt:     token.ExpiresAt,
	})

	respondData(c, http.StatusCreated, gin.H{
		"reward":     req.Reward,
		"code":       code,
		"expires_at": token.ExpiresAt,
	})
}

// ClaimReward handles POST /api/v1/rewards/claims/:code (staff/admin). A code
// can be claimed exactly once.
func (rc *RewardController) ClaimReward(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	token, err := rc.tokens.Consume(c.Request.Context(), models.TokenPurposeRewardClaim, c.Param("code"))
	if errors.Is(err, services.ErrTokenInvalid) {
		respondError(c, http.StatusBadRequest, "TOKEN_INVALID", err.Error(), nil)
		return
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"actor":    actor.ID,
		"customer": token.SubjectID,
		"reward":   token.Payload,
	}).Info("Reward claimed")

	respondData(c, http.StatusOK, gin.H{
		"reward":      token.Payload,
		"customer_id": token.SubjectID,
		"claimed_at":  token.ConsumedAt,
	})
}
