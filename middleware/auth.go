package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/config"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/kendall-kelly/cafe-orders-api/services"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GuestTokenHeader carries a guest order token.
const GuestTokenHeader = "X-Guest-Token"

const actorKey = "actor"

// CustomClaims are the non-registered claims read from an Auth0 access token.
// Roles live on the user row, not in the token.
type CustomClaims struct {
	Scope string `json:"scope"`
}

// Validate accepts any scope.
func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// TokenValidator validates a raw bearer token and returns
// *validator.ValidatedClaims on success.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (interface{}, error)
}

// NewAuth0Validator builds the RS256 validator for the configured tenant.
func NewAuth0Validator(cfg *config.Config) (*validator.Validator, error) {
	issuerURL, err := url.Parse("https://" + cfg.Auth0Domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse the issuer url: %w", err)
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{cfg.Auth0Audience},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &CustomClaims{}
			},
		),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the jwt validator: %w", err)
	}
	return jwtValidator, nil
}

// AuthResult is the outcome of resolving a request's credentials: either
// Authenticated or Unauthenticated.
type AuthResult interface {
	isAuthResult()
}

// Authenticated carries the resolved actor.
type Authenticated struct {
	Actor  services.Actor
	Claims *validator.ValidatedClaims // nil for guests
}

// Unauthenticated explains why no actor could be resolved. Presented is
// true when the request carried credentials that failed to validate.
type Unauthenticated struct {
	Code      string
	Reason    string
	Presented bool
}

func (Authenticated) isAuthResult()   {}
func (Unauthenticated) isAuthResult() {}

// Authenticator resolves bearer tokens and guest tokens to actors.
type Authenticator struct {
	tokens   TokenValidator
	guests   *services.GuestTokens
	db       *gorm.DB
	userInfo services.UserInfoFetcher
}

// NewAuthenticator creates an authenticator. tokens and userInfo may be nil:
// without tokens bearer credentials are rejected, without userInfo unknown
// subjects are rejected instead of being registered as customers.
func NewAuthenticator(tokens TokenValidator, guests *services.GuestTokens, db *gorm.DB, userInfo services.UserInfoFetcher) *Authenticator {
	return &Authenticator{tokens: tokens, guests: guests, db: db, userInfo: userInfo}
}

// Authenticate inspects the Authorization header, then the guest token header.
// Browsers cannot set headers on WebSocket upgrades, so the access_token and
// guest_token query parameters are accepted as well.
func (a *Authenticator) Authenticate(r *http.Request) AuthResult {
	if raw := bearerToken(r); raw != "" {
		return a.authenticateBearer(r.Context(), raw)
	}
	if raw := guestToken(r); raw != "" {
		return a.authenticateGuest(raw)
	}
	return Unauthenticated{Code: "MISSING_CREDENTIALS", Reason: "No credentials were provided"}
}

func (a *Authenticator) authenticateBearer(ctx context.Context, raw string) AuthResult {
	if a.tokens == nil {
		return Unauthenticated{Code: "INVALID_TOKEN", Reason: "Bearer tokens are not accepted", Presented: true}
	}

	validated, err := a.tokens.ValidateToken(ctx, raw)
	if err != nil {
		logger.Get().WithError(err).Debug("Encountered error while validating JWT")
		return Unauthenticated{Code: "INVALID_TOKEN", Reason: "Failed to validate JWT.", Presented: true}
	}
	claims, ok := validated.(*validator.ValidatedClaims)
	if !ok {
		return Unauthenticated{Code: "INVALID_CLAIMS", Reason: "Claims are not in the expected format", Presented: true}
	}

	user, err := a.resolveUser(ctx, claims.RegisteredClaims.Subject, raw)
	if err != nil {
		logger.WithFields(logrus.Fields{"actor": claims.RegisteredClaims.Subject}).WithError(err).Warn("Failed to resolve user")
		return Unauthenticated{Code: "USER_NOT_FOUND", Reason: "User profile not found", Presented: true}
	}

	userID := user.ID
	return Authenticated{
		Actor: services.Actor{
			ID:     user.Auth0ID,
			UserID: &userID,
			Role:   user.Role,
			Email:  user.Email,
		},
		Claims: claims,
	}
}

// resolveUser looks the subject up and, for unknown subjects, registers a
// customer from their Auth0 profile. Staff and admin accounts are never
// created here.
func (a *Authenticator) resolveUser(ctx context.Context, subject, raw string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(ctx).Where("auth0_id = ?", subject).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) || a.userInfo == nil {
		return nil, err
	}

	info, err := a.userInfo.GetUserInfo(ctx, raw)
	if err != nil {
		return nil, err
	}
	user = models.User{
		Auth0ID: subject,
		Name:    info.Name,
		Email:   strings.ToLower(info.Email),
		Role:    models.RoleCustomer,
	}
	if err := a.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to register customer: %w", err)
	}
	logger.WithFields(logrus.Fields{"actor": subject}).Info("Registered new customer")
	return &user, nil
}

func (a *Authenticator) authenticateGuest(raw string) AuthResult {
	if a.guests == nil {
		return Unauthenticated{Code: "INVALID_GUEST_TOKEN", Reason: "Guest tokens are not accepted", Presented: true}
	}
	orderID, err := a.guests.Verify(raw)
	if err != nil {
		return Unauthenticated{Code: "INVALID_GUEST_TOKEN", Reason: "Guest token is invalid or expired", Presented: true}
	}
	return Authenticated{Actor: services.GuestActor(orderID)}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return r.URL.Query().Get("access_token")
}

func guestToken(r *http.Request) string {
	if v := r.Header.Get(GuestTokenHeader); v != "" {
		return v
	}
	return r.URL.Query().Get("guest_token")
}

// Authenticate is a middleware that resolves the caller. When required is
// false, requests without credentials continue anonymously; requests with
// invalid credentials are always rejected.
func Authenticate(auth *Authenticator, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch res := auth.Authenticate(c.Request).(type) {
		case Authenticated:
			SetActor(c, res.Actor)
			c.Next()
		case Unauthenticated:
			if !res.Presented && !required {
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    res.Code,
					"message": res.Reason,
				},
			})
			c.Abort()
		}
	}
}

// RequireRoles rejects callers whose role is not listed
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Authentication required",
				},
			})
			c.Abort()
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FORBIDDEN",
				"message": "Insufficient permissions to access this resource",
			},
		})
		c.Abort()
	}
}

// SetActor stores the resolved actor in the Gin context
func SetActor(c *gin.Context, actor services.Actor) {
	c.Set(actorKey, actor)
}

// GetActor extracts the resolved actor from the Gin context
func GetActor(c *gin.Context) (services.Actor, bool) {
	v, exists := c.Get(actorKey)
	if !exists {
		return services.Actor{}, false
	}
	actor, ok := v.(services.Actor)
	return actor, ok
}
