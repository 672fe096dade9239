package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/kendall-kelly/cafe-orders-api/services"
	"github.com/sirupsen/logrus"
)

// Client requests accepted over the socket
const (
	JoinAdminRoom    = "join-admin-room"
	JoinStaffRoom    = "join-staff-room"
	JoinOrderRoom    = "join-order-room"
	JoinCustomerRoom = "join-customer-room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// SocketRequest is a message sent by a connected client
type SocketRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinData struct {
	OrderID string `json:"orderId"`
	Email   string `json:"email"`
}

// SocketController upgrades authenticated requests to WebSocket connections
// and lets clients join the broadcast groups they are entitled to.
type SocketController struct {
	hub      *services.Hub
	auth     *middleware.Authenticator
	orders   services.OrderStore
	upgrader websocket.Upgrader
}

// NewSocketController creates the socket endpoint. Upgrades are accepted from
// allowedOrigins only; "*" allows any origin.
func NewSocketController(hub *services.Hub, auth *middleware.Authenticator, orders services.OrderStore, allowedOrigins []string) *SocketController {
	return &SocketController{
		hub:    hub,
		auth:   auth,
		orders: orders,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Connect handles GET /api/v1/ws. Credentials are checked before the upgrade;
// anonymous clients may connect but can only receive orders-changed.
func (sc *SocketController) Connect(c *gin.Context) {
	var actor services.Actor
	switch res := sc.auth.Authenticate(c.Request).(type) {
	case middleware.Authenticated:
		actor = res.Actor
	case middleware.Unauthenticated:
		if res.Presented {
			respondError(c, http.StatusUnauthorized, res.Code, res.Reason, nil)
			return
		}
		actor = services.Actor{ID: "anonymous"}
	}

	conn, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Get().WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := sc.hub.Register(actor.ID)
	logger.WithFields(logrus.Fields{"actor": actor.ID, "role": actor.Role}).Debug("Socket connected")

	go sc.writePump(conn, client)
	sc.readPump(c.Request.Context(), conn, client, actor)
}

func (sc *SocketController) readPump(ctx context.Context, conn *websocket.Conn, client *services.Client, actor services.Actor) {
	defer func() {
		sc.hub.Unregister(client)
		_ = conn.Close()
		logger.WithFields(logrus.Fields{"actor": actor.ID}).Debug("Socket disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req SocketRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithFields(logrus.Fields{"actor": actor.ID}).WithError(err).Warn("Socket read failed")
			}
			return
		}

		group, err := sc.authorizeJoin(ctx, actor, req)
		if err != nil {
			sc.hub.SendTo(client, "error", socketError(err))
			continue
		}
		sc.hub.Join(client, group)
		sc.hub.SendTo(client, "joined", gin.H{"room": group})
	}
}

// writePump is the only writer on conn.
func (sc *SocketController) writePump(conn *websocket.Conn, client *services.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// authorizeJoin maps a join request to the group the actor may enter.
func (sc *SocketController) authorizeJoin(ctx context.Context, actor services.Actor, req SocketRequest) (string, error) {
	var data joinData
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return "", services.NewValidation("data", "malformed join request")
		}
	}

	switch req.Event {
	case JoinAdminRoom:
		if !actor.IsAdmin() {
			return "", services.NewForbidden("admin room requires the admin role")
		}
		return services.GroupAdmin, nil

	case JoinStaffRoom:
		if actor.Role != models.RoleStaff && !actor.IsAdmin() {
			return "", services.NewForbidden("staff room requires the staff role")
		}
		return services.GroupStaff, nil

	case JoinOrderRoom:
		if data.OrderID == "" {
			return "", services.NewValidation("orderId", "is required")
		}
		if actor.Role == models.RoleGuest {
			if actor.OrderID != data.OrderID {
				return "", services.NewForbidden("guest token does not grant this order")
			}
			return services.OrderGroup(data.OrderID), nil
		}
		order, err := sc.orders.Get(ctx, data.OrderID)
		if err != nil {
			return "", err
		}
		if !actor.CanView(order) {
			return "", services.NewForbidden("you do not have access to this order")
		}
		return services.OrderGroup(order.ID), nil

	case JoinCustomerRoom:
		key := strings.ToLower(strings.TrimSpace(data.Email))
		if actor.Role == models.RoleCustomer {
			own := customerKey(actor)
			if key == "" {
				key = own
			}
			if key == "" || (key != own && !ownsKey(actor, key)) {
				return "", services.NewForbidden("you can only join your own customer room")
			}
			return services.CustomerGroup(key), nil
		}
		if actor.Role == models.RoleStaff || actor.IsAdmin() {
			if key == "" {
				return "", services.NewValidation("email", "is required")
			}
			return services.CustomerGroup(key), nil
		}
		return "", services.NewForbidden("customer room requires a customer account")
	}

	return "", services.NewValidation("event", "unknown request "+strconv.Quote(req.Event))
}

func customerKey(actor services.Actor) string {
	if actor.Email != "" {
		return strings.ToLower(actor.Email)
	}
	if actor.UserID != nil {
		return strconv.FormatUint(uint64(*actor.UserID), 10)
	}
	return ""
}

// ownsKey accepts the account id as an alternative to the email key.
func ownsKey(actor services.Actor, key string) bool {
	return actor.UserID != nil && key == strconv.FormatUint(uint64(*actor.UserID), 10)
}

func socketError(err error) gin.H {
	var (
		forbidden *services.ForbiddenError
		invalid   *services.ValidationError
		notFound  *services.NotFoundError
	)
	switch {
	case errors.As(err, &forbidden):
		return gin.H{"code": forbidden.Code, "message": forbidden.Error()}
	case errors.As(err, &invalid):
		return gin.H{"code": invalid.Code, "message": invalid.Error()}
	case errors.As(err, &notFound):
		return gin.H{"code": notFound.Code, "message": notFound.Error()}
	}
	logger.Get().WithError(err).Error("Socket join failed")
	return gin.H{"code": "INTERNAL_ERROR", "message": "Something went wrong"}
}
