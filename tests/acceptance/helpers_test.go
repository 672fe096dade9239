package acceptance

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/tests/testutil"
)

// call describes one HTTP request against the running server
type call struct {
	method      string
	path        string
	token       string
	guestToken  string
	body        interface{}
	contentType string
	rawBody     io.Reader
}

// send performs the call and decodes the response envelope into data
func send(t *testing.T, baseURL string, c call, data interface{}) (int, testutil.Response) {
	t.Helper()

	body := c.rawBody
	contentType := c.contentType
	if body == nil && c.body != nil {
		encoded, err := json.Marshal(c.body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequest(c.method, baseURL+c.path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.guestToken != "" {
		req.Header.Set(middleware.GuestTokenHeader, c.guestToken)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to call %s %s: %v", c.method, c.path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	var envelope testutil.Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("Failed to decode response %q: %v", string(raw), err)
	}
	if data != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, data); err != nil {
			t.Fatalf("Failed to decode data %q: %v", string(envelope.Data), err)
		}
	}
	return res.StatusCode, envelope
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	ShortCode     string `json:"short_code"`
	QueuePosition *int   `json:"queue_position"`
}

type placed struct {
	Order      order  `json:"order"`
	GuestToken string `json:"guest_token"`
}

// socketEvent is one message read from the socket
type socketEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// dial opens a socket on the server; query carries the credentials
func dial(t *testing.T, baseURL, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/ws"
	if query != "" {
		url += "?" + query
	}
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("Failed to open socket (status %d): %v", status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// join sends a join request and waits for the reply
func join(t *testing.T, conn *websocket.Conn, event string, data interface{}) socketEvent {
	t.Helper()
	if err := conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
	return awaitEvent(t, conn, func(e socketEvent) bool { return e.Event == "joined" || e.Event == "error" })
}

// awaitEvent reads until match accepts a message or the deadline passes
func awaitEvent(t *testing.T, conn *websocket.Conn, match func(socketEvent) bool) socketEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var e socketEvent
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("No matching socket event: %v", err)
		}
		if match(e) {
			return e
		}
	}
}
