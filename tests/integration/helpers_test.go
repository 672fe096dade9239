package integration

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/kendall-kelly/cafe-orders-api/services"
	"github.com/kendall-kelly/cafe-orders-api/tests/testutil"
)

// orderView mirrors the order JSON returned by the API
type orderView struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	PaymentMethod *string `json:"payment_method"`
	TotalPrice    float64 `json:"total_price"`
	ShortCode     string  `json:"short_code"`
	QueuePosition *int    `json:"queue_position"`
	VerifiedBy    *string `json:"verified_by"`
	CustomerID    *uint   `json:"customer_id"`
}

type createdOrder struct {
	Order      orderView `json:"order"`
	GuestToken string    `json:"guest_token"`
}

// placeOrder posts a takeout order for quantity of item and returns it
func placeOrder(t *testing.T, app *testutil.TestApp, token string, itemID uint, quantity int, method string) createdOrder {
	t.Helper()
	body := map[string]interface{}{
		"order_type": "takeout",
		"items":      []map[string]interface{}{{"menu_item_id": itemID, "quantity": quantity}},
	}
	if method != "" {
		body["payment_method"] = method
	}

	w := app.Do(testutil.Request{Method: http.MethodPost, Path: "/api/v1/orders", Body: body, Token: token})
	testutil.StatusIs(t, w, http.StatusCreated)

	var created createdOrder
	testutil.Decode(t, w, &created)
	return created
}

func setStatus(t *testing.T, app *testutil.TestApp, token, orderID, status string) (orderView, int, string) {
	return orderCall(t, app, http.MethodPut, fmt.Sprintf("/api/v1/orders/%s/status", orderID), token, map[string]string{"status": status})
}

func verifyPayment(t *testing.T, app *testutil.TestApp, token, orderID, method string) (orderView, int, string) {
	return orderCall(t, app, http.MethodPost, fmt.Sprintf("/api/v1/orders/%s/verify-payment", orderID), token, map[string]string{"method": method})
}

// orderCall returns the order, the status code and the error code if any
func orderCall(t *testing.T, app *testutil.TestApp, method, path, token string, body interface{}) (orderView, int, string) {
	t.Helper()
	w := app.Do(testutil.Request{Method: method, Path: path, Body: body, Token: token})

	var view orderView
	resp := testutil.Decode(t, w, &view)
	code := ""
	if resp.Error != nil {
		code = resp.Error.Code
	}
	return view, w.Code, code
}

// receiptForm builds a multipart body with a single receipt file
func receiptForm(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("receipt", filename)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		part.Write(content)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

// drain returns every message queued for the client
func drain(c *services.Client) []services.Message {
	var out []services.Message
	for {
		select {
		case m, ok := <-c.Send():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func events(msgs []services.Message) []string {
	names := make([]string, 0, len(msgs))
	for _, m := range msgs {
		names = append(names, m.Event)
	}
	return names
}
