// Package shop talks to the storefront's commerce backend for order status
// and cart changes.
package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/ai/rag"
)

// timeout is the default per-request timeout.
const timeout = 10 * time.Second

// Client implements rag.OrderLookup and rag.Cart over the commerce REST API.
//
//   - GET  {base}/orders/{id}?user_id={user}  => envelope{data: Order}
//   - POST {base}/carts/{user}/items          <= {product_id, size, quantity}
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a client for baseURL. apiKey is sent as a bearer token
// when set.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// envelope is the commerce API response wrapper. Code 0 means success.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
}

// LookupOrder fetches an order owned by userID. Unknown orders, and orders
// of other users, return rag.ErrOrderNotFound.
func (c *Client) LookupOrder(ctx context.Context, userID, orderID string) (*rag.Order, error) {
	endpoint := c.baseURL + "/orders/" + url.PathEscape(orderID) + "?user_id=" + url.QueryEscape(userID)
	data, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, rag.ErrOrderNotFound
	}

	var order rag.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, errors.Wrapf(err, "failed to decode order %s", orderID)
	}
	if order.ID == "" {
		order.ID = orderID
	}
	return &order, nil
}

// AddItem adds one unit of productID in size to the user's cart.
func (c *Client) AddItem(ctx context.Context, userID, productID, size string) error {
	body, err := json.Marshal(addItemRequest{ProductID: productID, Size: size, Quantity: 1})
	if err != nil {
		return errors.Wrap(err, "failed to marshal cart item")
	}
	endpoint := c.baseURL + "/carts/" + url.PathEscape(userID) + "/items"
	_, err = c.do(ctx, http.MethodPost, endpoint, body)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to construct request to %s", endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call %s", endpoint)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response from %s", endpoint)
	}
	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return nil, rag.ErrOrderNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("commerce api %s returned status %d: %s", endpoint, resp.StatusCode, b)
	}
	if len(b) == 0 {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal response from %s", endpoint)
	}
	if env.Code != 0 {
		return nil, errors.Errorf("commerce api error code %d: %s", env.Code, env.Message)
	}
	return env.Data, nil
}

var (
	_ rag.OrderLookup = (*Client)(nil)
	_ rag.Cart        = (*Client)(nil)
)
