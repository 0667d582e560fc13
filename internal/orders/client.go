package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/vehicle-storefront/internal/models"
)

// Client creates orders through the backend's generic create endpoint.
type Client struct {
	Endpoint string
	Client   *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{Endpoint: strings.TrimRight(baseURL, "/") + "/api/order", Client: &http.Client{Timeout: timeout}}
}

// Create posts the order and returns the backend's echo of it decoded into a
// generic map, since the backend adds its own fields.
func (c *Client) Create(ctx context.Context, o models.Order) (map[string]any, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("create order: unexpected status %d", resp.StatusCode)
	}
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// an empty 2xx body still means the order was accepted
		return map[string]any{}, nil
	}
	return out, nil
}
