package vehicles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/observability"
)

var ErrNotFound = errors.New("vehicles: vehicle not found")

// StatusError is returned for any non-2xx answer from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

// Client talks to the vehicle REST surface under /api/vehicle. Every request
// is a single attempt; the collection reads degrade to the fallback sets.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

// Listings holds both catalog collections and whether each one came from the
// fallback set.
type Listings struct {
	New          []models.Vehicle `json:"new"`
	Used         []models.Vehicle `json:"used"`
	NewFallback  bool             `json:"newFallback"`
	UsedFallback bool             `json:"usedFallback"`
}

// Listings fetches new and used concurrently. Each degrades on its own.
func (c *Client) Listings(ctx context.Context) Listings {
	var l Listings
	var g errgroup.Group
	g.Go(func() error {
		l.New, l.NewFallback = c.collection(ctx, "new", FallbackNew)
		return nil
	})
	g.Go(func() error {
		l.Used, l.UsedFallback = c.collection(ctx, "used", FallbackUsed)
		return nil
	})
	_ = g.Wait()
	return l
}

func (c *Client) NewVehicles(ctx context.Context) []models.Vehicle {
	vs, _ := c.collection(ctx, "new", FallbackNew)
	return vs
}

func (c *Client) UsedVehicles(ctx context.Context) []models.Vehicle {
	vs, _ := c.collection(ctx, "used", FallbackUsed)
	return vs
}

// collection returns the live list, or the fallback when the request fails or
// the backend has nothing to show.
func (c *Client) collection(ctx context.Context, name string, fb func() []models.Vehicle) ([]models.Vehicle, bool) {
	var vs []models.Vehicle
	err := c.do(ctx, http.MethodGet, "/"+name, nil, &vs)
	if err == nil && len(vs) > 0 {
		return vs, false
	}
	if err != nil {
		c.Logger.Warn("vehicle fetch failed, using fallback", "collection", name, "error", err)
	} else {
		c.Logger.Info("vehicle collection empty, using fallback", "collection", name)
	}
	observability.GatewayFallbacks.WithLabelValues(name).Inc()
	return fb(), true
}

// VehicleByID falls back to the sample sets when the backend cannot answer.
func (c *Client) VehicleByID(ctx context.Context, id int) (models.Vehicle, error) {
	v, err := c.fetchByID(ctx, id)
	if err == nil {
		return v, nil
	}
	c.Logger.Warn("vehicle lookup failed, trying fallback", "vehicle_id", id, "error", err)
	if fv, ok := fallbackByID(id); ok {
		observability.GatewayFallbacks.WithLabelValues("detail").Inc()
		return fv, nil
	}
	return models.Vehicle{}, fmt.Errorf("%w: %d", ErrNotFound, id)
}

func (c *Client) fetchByID(ctx context.Context, id int) (models.Vehicle, error) {
	var v models.Vehicle
	if err := c.do(ctx, http.MethodGet, "/"+strconv.Itoa(id), nil, &v); err != nil {
		return models.Vehicle{}, err
	}
	if v.ID == 0 {
		return models.Vehicle{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return v, nil
}

func (c *Client) VehiclesByMake(ctx context.Context, brand string) ([]models.Vehicle, error) {
	var vs []models.Vehicle
	err := c.do(ctx, http.MethodGet, "/make/"+url.PathEscape(brand), nil, &vs)
	return vs, err
}

func (c *Client) Search(ctx context.Context, f models.VehicleFilter) ([]models.Vehicle, error) {
	var vs []models.Vehicle
	err := c.do(ctx, http.MethodPost, "/search", f, &vs)
	return vs, err
}

func (c *Client) Featured(ctx context.Context) ([]models.Vehicle, error) {
	var vs []models.Vehicle
	err := c.do(ctx, http.MethodGet, "/featured", nil, &vs)
	return vs, err
}

// UpdateStock tries PUT /:id/stock and, if that fails, rewrites the whole
// vehicle with PUT /:id.
func (c *Client) UpdateStock(ctx context.Context, id int, inStock bool) error {
	path := "/" + strconv.Itoa(id)
	err := c.do(ctx, http.MethodPut, path+"/stock", map[string]bool{"inStock": inStock}, nil)
	if err == nil {
		return nil
	}
	c.Logger.Debug("stock endpoint failed, updating full vehicle", "vehicle_id", id, "error", err)
	v, err := c.fetchByID(ctx, id)
	if err != nil {
		return fmt.Errorf("update stock %d: %w", id, err)
	}
	v.InStock = inStock
	if err := c.do(ctx, http.MethodPut, path, v, nil); err != nil {
		return fmt.Errorf("update stock %d: %w", id, err)
	}
	return nil
}

// MarkSold tries the batch endpoint, then marks each vehicle out of stock
// individually. It fails if any single update fails.
func (c *Client) MarkSold(ctx context.Context, ids []int) error {
	err := c.do(ctx, http.MethodPost, "/mark-sold", map[string][]int{"vehicleIds": ids}, nil)
	if err == nil {
		return nil
	}
	c.Logger.Debug("batch mark-sold failed, updating one by one", "vehicle_ids", ids, "error", err)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error { return c.UpdateStock(gctx, id, false) })
	}
	return g.Wait()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/api/vehicle"+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
