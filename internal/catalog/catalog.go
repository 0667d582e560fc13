// Package catalog turns storefront actions into cart, compare and sold-state
// changes and renders the inventory annotated with that state.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/example/vehicle-storefront/internal/liststore"
	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/sold"
	"github.com/example/vehicle-storefront/internal/vehicles"
)

var (
	ErrVehicleSold      = errors.New("vehicle has already been sold")
	ErrAlreadyInCart    = errors.New("vehicle is already in the cart")
	ErrCompareFull      = errors.New("compare list is full")
	ErrAlreadyInCompare = errors.New("vehicle is already in the compare list")
)

// Gateway is the part of vehicles.Client the catalog reads from.
type Gateway interface {
	Listings(ctx context.Context) vehicles.Listings
	VehicleByID(ctx context.Context, id int) (models.Vehicle, error)
}

// Listing is a vehicle with the session state a product card shows.
type Listing struct {
	models.Vehicle
	Sold      bool `json:"sold"`
	InCart    bool `json:"inCart"`
	InCompare bool `json:"inCompare"`
}

type View struct {
	New          []Listing `json:"new"`
	Used         []Listing `json:"used"`
	NewFallback  bool      `json:"newFallback"`
	UsedFallback bool      `json:"usedFallback"`
}

// All returns new then used listings.
func (v View) All() []Listing {
	out := make([]Listing, 0, len(v.New)+len(v.Used))
	out = append(out, v.New...)
	return append(out, v.Used...)
}

type Catalog struct {
	gateway Gateway
	cart    *liststore.Store[models.Vehicle]
	compare *liststore.Store[models.Vehicle]
	sold    *sold.Tracker
	logger  *slog.Logger

	mu     sync.Mutex
	cached *vehicles.Listings
	gen    uint64

	unsubscribe func()
}

func New(gw Gateway, cart, compare *liststore.Store[models.Vehicle], tracker *sold.Tracker, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{gateway: gw, cart: cart, compare: compare, sold: tracker, logger: logger}
	// a sale changes stock on the backend, so the next read refetches
	c.unsubscribe = tracker.Subscribe(func([]int) { c.invalidate() })
	return c
}

// Close stops following the sold set.
func (c *Catalog) Close() { c.unsubscribe() }

func (c *Catalog) invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.gen++
	c.mu.Unlock()
}

func (c *Catalog) listings(ctx context.Context) vehicles.Listings {
	c.mu.Lock()
	if c.cached != nil {
		l := *c.cached
		c.mu.Unlock()
		return l
	}
	gen := c.gen
	c.mu.Unlock()

	l := c.gateway.Listings(ctx)

	c.mu.Lock()
	if gen == c.gen {
		c.cached = &l
	}
	c.mu.Unlock()
	return l
}

// Listings returns both collections annotated with the current sold, cart
// and compare state.
func (c *Catalog) Listings(ctx context.Context) View {
	l := c.listings(ctx)
	return View{
		New:          c.annotate(l.New),
		Used:         c.annotate(l.Used),
		NewFallback:  l.NewFallback,
		UsedFallback: l.UsedFallback,
	}
}

func (c *Catalog) annotate(vs []models.Vehicle) []Listing {
	out := make([]Listing, 0, len(vs))
	for _, v := range vs {
		out = append(out, c.listing(v))
	}
	return out
}

func (c *Catalog) listing(v models.Vehicle) Listing {
	return Listing{
		Vehicle:   v.Copy(),
		Sold:      c.sold.IsSold(v.ID),
		InCart:    c.cart.Contains(v.ID),
		InCompare: c.compare.Contains(v.ID),
	}
}

// Vehicle is the detail view for one id.
func (c *Catalog) Vehicle(ctx context.Context, id int) (Listing, error) {
	v, err := c.gateway.VehicleByID(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	return c.listing(v), nil
}

// UsedByBrand lists used vehicles whose make matches brand, ignoring case.
func (c *Catalog) UsedByBrand(ctx context.Context, brand string) []Listing {
	var out []Listing
	for _, l := range c.Listings(ctx).Used {
		if strings.EqualFold(l.Make, brand) {
			out = append(out, l)
		}
	}
	return out
}

func (c *Catalog) AddToCart(ctx context.Context, v models.Vehicle) error {
	if c.sold.IsSold(v.ID) {
		return ErrVehicleSold
	}
	err := c.cart.Add(ctx, v)
	if errors.Is(err, liststore.ErrAlreadyPresent) {
		return ErrAlreadyInCart
	}
	if err == nil {
		c.logger.Info("added to cart", "vehicle_id", v.ID)
	}
	return err
}

func (c *Catalog) RemoveFromCart(ctx context.Context, id int) error { return c.cart.Remove(ctx, id) }

func (c *Catalog) ClearCart(ctx context.Context) error { return c.cart.Clear(ctx) }

func (c *Catalog) Cart() []models.Vehicle { return c.cart.Snapshot() }

// CartTotal sums the price of every cart item.
func (c *Catalog) CartTotal() float64 { return Total(c.cart.Snapshot()) }

func (c *Catalog) AddToCompare(ctx context.Context, v models.Vehicle) error {
	err := c.compare.Add(ctx, v)
	switch {
	case errors.Is(err, liststore.ErrLimitReached):
		return ErrCompareFull
	case errors.Is(err, liststore.ErrAlreadyPresent):
		return ErrAlreadyInCompare
	}
	return err
}

func (c *Catalog) RemoveFromCompare(ctx context.Context, id int) error {
	return c.compare.Remove(ctx, id)
}

func (c *Catalog) ClearCompare(ctx context.Context) error { return c.compare.Clear(ctx) }

func (c *Catalog) Compare() []models.Vehicle { return c.compare.Snapshot() }

func (c *Catalog) CompareMax() int { return c.compare.Max() }

func Total(vs []models.Vehicle) float64 {
	var sum float64
	for _, v := range vs {
		sum += v.Price
	}
	return sum
}

// Filter keeps listings matching every set field of f.
func Filter(ls []Listing, f models.VehicleFilter) []Listing {
	out := make([]Listing, 0, len(ls))
	for _, l := range ls {
		if f.Matches(l.Vehicle) {
			out = append(out, l)
		}
	}
	return out
}

// Makes returns the distinct makes, sorted.
func Makes(ls []Listing) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, l := range ls {
		if l.Make == "" {
			continue
		}
		if _, ok := seen[l.Make]; ok {
			continue
		}
		seen[l.Make] = struct{}{}
		out = append(out, l.Make)
	}
	sort.Strings(out)
	return out
}
