// Package session bundles the stores of one application session over a
// shared durable backend. Each store is built on first use.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/vehicle-storefront/internal/auth"
	"github.com/example/vehicle-storefront/internal/catalog"
	"github.com/example/vehicle-storefront/internal/checkout"
	"github.com/example/vehicle-storefront/internal/liststore"
	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/sold"
	"github.com/example/vehicle-storefront/internal/storage"
)

const (
	CartKey    = "cart_items"
	CompareKey = "compareVehicles"

	DefaultCompareMax = 4
)

// Observer is told about every cart, compare and sold change, starting with
// the state each store loads with.
type Observer func(models.StoreEvent)

type Options struct {
	Storage  storage.Storage
	Gateway  catalog.Gateway
	Remote   sold.Remote
	Orders   checkout.OrderCreator
	Payments checkout.PaymentProcessor

	APIBaseURL      string
	APITimeout      time.Duration
	CompareMax      int
	SoldSyncTimeout time.Duration
	Currency        string

	Observers []Observer
	Logger    *slog.Logger
}

type Session struct {
	ctx  context.Context
	opts Options

	cartOnce, compareOnce, soldOnce, authOnce, catalogOnce, checkoutOnce sync.Once

	cart     *liststore.Store[models.Vehicle]
	compare  *liststore.Store[models.Vehicle]
	sold     *sold.Tracker
	auth     *auth.Session
	catalog  *catalog.Catalog
	checkout *checkout.Service
}

// New returns a session; ctx bounds the initial loads of lazily built stores.
func New(ctx context.Context, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CompareMax <= 0 {
		opts.CompareMax = DefaultCompareMax
	}
	return &Session{ctx: ctx, opts: opts}
}

func (s *Session) vehicleStore(key string, max int) *liststore.Store[models.Vehicle] {
	st := liststore.New(s.ctx, s.opts.Storage, liststore.Config[models.Vehicle]{
		Key:    key,
		ID:     models.VehicleID,
		Clone:  models.Vehicle.Copy,
		Max:    max,
		Logger: s.opts.Logger,
	})
	for _, o := range s.opts.Observers {
		o := o
		st.Subscribe(func(items []models.Vehicle) { o(models.StoreEvent{Store: key, Items: items}) })
	}
	return st
}

func (s *Session) Cart() *liststore.Store[models.Vehicle] {
	s.cartOnce.Do(func() { s.cart = s.vehicleStore(CartKey, 0) })
	return s.cart
}

func (s *Session) Compare() *liststore.Store[models.Vehicle] {
	s.compareOnce.Do(func() { s.compare = s.vehicleStore(CompareKey, s.opts.CompareMax) })
	return s.compare
}

func (s *Session) Sold() *sold.Tracker {
	s.soldOnce.Do(func() {
		s.sold = sold.NewTracker(s.ctx, s.opts.Storage, s.opts.Remote, s.opts.SoldSyncTimeout, s.opts.Logger)
		for _, o := range s.opts.Observers {
			o := o
			s.sold.Subscribe(func(ids []int) { o(models.StoreEvent{Store: sold.StorageKey, Items: ids}) })
		}
	})
	return s.sold
}

func (s *Session) Auth() *auth.Session {
	s.authOnce.Do(func() {
		s.auth = auth.NewSession(s.ctx, s.opts.APIBaseURL, s.opts.APITimeout, s.opts.Storage, s.opts.Logger)
	})
	return s.auth
}

func (s *Session) Catalog() *catalog.Catalog {
	s.catalogOnce.Do(func() {
		s.catalog = catalog.New(s.opts.Gateway, s.Cart(), s.Compare(), s.Sold(), s.opts.Logger)
	})
	return s.catalog
}

func (s *Session) Checkout() *checkout.Service {
	s.checkoutOnce.Do(func() {
		s.checkout = checkout.NewService(s.Cart(), s.Sold(), s.opts.Orders, s.opts.Payments, s.opts.Currency, s.opts.Logger)
	})
	return s.checkout
}

// Close stops and waits for background sold updates and detaches the catalog.
func (s *Session) Close() {
	if s.catalog != nil {
		s.catalog.Close()
	}
	if s.sold != nil {
		s.sold.Close()
	}
}
