// Package checkout purchases the cart and records the sale.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/example/vehicle-storefront/internal/catalog"
	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/observability"
	"github.com/example/vehicle-storefront/internal/payments"
	"github.com/example/vehicle-storefront/internal/sold"
)

const (
	PaymentCash = "Cash"
	PaymentCard = "Card"

	orderStatusPaid = "PAID"
)

var (
	ErrEmptyCart = errors.New("cart is empty")
	// ErrVehicleSold is shared with catalog so callers map both the same way.
	ErrVehicleSold = catalog.ErrVehicleSold
)

// ValidationError lists the required form fields that were left blank.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

type Form struct {
	CustomerName  string `json:"customerName"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	PaymentMethod string `json:"paymentMethod"`
}

func (f Form) validate() error {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"customerName", f.CustomerName},
		{"email", f.Email},
		{"phone", f.Phone},
		{"address", f.Address},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

type Receipt struct {
	Ref             string  `json:"ref"`
	Count           int     `json:"count"`
	Total           float64 `json:"total"`
	VehicleIDs      []int   `json:"vehicleIds"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`
}

// Cart is the part of the cart store checkout needs.
type Cart interface {
	Snapshot() []models.Vehicle
	Clear(ctx context.Context) error
}

type OrderCreator interface {
	Create(ctx context.Context, o models.Order) (map[string]any, error)
}

// PaymentProcessor places and settles card holds; payments.StripeClient
// implements it.
type PaymentProcessor interface {
	Hold(ctx context.Context, amount int64, currency, ref string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Service struct {
	cart     Cart
	sold     *sold.Tracker
	orders   OrderCreator
	payments PaymentProcessor
	currency string
	logger   *slog.Logger
}

// NewService wires checkout. payments may be nil, in which case card
// payments are recorded without a hold.
func NewService(cart Cart, tracker *sold.Tracker, orders OrderCreator, pp PaymentProcessor, currency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "php"
	}
	return &Service{cart: cart, sold: tracker, orders: orders, payments: pp, currency: currency, logger: logger}
}

// Checkout buys everything in the cart for the session user (customerID 0
// when signed out).
func (s *Service) Checkout(ctx context.Context, customerID int, form Form) (Receipt, error) {
	items := s.cart.Snapshot()
	if len(items) == 0 {
		observability.Checkouts.WithLabelValues("empty").Inc()
		return Receipt{}, ErrEmptyCart
	}
	if err := form.validate(); err != nil {
		observability.Checkouts.WithLabelValues("invalid").Inc()
		return Receipt{}, err
	}
	ids := make([]int, 0, len(items))
	for _, v := range items {
		if s.sold.IsSold(v.ID) {
			observability.Checkouts.WithLabelValues("sold").Inc()
			return Receipt{}, fmt.Errorf("vehicle %d: %w", v.ID, ErrVehicleSold)
		}
		ids = append(ids, v.ID)
	}
	if form.PaymentMethod == "" {
		form.PaymentMethod = PaymentCash
	}

	rec := Receipt{Ref: uuid.NewString(), Count: len(items), Total: catalog.Total(items), VehicleIDs: ids}
	log := s.logger.With("order_ref", rec.Ref)

	if form.PaymentMethod == PaymentCard && s.payments != nil {
		piID, err := s.payments.Hold(ctx, payments.MinorUnits(rec.Total), s.currency, rec.Ref)
		if err != nil {
			observability.Checkouts.WithLabelValues("payment_failed").Inc()
			log.Error("payment hold failed", "error", err)
			return Receipt{}, fmt.Errorf("payment hold: %w", err)
		}
		rec.PaymentIntentID = piID
	}

	order := models.Order{
		CustomerID:      customerID,
		CustomerName:    form.CustomerName,
		Status:          orderStatusPaid,
		TotalAmount:     rec.Total,
		ShippingAddress: form.Address,
		PaymentMethod:   form.PaymentMethod,
		Notes:           fmt.Sprintf("Phone: %s, Email: %s", form.Phone, form.Email),
	}
	if s.orders != nil {
		if resp, err := s.orders.Create(ctx, order); err != nil {
			// the sale still goes through locally
			log.Error("order creation failed, continuing checkout", "error", err)
		} else {
			log.Info("order created", "response", resp)
		}
	}

	if err := s.sold.MarkAsSold(ctx, ids); err != nil {
		s.release(ctx, log, rec.PaymentIntentID)
		observability.Checkouts.WithLabelValues("error").Inc()
		return Receipt{}, fmt.Errorf("mark sold: %w", err)
	}
	if rec.PaymentIntentID != "" {
		if err := s.payments.Capture(ctx, rec.PaymentIntentID); err != nil {
			// vehicles are already sold locally; the hold is settled out of band
			log.Error("payment capture failed", "payment_intent", rec.PaymentIntentID, "error", err)
		}
	}
	if err := s.cart.Clear(ctx); err != nil {
		log.Error("clear cart after checkout failed", "error", err)
	}

	observability.Checkouts.WithLabelValues("ok").Inc()
	log.Info("checkout complete", "vehicle_ids", ids, "total", rec.Total, "payment_method", form.PaymentMethod)
	return rec, nil
}

func (s *Service) release(ctx context.Context, log *slog.Logger, piID string) {
	if piID == "" {
		return
	}
	if err := s.payments.Cancel(ctx, piID); err != nil {
		log.Error("cancel payment hold failed", "payment_intent", piID, "error", err)
	}
}
