package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/vehicle-storefront/internal/auth"
	"github.com/example/vehicle-storefront/internal/catalog"
	"github.com/example/vehicle-storefront/internal/checkout"
	"github.com/example/vehicle-storefront/internal/dispatch"
	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/session"
	"github.com/example/vehicle-storefront/internal/vehicles"
)

type Server struct {
	Session *session.Session
	WSHub   *dispatch.WSHub
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(sess *session.Session, hub *dispatch.WSHub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Session: sess, WSHub: hub, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleHome).Methods("GET")
	s.mux.HandleFunc("/inventory", s.handleInventory).Methods("GET")
	s.mux.HandleFunc("/inventory/used/{brand}", s.handleUsedByBrand).Methods("GET")
	s.mux.HandleFunc("/vehicle/{id:[0-9]+}", s.handleVehicle).Methods("GET")

	s.mux.HandleFunc("/cart", s.handleCart).Methods("GET")
	s.mux.HandleFunc("/cart", s.handleAddToCart).Methods("POST")
	s.mux.HandleFunc("/cart", s.handleClearCart).Methods("DELETE")
	s.mux.HandleFunc("/cart/checkout", s.handleCheckout).Methods("POST")
	s.mux.HandleFunc("/cart/{id:[0-9]+}", s.handleRemoveFromCart).Methods("DELETE")

	s.mux.HandleFunc("/compare", s.handleCompare).Methods("GET")
	s.mux.HandleFunc("/compare", s.handleAddToCompare).Methods("POST")
	s.mux.HandleFunc("/compare", s.handleClearCompare).Methods("DELETE")
	s.mux.HandleFunc("/compare/{id:[0-9]+}", s.handleRemoveFromCompare).Methods("DELETE")

	s.mux.HandleFunc("/login", s.handleLogin).Methods("POST")
	s.mux.HandleFunc("/signup", s.handleSignup).Methods("POST")
	s.mux.HandleFunc("/logout", s.handleLogout).Methods("POST")
	s.mux.HandleFunc("/me", s.handleMe).Methods("GET")

	s.mux.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.logger.Debug("healthz write failed", "error", err)
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.Catalog().Listings(r.Context()))
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	all := s.Session.Catalog().Listings(r.Context()).All()
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicles": catalog.Filter(all, f),
		"makes":    catalog.Makes(all),
	})
}

func (s *Server) handleUsedByBrand(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.Catalog().UsedByBrand(r.Context(), mux.Vars(r)["brand"]))
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	l, err := s.Session.Catalog().Vehicle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	c := s.Session.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{"items": c.Cart(), "total": c.CartTotal()})
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	v, ok := s.decodeVehicle(w, r)
	if !ok {
		return
	}
	if err := s.Session.Catalog().AddToCart(r.Context(), v); err != nil {
		writeError(w, err)
		return
	}
	s.handleCart(w, r)
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	if err := s.Session.Catalog().RemoveFromCart(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.handleCart(w, r)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Catalog().ClearCart(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var form checkout.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	customerID := 0
	if u := s.Session.Auth().Current(); u != nil {
		customerID = u.ID
	}
	rec, err := s.Session.Checkout().Checkout(r.Context(), customerID, form)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	c := s.Session.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{"items": c.Compare(), "max": c.CompareMax()})
}

func (s *Server) handleAddToCompare(w http.ResponseWriter, r *http.Request) {
	v, ok := s.decodeVehicle(w, r)
	if !ok {
		return
	}
	if err := s.Session.Catalog().AddToCompare(r.Context(), v); err != nil {
		writeError(w, err)
		return
	}
	s.handleCompare(w, r)
}

func (s *Server) handleRemoveFromCompare(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	if err := s.Session.Catalog().RemoveFromCompare(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.handleCompare(w, r)
}

func (s *Server) handleClearCompare(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Catalog().ClearCompare(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeVehicle reads the vehicle id from the body and resolves the vehicle
// through the catalog. Any other client-supplied field is ignored.
func (s *Server) decodeVehicle(w http.ResponseWriter, r *http.Request) (models.Vehicle, bool) {
	var body struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return models.Vehicle{}, false
	}
	if body.ID == 0 {
		http.Error(w, "vehicle id is required", http.StatusBadRequest)
		return models.Vehicle{}, false
	}
	l, err := s.Session.Catalog().Vehicle(r.Context(), body.ID)
	if err != nil {
		writeError(w, err)
		return models.Vehicle{}, false
	}
	return l.Vehicle, true
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	u, err := s.Session.Auth().Login(r.Context(), c.Email, c.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	u, err := s.Session.Auth().Signup(r.Context(), c.Email, c.Password, c.Name, c.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Session.Auth().Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a := s.Session.Auth()
	writeJSON(w, http.StatusOK, map[string]any{
		"user":          a.Current(),
		"authenticated": a.IsAuthenticated(),
		"admin":         a.IsAdmin(),
	})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		return
	}
	s.WSHub.Add(conn)
}

func filterFromQuery(r *http.Request) (models.VehicleFilter, error) {
	q := r.URL.Query()
	f := models.VehicleFilter{
		Make:         q.Get("make"),
		Model:        q.Get("model"),
		FuelType:     q.Get("fuelType"),
		Transmission: q.Get("transmission"),
		Condition:    q.Get("condition"),
	}
	var errs []error
	intParam := func(key string, dst *int) {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, &queryError{key: key})
				return
			}
			*dst = n
		}
	}
	floatParam := func(key string, dst *float64) {
		if v := q.Get(key); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, &queryError{key: key})
				return
			}
			*dst = n
		}
	}
	intParam("yearMin", &f.YearMin)
	intParam("yearMax", &f.YearMax)
	intParam("mileageMax", &f.MileageMax)
	floatParam("priceMin", &f.PriceMin)
	floatParam("priceMax", &f.PriceMax)
	return f, errors.Join(errs...)
}

type queryError struct{ key string }

func (e *queryError) Error() string { return "invalid query parameter " + e.key }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var ve *checkout.ValidationError
	var qe *queryError
	var ae *auth.APIError
	switch {
	case errors.Is(err, catalog.ErrVehicleSold),
		errors.Is(err, catalog.ErrAlreadyInCart),
		errors.Is(err, catalog.ErrCompareFull),
		errors.Is(err, catalog.ErrAlreadyInCompare),
		errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusConflict
	case errors.As(err, &ve), errors.As(err, &qe), errors.Is(err, auth.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, vehicles.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ae):
		if ae.Code == http.StatusUnauthorized || ae.Code == http.StatusForbidden {
			return ae.Code
		}
		return http.StatusBadGateway
	case errors.Is(err, auth.ErrInvalidResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
