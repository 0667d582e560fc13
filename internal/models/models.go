package models

const (
	ConditionNew  = "New"
	ConditionUsed = "Used"

	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

type Vehicle struct {
	ID            int      `json:"id"`
	VIN           string   `json:"vin"`
	Make          string   `json:"make"`
	Model         string   `json:"model"`
	Trim          string   `json:"trim,omitempty"`
	Year          int      `json:"year"`
	Price         float64  `json:"price"`
	Mileage       int      `json:"mileage"`
	FuelType      string   `json:"fuelType"`
	Transmission  string   `json:"transmission"`
	Color         string   `json:"color"`
	Condition     string   `json:"condition"` // New or Used
	Description   string   `json:"description"`
	Images        []string `json:"images"`
	VideoURL      string   `json:"videoUrl,omitempty"`
	ThreeSixtyURL string   `json:"threeSixtyUrl,omitempty"`
	InStock       bool     `json:"inStock"`
	Featured      bool     `json:"featured"`
}

// Copy returns a vehicle that shares no slices with v.
func (v Vehicle) Copy() Vehicle {
	if v.Images != nil {
		v.Images = append([]string(nil), v.Images...)
	} else {
		v.Images = []string{}
	}
	return v
}

// VehicleID is the identity accessor used by list stores.
func VehicleID(v Vehicle) int { return v.ID }

// VehicleFilter mirrors the catalog search form. Zero values do not constrain.
type VehicleFilter struct {
	Make         string  `json:"make,omitempty"`
	Model        string  `json:"model,omitempty"`
	YearMin      int     `json:"yearMin,omitempty"`
	YearMax      int     `json:"yearMax,omitempty"`
	PriceMin     float64 `json:"priceMin,omitempty"`
	PriceMax     float64 `json:"priceMax,omitempty"`
	MileageMax   int     `json:"mileageMax,omitempty"`
	FuelType     string  `json:"fuelType,omitempty"`
	Transmission string  `json:"transmission,omitempty"`
	Condition    string  `json:"condition,omitempty"`
}

// Matches reports whether v satisfies every set field of f.
func (f VehicleFilter) Matches(v Vehicle) bool {
	switch {
	case f.Make != "" && v.Make != f.Make:
		return false
	case f.Model != "" && v.Model != f.Model:
		return false
	case f.YearMin != 0 && v.Year < f.YearMin:
		return false
	case f.YearMax != 0 && v.Year > f.YearMax:
		return false
	case f.PriceMin != 0 && v.Price < f.PriceMin:
		return false
	case f.PriceMax != 0 && v.Price > f.PriceMax:
		return false
	case f.MileageMax != 0 && v.Mileage > f.MileageMax:
		return false
	case f.FuelType != "" && v.FuelType != f.FuelType:
		return false
	case f.Transmission != "" && v.Transmission != f.Transmission:
		return false
	case f.Condition != "" && v.Condition != f.Condition:
		return false
	}
	return true
}

type User struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"` // admin or customer
}

type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type Order struct {
	CustomerID      int     `json:"customer_id"`
	CustomerName    string  `json:"customer_name"`
	Status          string  `json:"status"`
	TotalAmount     float64 `json:"total_amount"`
	ShippingAddress string  `json:"shipping_address"`
	PaymentMethod   string  `json:"payment_method"`
	Notes           string  `json:"notes"`
}

// StoreEvent is broadcast to websocket clients and kafka on every store change.
type StoreEvent struct {
	Store string `json:"store"`
	Items any    `json:"items"`
}

// SoldEvent is the kafka payload the consumer applies to inventory.
type SoldEvent struct {
	Store string `json:"store"`
	Items []int  `json:"items"`
}
