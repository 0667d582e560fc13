package vehicles

import (
	_ "embed"
	"encoding/json"

	"github.com/example/vehicle-storefront/internal/models"
)

//go:embed fallback.json
var fallbackJSON []byte

var fallback struct {
	New  []models.Vehicle `json:"new"`
	Used []models.Vehicle `json:"used"`
}

func init() {
	if err := json.Unmarshal(fallbackJSON, &fallback); err != nil {
		panic("vehicles: bad fallback.json: " + err.Error())
	}
}

// FallbackNew is served when the new collection cannot be fetched.
func FallbackNew() []models.Vehicle { return copyAll(fallback.New) }

// FallbackUsed is served when the used collection cannot be fetched.
func FallbackUsed() []models.Vehicle { return copyAll(fallback.Used) }

func fallbackByID(id int) (models.Vehicle, bool) {
	for _, set := range [][]models.Vehicle{fallback.New, fallback.Used} {
		for _, v := range set {
			if v.ID == id {
				return v.Copy(), true
			}
		}
	}
	return models.Vehicle{}, false
}

func copyAll(in []models.Vehicle) []models.Vehicle {
	out := make([]models.Vehicle, len(in))
	for i, v := range in {
		out[i] = v.Copy()
	}
	return out
}
