package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/vehicle-storefront/internal/dispatch"
	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/session"
	"github.com/example/vehicle-storefront/internal/storage"
	"github.com/example/vehicle-storefront/internal/vehicles"
)

type stubGateway struct{}

var stock = []models.Vehicle{
	{ID: 1, Make: "Toyota", Model: "Vios", Year: 2024, Price: 900000, Condition: models.ConditionNew},
	{ID: 4, Make: "Honda", Model: "City", Year: 2018, Price: 500000, Condition: models.ConditionUsed},
	{ID: 5, Make: "Toyota", Model: "Wigo", Year: 2019, Price: 400000, Condition: models.ConditionUsed},
}

// detailOnly vehicles resolve by id but are not listed.
var detailOnly = []models.Vehicle{
	{ID: 2, Make: "Ford", Model: "Ranger", Price: 1300000, Condition: models.ConditionNew},
	{ID: 3, Make: "Mazda", Model: "CX-5", Price: 1700000, Condition: models.ConditionNew},
	{ID: 9, Make: "Nissan", Model: "Navara", Price: 1200000, Condition: models.ConditionUsed},
}

func (stubGateway) Listings(context.Context) vehicles.Listings {
	return vehicles.Listings{New: stock[:1], Used: stock[1:]}
}

func (stubGateway) VehicleByID(_ context.Context, id int) (models.Vehicle, error) {
	for _, v := range append(append([]models.Vehicle{}, stock...), detailOnly...) {
		if v.ID == id {
			return v, nil
		}
	}
	return models.Vehicle{}, vehicles.ErrNotFound
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Session) {
	t.Helper()
	authAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user":{"id":12,"email":"ana@example.com","name":"Ana","role":"customer"},"token":"t"}`))
	}))
	t.Cleanup(authAPI.Close)

	hub := dispatch.NewWSHub(nil)
	sess := session.New(context.Background(), session.Options{
		Storage:    storage.NewMemoryStorage(),
		Gateway:    stubGateway{},
		APIBaseURL: authAPI.URL,
		APITimeout: time.Second,
		Observers:  []session.Observer{hub.Broadcast},
	})
	srv := httptest.NewServer(NewServer(sess, hub, nil))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		sess.Close()
	})
	return srv, sess
}

func do(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestCartRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, "POST", srv.URL+"/cart", map[string]any{"id": 4})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 500000.0, body["total"])

	code, body = do(t, "POST", srv.URL+"/cart", map[string]any{"id": 4})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "vehicle is already in the cart", body["error"])

	code, _ = do(t, "POST", srv.URL+"/cart", map[string]any{"id": 999})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, "DELETE", srv.URL+"/cart/4", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["items"])

	code, _ = do(t, "DELETE", srv.URL+"/cart", nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestCartUsesCatalogVehicleNotBody(t *testing.T) {
	srv, sess := newTestServer(t)

	code, body := do(t, "POST", srv.URL+"/cart", map[string]any{"id": 4, "make": "Honda", "model": "City", "price": 1})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 500000.0, body["total"])
	cart := sess.Cart().Snapshot()
	require.Len(t, cart, 1)
	assert.Equal(t, 500000.0, cart[0].Price)

	code, body = do(t, "POST", srv.URL+"/cart/checkout", map[string]string{
		"customerName": "Ana", "email": "ana@example.com", "phone": "0917", "address": "Makati",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 500000.0, body["total"])

	code, _ = do(t, "POST", srv.URL+"/cart", map[string]any{"make": "Honda"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCompareFullIsConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	for id := 1; id <= 4; id++ {
		code, _ := do(t, "POST", srv.URL+"/compare", map[string]any{"id": id})
		require.Equal(t, http.StatusOK, code)
	}
	code, body := do(t, "POST", srv.URL+"/compare", map[string]any{"id": 9})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "compare list is full", body["error"])

	_, body = do(t, "GET", srv.URL+"/compare", nil)
	assert.Equal(t, 4.0, body["max"])
}

func TestCheckoutRoute(t *testing.T) {
	srv, sess := newTestServer(t)

	code, _ := do(t, "POST", srv.URL+"/cart/checkout", map[string]string{"customerName": "Ana"})
	assert.Equal(t, http.StatusConflict, code, "empty cart")

	do(t, "POST", srv.URL+"/cart", map[string]any{"id": 5})
	code, body := do(t, "POST", srv.URL+"/cart/checkout", map[string]string{"customerName": "Ana"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "email")

	code, body = do(t, "POST", srv.URL+"/cart/checkout", map[string]string{
		"customerName": "Ana", "email": "ana@example.com", "phone": "0917", "address": "Makati",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])
	assert.True(t, sess.Sold().IsSold(5))

	code, body = do(t, "POST", srv.URL+"/cart", map[string]any{"id": 5})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "vehicle has already been sold", body["error"])

	_, body = do(t, "GET", srv.URL+"/vehicle/5", nil)
	assert.Equal(t, true, body["sold"])
}

func TestInventoryFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, "GET", srv.URL+"/inventory?make=Toyota&priceMax=500000", nil)
	require.Equal(t, http.StatusOK, code)
	vs := body["vehicles"].([]any)
	require.Len(t, vs, 1)
	assert.Equal(t, "Wigo", vs[0].(map[string]any)["model"])
	assert.Equal(t, []any{"Honda", "Toyota"}, body["makes"])

	code, _ = do(t, "GET", srv.URL+"/inventory?yearMin=soon", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, "GET", srv.URL+"/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["used"], 2)
}

func TestAuthRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, "POST", srv.URL+"/login", map[string]string{"email": "ana@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", body["error"])

	code, _ = do(t, "POST", srv.URL+"/login", map[string]string{"email": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, "POST", srv.URL+"/login", map[string]string{"email": "ana@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, code)
	_, body = do(t, "GET", srv.URL+"/me", nil)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, false, body["admin"])

	code, _ = do(t, "POST", srv.URL+"/logout", nil)
	assert.Equal(t, http.StatusNoContent, code)
	_, body = do(t, "GET", srv.URL+"/me", nil)
	assert.Nil(t, body["user"])
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := newTestServer(t)
	req, _ := http.NewRequest("GET", srv.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(b))
	assert.Equal(t, "abc", resp.Header.Get("X-Request-ID"))
}

func TestChangeFeed(t *testing.T) {
	srv, _ := newTestServer(t)
	// build the stores so their initial state is on the feed
	do(t, "GET", srv.URL+"/cart", nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	seen := map[string]bool{}
	for len(seen) < 3 {
		var ev models.StoreEvent
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Store] = true
	}
	assert.True(t, seen[session.CartKey])

	do(t, "POST", srv.URL+"/cart", map[string]any{"id": 1})
	for {
		var ev struct {
			Store string           `json:"store"`
			Items []models.Vehicle `json:"items"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Store == session.CartKey && len(ev.Items) == 1 {
			assert.Equal(t, 1, ev.Items[0].ID)
			return
		}
	}
}
