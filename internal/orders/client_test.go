package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/vehicle-storefront/internal/models"
)

func TestCreatePostsOrder(t *testing.T) {
	var got models.Order
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/order" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id": 31}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	out, err := c.Create(context.Background(), models.Order{CustomerName: "Ana", Status: "PAID", TotalAmount: 1749000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out["id"] != float64(31) {
		t.Fatalf("expected id 31, got %v", out["id"])
	}
	if got.CustomerName != "Ana" || got.TotalAmount != 1749000 {
		t.Fatalf("unexpected order body %+v", got)
	}
}

func TestCreateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Create(context.Background(), models.Order{}); err == nil {
		t.Fatal("expected error for 502")
	}
}
