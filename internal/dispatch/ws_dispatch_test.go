package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/vehicle-storefront/internal/models"
)

func hubServer(t *testing.T, h *WSHub) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Add(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Store string `json:"store"`
	Items []int  `json:"items"`
}

func read(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	var ev wireEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func waitClients(t *testing.T, h *WSHub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Len() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestNewClientGetsLatestStatePerStore(t *testing.T) {
	h := NewWSHub(nil)
	h.Broadcast(models.StoreEvent{Store: "cart_items", Items: []int{1}})
	h.Broadcast(models.StoreEvent{Store: "sold_vehicles", Items: []int{4}})
	h.Broadcast(models.StoreEvent{Store: "cart_items", Items: []int{1, 2}})

	conn := dial(t, hubServer(t, h))
	assert.Equal(t, wireEvent{Store: "cart_items", Items: []int{1, 2}}, read(t, conn))
	assert.Equal(t, wireEvent{Store: "sold_vehicles", Items: []int{4}}, read(t, conn))
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	h := NewWSHub(nil)
	url := hubServer(t, h)
	a, b := dial(t, url), dial(t, url)
	waitClients(t, h, 2)

	h.Broadcast(models.StoreEvent{Store: "compareVehicles", Items: []int{7}})
	assert.Equal(t, []int{7}, read(t, a).Items)
	assert.Equal(t, []int{7}, read(t, b).Items)
}

func TestClosedClientIsRemoved(t *testing.T) {
	h := NewWSHub(nil)
	conn := dial(t, hubServer(t, h))
	waitClients(t, h, 1)

	require.NoError(t, conn.Close())
	waitClients(t, h, 0)
	// nothing left to send to
	h.Broadcast(models.StoreEvent{Store: "cart_items", Items: []int{}})
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := NewWSHub(nil)
	conn := dial(t, hubServer(t, h))
	waitClients(t, h, 1)

	h.Close()
	assert.Zero(t, h.Len())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
