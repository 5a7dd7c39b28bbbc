package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "tablio.com/tablio/api/v1"
	"tablio.com/tablio/pos/connection"
	"tablio.com/tablio/pos/dispatch"
	"tablio.com/tablio/pos/model"
	"tablio.com/tablio/pos/store"
	"tablio.com/tablio/pos/syncer"
)

type testRig struct {
	router  *gin.Engine
	store   *store.Store
	monitor *connection.Monitor
}

func newTestRig(t *testing.T, apiHandler http.Handler) *testRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "pos.db"), store.Options{RetryThreshold: 1})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(apiHandler)
	t.Cleanup(srv.Close)

	monitor := connection.NewMonitor("", connection.Options{
		Probe: func(ctx context.Context) (time.Duration, error) { return 0, nil },
	})
	client := v1.NewClient(srv.URL, "warung", func() string { return "session-token" })
	reconciler := syncer.New(st, client, monitor, syncer.Options{})
	dispatcher := dispatch.New(client.Transport, st, monitor)

	r := gin.New()
	Register(r.Group("/api/pos/v1.0"), Deps{
		Store:      st,
		Monitor:    monitor,
		Reconciler: reconciler,
		Dispatcher: dispatcher,
	})
	return &testRig{router: r, store: st, monitor: monitor}
}

func (rig *testRig) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rig.router.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	require.NoError(t, rig.store.SaveOrder(context.Background(), &model.OfflineOrder{Payload: json.RawMessage(`{}`)}))

	w := rig.do(http.MethodGet, "/api/pos/v1.0/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data StatusDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, connection.StatusOnline, body.Data.Connection.Status)
	require.NotNil(t, body.Data.Counts)
	assert.Equal(t, int64(1), body.Data.Counts.PendingOrders)
	assert.Equal(t, syncer.StateIdle, body.Data.Sync.State)
}

func TestFailedOperationsEndpoint(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ctx := context.Background()

	order := &model.OfflineOrder{Payload: json.RawMessage(`{}`)}
	require.NoError(t, rig.store.SaveOrder(ctx, order))
	require.NoError(t, rig.store.MarkOrderFailed(ctx, order.LocalID, "table is closed"))

	op, err := rig.store.AddToSyncQueue(ctx, model.KindOrderUpdate, json.RawMessage(`{}`), "/api/v1/orders/1/status", http.MethodPut)
	require.NoError(t, err)
	require.NoError(t, rig.store.MarkSyncFailed(ctx, op.ID, "rejected"))

	w := rig.do(http.MethodGet, "/api/pos/v1.0/operations/failed", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Records []FailedRecordDTO `json:"records"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Records, 2)
	assert.Equal(t, "order", body.Data.Records[0].Category)
	assert.Equal(t, order.LocalID, body.Data.Records[0].ID)
	assert.Equal(t, "table is closed", body.Data.Records[0].Error)
	assert.Equal(t, "operation", body.Data.Records[1].Category)
}

func TestTriggerSyncEndpoint(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"order":{"id":"srv-5","tableId":"t1","status":"CONFIRMED"}}}`))
	}))
	ctx := context.Background()

	order := &model.OfflineOrder{Payload: json.RawMessage(`{"tableId":"t1"}`)}
	require.NoError(t, rig.store.SaveOrder(ctx, order))

	w := rig.do(http.MethodPost, "/api/pos/v1.0/sync", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data syncer.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.OrdersSynced)

	synced, err := rig.store.Order(ctx, order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, synced.Status)
	require.NotNil(t, synced.ServerID)
	assert.Equal(t, "srv-5", *synced.ServerID)
}

const orderBody = `{
	"tableId": "t1",
	"items": [{"menuItemId": "m1", "name": "Nasi Goreng", "quantity": 2, "unitPrice": 45000}],
	"subtotal": 90000,
	"tax": 9900,
	"total": 99900
}`

func TestCreateOrderEndpointOnline(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"order":{"id":"srv-9","tableId":"t1","status":"CONFIRMED"}}}`))
	}))

	w := rig.do(http.MethodPost, "/api/pos/v1.0/orders", orderBody)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Data struct {
			Order v1.OrderDTO `json:"order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "srv-9", body.Data.Order.ID)
}

func TestCreateOrderEndpointOffline(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rig.monitor.SetOffline()

	w := rig.do(http.MethodPost, "/api/pos/v1.0/orders", orderBody)
	require.Equal(t, http.StatusAccepted, w.Code)

	var body struct {
		Data struct {
			Order v1.OrderDTO `json:"order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, store.IsLocalID(body.Data.Order.ID))
	assert.Equal(t, v1.OrderStatusSubmitted, body.Data.Order.Status)

	pending, err := rig.store.PendingOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCreateOrderEndpointRejectsInvalidBody(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	w := rig.do(http.MethodPost, "/api/pos/v1.0/orders", `{"tableId":"t1"`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Missing items fails dispatcher validation with a readable message.
	w = rig.do(http.MethodPost, "/api/pos/v1.0/orders", `{"tableId":"t1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "required")
}

func TestProcessPaymentEndpointQueuesOffline(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rig.monitor.SetOffline()

	w := rig.do(http.MethodPost, "/api/pos/v1.0/payments",
		`{"orderId":"local-abc","method":"cash","amount":99900}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"queued":true`)

	pending, err := rig.store.PendingPayments(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMenuEndpointOfflineWithoutCache(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rig.monitor.SetOffline()

	w := rig.do(http.MethodGet, "/api/pos/v1.0/menu", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMenuEndpointServedFromCache(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	require.NoError(t, rig.store.CacheMenu(context.Background(), json.RawMessage(`{"cached":true}`)))
	rig.monitor.SetOffline()

	w := rig.do(http.MethodGet, "/api/pos/v1.0/menu", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cached":true}`, w.Body.String())
}

func TestReceiptEndpoint(t *testing.T) {
	rig := newTestRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rig.monitor.SetOffline()

	w := rig.do(http.MethodPost, "/api/pos/v1.0/orders", orderBody)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created struct {
		Data struct {
			Order v1.OrderDTO `json:"order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = rig.do(http.MethodGet, "/api/pos/v1.0/orders/"+created.Data.Order.ID+"/receipt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), v1.OrderStatusSubmitted)

	w = rig.do(http.MethodGet, "/api/pos/v1.0/orders/local-missing/receipt", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
