package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "tablio.com/tablio/api/v1"
	"tablio.com/tablio/pos/connection"
	"tablio.com/tablio/pos/model"
	"tablio.com/tablio/pos/store"
)

type fakeConn struct{ online bool }

func (f *fakeConn) IsCurrentlyOnline() bool { return f.online }

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) OperationFailed(category, id, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, category+":"+id)
	return nil
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func newRig(t *testing.T, opts store.Options, handler http.Handler) (*Reconciler, *store.Store, *recordingNotifier) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "pos.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := v1.NewClient(srv.URL, "warung", func() string { return "session-token" })
	notifier := &recordingNotifier{}
	r := New(st, client, &fakeConn{online: true}, Options{Notifier: notifier})
	return r, st, notifier
}

func seedOrder(t *testing.T, st *store.Store) *model.OfflineOrder {
	t.Helper()
	order := &model.OfflineOrder{Payload: json.RawMessage(
		`{"tableId":"t1","items":[{"menuItemId":"m1","quantity":1,"unitPrice":100000}],"subtotal":100000,"total":100000}`,
	)}
	require.NoError(t, st.SaveOrder(context.Background(), order))
	return order
}

func orderResponse(id string) string {
	return `{"data":{"order":{"id":"` + id + `","tableId":"t1","status":"CONFIRMED"}}}`
}

func TestSyncConfirmsPendingOrders(t *testing.T) {
	var orderCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, v1.OrdersPath, r.URL.Path)
		orderCalls.Add(1)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(100000), body["subtotal"])

		w.Write([]byte(orderResponse("srv-42")))
	})

	r, st, _ := newRig(t, store.Options{}, handler)
	ctx := context.Background()
	order := seedOrder(t, st)

	result, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrdersSynced)
	assert.Equal(t, int32(1), orderCalls.Load())

	synced, err := st.Order(ctx, order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, synced.Status)
	require.NotNil(t, synced.ServerID)
	assert.Equal(t, "srv-42", *synced.ServerID)
	require.NotNil(t, synced.SyncedAt)

	// A second pass finds nothing to replay.
	result, err = r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.OrdersSynced)
	assert.Equal(t, int32(1), orderCalls.Load())
}

func TestSyncRemapsPaymentOrderID(t *testing.T) {
	var paymentOrderID atomic.Value
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case v1.OrdersPath:
			w.Write([]byte(orderResponse("srv-7")))
		case v1.PaymentsPath:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			paymentOrderID.Store(body["orderId"])
			w.Write([]byte(`{"data":{"payment":{"id":"pay-1"}}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	r, st, _ := newRig(t, store.Options{}, handler)
	ctx := context.Background()
	order := seedOrder(t, st)

	payment := &model.OfflinePayment{
		OrderID: order.LocalID,
		Payload: json.RawMessage(`{"orderId":"` + order.LocalID + `","method":"cash","amount":100000}`),
	}
	require.NoError(t, st.SavePayment(ctx, payment))

	result, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrdersSynced)
	assert.Equal(t, 1, result.PaymentsSynced)
	assert.Equal(t, "srv-7", paymentOrderID.Load())

	syncedPayment, err := st.Payment(ctx, payment.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, syncedPayment.Status)
}

func TestPaymentWaitsForItsOrder(t *testing.T) {
	var paymentCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case v1.OrdersPath:
			w.WriteHeader(http.StatusBadGateway)
		case v1.PaymentsPath:
			paymentCalls.Add(1)
			w.WriteHeader(http.StatusOK)
		}
	})

	r, st, _ := newRig(t, store.Options{}, handler)
	ctx := context.Background()
	order := seedOrder(t, st)

	payment := &model.OfflinePayment{
		OrderID: order.LocalID,
		Payload: json.RawMessage(`{"orderId":"` + order.LocalID + `","method":"cash","amount":100000}`),
	}
	require.NoError(t, st.SavePayment(ctx, payment))

	_, err := r.Sync(ctx)
	require.NoError(t, err)

	// The payment is neither attempted nor charged a retry while its order
	// is still pending.
	assert.Equal(t, int32(0), paymentCalls.Load())
	loaded, err := st.Payment(ctx, payment.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, loaded.Status)
	assert.Equal(t, 0, loaded.RetryCount)
}

func TestPaymentFailsWhenOrderFailed(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s %s", r.Method, r.URL.Path)
	})

	r, st, notifier := newRig(t, store.Options{RetryThreshold: 1}, handler)
	ctx := context.Background()

	order := seedOrder(t, st)
	require.NoError(t, st.MarkOrderFailed(ctx, order.LocalID, "rejected"))

	payment := &model.OfflinePayment{
		OrderID: order.LocalID,
		Payload: json.RawMessage(`{"orderId":"` + order.LocalID + `","method":"cash","amount":100000}`),
	}
	require.NoError(t, st.SavePayment(ctx, payment))

	result, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PaymentsFailed)

	loaded, err := st.Payment(ctx, payment.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, loaded.Status)
	assert.Equal(t, []string{"payment:" + payment.LocalID}, notifier.all())
}

func TestRetryBudgetExhaustion(t *testing.T) {
	var orderCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orderCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	r, st, notifier := newRig(t, store.Options{}, handler)
	ctx := context.Background()
	order := seedOrder(t, st)

	for i := 0; i < 6; i++ {
		_, err := r.Sync(ctx)
		require.NoError(t, err)
	}

	// Five attempts exhaust the budget; the sixth pass no longer sees the
	// order as pending.
	assert.Equal(t, int32(5), orderCalls.Load())

	loaded, err := st.Order(ctx, order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, loaded.Status)
	assert.Equal(t, 5, loaded.RetryCount)
	assert.Equal(t, []string{"order:" + order.LocalID}, notifier.all())
}

func TestFinalRejectionFailsImmediately(t *testing.T) {
	var orderCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orderCalls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"table is closed"}`))
	})

	r, st, notifier := newRig(t, store.Options{}, handler)
	ctx := context.Background()
	order := seedOrder(t, st)

	result, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrdersFailed)
	assert.Equal(t, int32(1), orderCalls.Load())

	loaded, err := st.Order(ctx, order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, loaded.Status)
	assert.Equal(t, 0, loaded.RetryCount, "final rejections skip the retry budget")
	assert.Equal(t, []string{"order:" + order.LocalID}, notifier.all())

	// Nothing left to replay.
	_, err = r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), orderCalls.Load())
}

func TestQueueReplay(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, v1.OrdersPath+"/srv-1/status", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SERVED", body["status"])

		w.WriteHeader(http.StatusOK)
	})

	r, st, _ := newRig(t, store.Options{}, handler)
	ctx := context.Background()

	_, err := st.AddToSyncQueue(ctx, model.KindOrderUpdate,
		json.RawMessage(`{"status":"SERVED"}`), v1.OrdersPath+"/srv-1/status", http.MethodPut)
	require.NoError(t, err)

	result, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OperationsSynced)

	pending, err := st.PendingSyncOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConcurrentTriggersCollapse(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var orderCalls atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orderCalls.Add(1)
		once.Do(func() { close(entered) })
		<-release
		w.Write([]byte(orderResponse("srv-1")))
	})

	r, st, _ := newRig(t, store.Options{}, handler)
	ctx := context.Background()
	seedOrder(t, st)

	done := make(chan struct{})
	var result *Result
	var syncErr error
	go func() {
		defer close(done)
		result, syncErr = r.Sync(ctx)
	}()

	<-entered
	assert.Equal(t, StateSyncing, r.Status().State)

	_, err := r.Sync(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	<-done
	require.NoError(t, syncErr)
	assert.Equal(t, 1, result.OrdersSynced)
	assert.Equal(t, int32(1), orderCalls.Load())
}

func TestStatusTransitionsDelivered(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(orderResponse("srv-1")))
	})

	r, st, _ := newRig(t, store.Options{}, handler)
	seedOrder(t, st)

	var states []StatusState
	unsubscribe := r.Subscribe(func(st Status) {
		states = append(states, st.State)
	})
	defer unsubscribe()

	_, err := r.Sync(context.Background())
	require.NoError(t, err)

	require.Equal(t, []StatusState{StateIdle, StateSyncing, StateCompleted}, states)

	status := r.Status()
	require.NotNil(t, status.Result)
	assert.Equal(t, 1, status.Result.OrdersSynced)
}

func TestReconnectTriggersSync(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(orderResponse("srv-1")))
	})

	r, st, _ := newRig(t, store.Options{}, handler)
	r.interval = time.Hour // only the reconnect signal may trigger
	ctx := context.Background()
	order := seedOrder(t, st)

	monitor := connection.NewMonitor("", connection.Options{
		Probe: func(ctx context.Context) (time.Duration, error) { return 0, nil },
	})
	r.Start(ctx, monitor)
	defer r.Stop()

	monitor.SetOffline()
	monitor.SetOnline()

	require.Eventually(t, func() bool {
		loaded, err := st.Order(ctx, order.LocalID)
		return err == nil && loaded.Status == model.StatusSynced
	}, 3*time.Second, 10*time.Millisecond)
}
