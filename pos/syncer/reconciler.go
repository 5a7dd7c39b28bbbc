package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	v1 "tablio.com/tablio/api/v1"
	"tablio.com/tablio/pos/connection"
	"tablio.com/tablio/pos/model"
	"tablio.com/tablio/pos/store"
)

const DefaultSyncInterval = 30 * time.Second

// Connectivity is the monitor surface the reconciler consults before and
// during a pass.
type Connectivity interface {
	IsCurrentlyOnline() bool
}

// Notifier is told when a record exhausts its retries and needs manual
// intervention. Implementations are best-effort.
type Notifier interface {
	OperationFailed(category, id, reason string) error
}

// Result aggregates one reconciliation pass.
type Result struct {
	OrdersSynced     int `json:"ordersSynced"`
	OrdersFailed     int `json:"ordersFailed"`
	PaymentsSynced   int `json:"paymentsSynced"`
	PaymentsFailed   int `json:"paymentsFailed"`
	OperationsSynced int `json:"operationsSynced"`
	OperationsFailed int `json:"operationsFailed"`
}

type StatusState string

const (
	StateIdle      StatusState = "idle"
	StateSyncing   StatusState = "syncing"
	StateCompleted StatusState = "completed"
	StateFailed    StatusState = "failed"
)

// Status is the reconciler's observable state, delivered to subscribers on
// every transition.
type Status struct {
	State  StatusState `json:"state"`
	Result *Result     `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type Options struct {
	Interval    time.Duration
	QueueMaxAge time.Duration
	Notifier    Notifier
}

// Reconciler drains the durable store against the server: orders first,
// then payments, then the generic queue. At most one pass runs at a time.
type Reconciler struct {
	store       *store.Store
	client      *v1.Client
	conn        Connectivity
	notifier    Notifier
	interval    time.Duration
	queueMaxAge time.Duration

	syncing atomic.Bool

	mu      sync.Mutex
	status  Status
	subs    map[int]func(Status)
	nextSub int

	cancel context.CancelFunc
	done   chan struct{}
}

func New(st *store.Store, client *v1.Client, conn Connectivity, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.QueueMaxAge <= 0 {
		opts.QueueMaxAge = store.DefaultQueueMaxAge
	}
	return &Reconciler{
		store:       st,
		client:      client,
		conn:        conn,
		notifier:    opts.Notifier,
		interval:    opts.Interval,
		queueMaxAge: opts.QueueMaxAge,
		status:      Status{State: StateIdle},
		subs:        make(map[int]func(Status)),
	}
}

// Start launches the periodic trigger and, when a monitor is supplied,
// triggers a pass on every transition back to online. Stop or context
// cancellation ends both.
func (r *Reconciler) Start(ctx context.Context, monitor *connection.Monitor) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	var unsubscribe func()
	if monitor != nil {
		wasOnline := monitor.IsCurrentlyOnline()
		unsubscribe = monitor.Subscribe(func(st connection.State) {
			online := st.IsOnline && st.Status != connection.StatusOffline
			if online && !wasOnline {
				go func() { _, _ = r.Sync(ctx) }()
			}
			wasOnline = online
		})
	}

	go func() {
		defer close(r.done)
		if unsubscribe != nil {
			defer unsubscribe()
		}
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if r.conn.IsCurrentlyOnline() {
					_, _ = r.Sync(ctx)
				}
			}
		}
	}()
}

// Stop cancels the trigger loop and waits for it to exit. A pass already
// in flight finishes on its own.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// ErrSyncInProgress reports a trigger that found a pass already running;
// the trigger is a no-op, not a failure.
var ErrSyncInProgress = errors.New("sync already in progress")

// Sync runs one reconciliation pass. Concurrent triggers collapse into the
// single running pass. A record enqueued while a pass runs is only
// guaranteed to be picked up by the next pass.
func (r *Reconciler) Sync(ctx context.Context) (*Result, error) {
	if !r.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer r.syncing.Store(false)

	r.setStatus(Status{State: StateSyncing})

	result := &Result{}
	if err := r.syncOrders(ctx, result); err != nil {
		r.setStatus(Status{State: StateFailed, Error: err.Error()})
		return nil, err
	}
	if err := r.syncPayments(ctx, result); err != nil {
		r.setStatus(Status{State: StateFailed, Error: err.Error()})
		return nil, err
	}
	if err := r.syncQueue(ctx, result); err != nil {
		r.setStatus(Status{State: StateFailed, Error: err.Error()})
		return nil, err
	}
	if err := r.store.ClearOldSyncOperations(ctx, r.queueMaxAge); err != nil {
		r.setStatus(Status{State: StateFailed, Error: err.Error()})
		return nil, err
	}

	r.setStatus(Status{State: StateCompleted, Result: result})
	return result, nil
}

func (r *Reconciler) syncOrders(ctx context.Context, result *Result) error {
	orders, err := r.store.PendingOrders(ctx)
	if err != nil {
		return err
	}

	for i := range orders {
		order := &orders[i]
		confirmed, err := r.client.Orders.Create(ctx, order.Payload)
		if err != nil {
			if r.recordFailure(ctx, categoryOrder, order.LocalID, err) {
				result.OrdersFailed++
			}
			continue
		}
		if err := r.store.UpdateOrderStatus(ctx, order.LocalID, model.StatusSynced, &confirmed.ID); err != nil {
			return err
		}
		result.OrdersSynced++
	}
	return nil
}

func (r *Reconciler) syncPayments(ctx context.Context, result *Result) error {
	payments, err := r.store.PendingPayments(ctx)
	if err != nil {
		return err
	}

	for i := range payments {
		payment := &payments[i]

		payload := payment.Payload
		if store.IsLocalID(payment.OrderID) {
			order, err := r.store.Order(ctx, payment.OrderID)
			if err != nil {
				return err
			}
			switch order.Status {
			case model.StatusPending:
				// The order it pays for has not synced yet; leave the
				// payment for the next pass without charging a retry.
				continue
			case model.StatusFailed:
				cause := fmt.Sprintf("order %s failed to sync", payment.OrderID)
				if failed, err := r.store.IncrementPaymentRetry(ctx, payment.LocalID, cause); err != nil {
					return err
				} else if failed {
					r.notifyFailure(categoryPayment, payment.LocalID, cause)
					result.PaymentsFailed++
				}
				continue
			}
			payload, err = remapOrderID(payload, *order.ServerID)
			if err != nil {
				return err
			}
		}

		if err := r.client.Payments.Process(ctx, payload); err != nil {
			if r.recordFailure(ctx, categoryPayment, payment.LocalID, err) {
				result.PaymentsFailed++
			}
			continue
		}
		if err := r.store.UpdatePaymentStatus(ctx, payment.LocalID, model.StatusSynced); err != nil {
			return err
		}
		result.PaymentsSynced++
	}
	return nil
}

func (r *Reconciler) syncQueue(ctx context.Context, result *Result) error {
	ops, err := r.store.PendingSyncOperations(ctx)
	if err != nil {
		return err
	}

	for i := range ops {
		op := &ops[i]
		_, err := r.client.Transport.Do(ctx, op.Method, op.Endpoint, op.Payload)
		if err != nil {
			if r.recordQueueFailure(ctx, op.ID, err) {
				result.OperationsFailed++
			}
			continue
		}
		if err := r.store.MarkSyncCompleted(ctx, op.ID); err != nil {
			return err
		}
		result.OperationsSynced++
	}
	return nil
}

// remapOrderID rewrites a payment payload's order reference from the local
// id it was taken against to the server id assigned during order sync.
func remapOrderID(payload json.RawMessage, serverID string) (json.RawMessage, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode payment payload: %w", err)
	}
	body["orderId"] = serverID
	remapped, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payment payload: %w", err)
	}
	return remapped, nil
}

const (
	categoryOrder     = "order"
	categoryPayment   = "payment"
	categoryOperation = "operation"
)

// recordFailure applies the failure policy to an order or payment: final
// server rejections fail immediately, everything else charges a retry and
// fails at the threshold. Returns whether the record is now failed.
func (r *Reconciler) recordFailure(ctx context.Context, category, localID string, cause error) bool {
	msg := cause.Error()

	var apiErr *v1.APIError
	if errors.As(cause, &apiErr) && !apiErr.Retryable() {
		var err error
		if category == categoryOrder {
			err = r.store.MarkOrderFailed(ctx, localID, msg)
		} else {
			err = r.store.MarkPaymentFailed(ctx, localID, msg)
		}
		if err == nil {
			r.notifyFailure(category, localID, msg)
		}
		return true
	}

	var failed bool
	if category == categoryOrder {
		failed, _ = r.store.IncrementOrderRetry(ctx, localID, msg)
	} else {
		failed, _ = r.store.IncrementPaymentRetry(ctx, localID, msg)
	}
	if failed {
		r.notifyFailure(category, localID, msg)
	}
	return failed
}

func (r *Reconciler) recordQueueFailure(ctx context.Context, id uint, cause error) bool {
	msg := cause.Error()

	var apiErr *v1.APIError
	if errors.As(cause, &apiErr) && !apiErr.Retryable() {
		if err := r.store.MarkSyncFailed(ctx, id, msg); err == nil {
			r.notifyFailure(categoryOperation, fmt.Sprint(id), msg)
		}
		return true
	}

	failed, _ := r.store.IncrementRetryCount(ctx, id, msg)
	if failed {
		r.notifyFailure(categoryOperation, fmt.Sprint(id), msg)
	}
	return failed
}

func (r *Reconciler) notifyFailure(category, id, reason string) {
	if r.notifier != nil {
		_ = r.notifier.OperationFailed(category, id, reason)
	}
}

// Status returns the current snapshot.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Subscribe registers a listener, invokes it immediately with the current
// status, and returns its unsubscribe function. Same delivery contract as
// the connection monitor: synchronous, on the transitioning goroutine.
func (r *Reconciler) Subscribe(fn func(Status)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	current := r.status
	r.mu.Unlock()

	fn(current)

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Reconciler) setStatus(status Status) {
	r.mu.Lock()
	r.status = status
	listeners := make([]func(Status), 0, len(r.subs))
	for _, fn := range r.subs {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}
