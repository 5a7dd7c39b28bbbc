package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	v1 "tablio.com/tablio/api/v1"
	"tablio.com/tablio/pos/model"
	"tablio.com/tablio/pos/store"
)

var (
	// ErrQueuedForSync marks a mutation that was durably queued instead of
	// completed. Callers must treat it as a soft success pending sync, not
	// as a failure.
	ErrQueuedForSync = errors.New("request queued for later sync")

	// ErrNoCachedData is returned for reads while offline with no valid
	// cache. Reads never fabricate empty results.
	ErrNoCachedData = errors.New("offline and no cached data available")
)

// QueuedError carries the queue position of a deferred mutation.
type QueuedError struct {
	OperationID uint
	Kind        string
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("%s operation %d queued for later sync", e.Kind, e.OperationID)
}

func (e *QueuedError) Is(target error) bool {
	return target == ErrQueuedForSync
}

// Connectivity is the monitor surface the dispatcher consults per call.
type Connectivity interface {
	IsCurrentlyOnline() bool
	IsConnectionGood() bool
}

// Options shape one dispatched request. The zero value is a GET that is
// neither cached nor queueable.
type Options struct {
	Method string // defaults to GET
	Body   json.RawMessage
	// SkipQueue disables durable queueing for a mutation; by default a
	// mutation that cannot reach the server is queued.
	SkipQueue bool
	// CacheResource names the cache slot (menu/tables/settings) a
	// successful GET is written to and an offline GET is served from.
	CacheResource string
}

// Dispatcher is the single call path between business logic and the
// ordering API. It hides connectivity entirely: calls either complete over
// the network, complete locally against the durable store, or fail loudly.
// No mutation is ever dropped.
type Dispatcher struct {
	transport *v1.Transport
	store     *store.Store
	conn      Connectivity
	validate  *validator.Validate
}

func New(transport *v1.Transport, st *store.Store, conn Connectivity) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		store:     st,
		conn:      conn,
		validate:  validator.New(),
	}
}

// Do routes one request. Online reads and mutations go to the network;
// offline reads degrade to cache; mutations that cannot reach the server
// are queued durably and surface ErrQueuedForSync. Order creation is the
// exception: it returns a synthesized provisional order so the UI can print
// a receipt immediately.
func (d *Dispatcher) Do(ctx context.Context, endpoint string, opts Options) (json.RawMessage, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	if method == http.MethodGet {
		return d.doRead(ctx, endpoint, opts)
	}
	return d.doMutation(ctx, method, endpoint, opts)
}

func (d *Dispatcher) doRead(ctx context.Context, endpoint string, opts Options) (json.RawMessage, error) {
	if !d.conn.IsCurrentlyOnline() {
		return d.readCache(ctx, opts.CacheResource)
	}

	resp, err := d.transport.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if opts.CacheResource != "" {
		if err := d.store.CacheResource(ctx, opts.CacheResource, resp.Data); err != nil {
			return nil, err
		}
	}
	return resp.Data, nil
}

func (d *Dispatcher) readCache(ctx context.Context, resource string) (json.RawMessage, error) {
	if resource == "" {
		return nil, ErrNoCachedData
	}
	data, err := d.store.CachedResource(ctx, resource)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", resource, ErrNoCachedData)
		}
		return nil, err
	}
	return data, nil
}

func (d *Dispatcher) doMutation(ctx context.Context, method, endpoint string, opts Options) (json.RawMessage, error) {
	if d.conn.IsCurrentlyOnline() {
		resp, err := d.transport.Do(ctx, method, endpoint, opts.Body)
		if err == nil {
			if opts.CacheResource != "" {
				if cacheErr := d.store.CacheResource(ctx, opts.CacheResource, resp.Data); cacheErr != nil {
					return nil, cacheErr
				}
			}
			return resp.Data, nil
		}

		// Business rejections surface as-is so the UI can correct input;
		// only transport failures and server unavailability are deferred.
		var apiErr *v1.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
		if opts.SkipQueue {
			return nil, err
		}
		return d.deferMutation(ctx, method, endpoint, opts.Body)
	}

	if opts.SkipQueue {
		return nil, fmt.Errorf("%s %s: device is offline", method, endpoint)
	}
	return d.deferMutation(ctx, method, endpoint, opts.Body)
}

// deferMutation persists the mutation before returning; the write must be durable
// before the caller sees the queued signal.
func (d *Dispatcher) deferMutation(ctx context.Context, method, endpoint string, body json.RawMessage) (json.RawMessage, error) {
	if isOrderCreation(method, endpoint) {
		return d.saveOrderLocally(ctx, body)
	}
	if isPaymentProcessing(method, endpoint) {
		return nil, d.savePaymentLocally(ctx, body)
	}

	kind, err := classifyKind(method, endpoint)
	if err != nil {
		return nil, err
	}
	op, err := d.store.AddToSyncQueue(ctx, kind, body, endpoint, method)
	if err != nil {
		return nil, err
	}
	return nil, &QueuedError{OperationID: op.ID, Kind: kind}
}

func isOrderCreation(method, endpoint string) bool {
	return method == http.MethodPost && endpoint == v1.OrdersPath
}

func isPaymentProcessing(method, endpoint string) bool {
	return method == http.MethodPost && endpoint == v1.PaymentsPath
}

// classifyKind maps a deferred endpoint to its queue kind. Only ordering
// and payment mutations are queueable; anything else has no replay
// semantics here and must fail loudly instead of queueing.
func classifyKind(method, endpoint string) (string, error) {
	switch {
	case strings.HasPrefix(endpoint, v1.OrdersPath):
		return model.KindOrderUpdate, nil
	case strings.HasPrefix(endpoint, "/api/v1/payments"):
		return model.KindPaymentUpdate, nil
	}
	return "", fmt.Errorf("%s %s: endpoint is not queueable while offline", method, endpoint)
}
