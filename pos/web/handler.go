package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tablio.com/tablio/pos/connection"
	"tablio.com/tablio/pos/dispatch"
	"tablio.com/tablio/pos/store"
	"tablio.com/tablio/pos/syncer"
	"tablio.com/tablio/utils"
	"tablio.com/tablio/web/common"
)

// Deps are the live components the local API serves from.
type Deps struct {
	Store      *store.Store
	Monitor    *connection.Monitor
	Reconciler *syncer.Reconciler
	Dispatcher *dispatch.Dispatcher
}

type Endpoint struct {
	deps Deps
}

func Register(r *gin.RouterGroup, deps Deps) {
	endpoint := &Endpoint{deps: deps}
	r.GET("/status", endpoint.Status)
	r.GET("/operations/failed", endpoint.FailedOperations)
	r.POST("/sync", endpoint.TriggerSync)

	r.POST("/orders", endpoint.CreateOrder)
	r.GET("/orders/:localId/receipt", endpoint.Receipt)
	r.POST("/payments", endpoint.ProcessPayment)
	r.GET("/menu", endpoint.Menu)
	r.GET("/tables", endpoint.Tables)
	r.GET("/settings", endpoint.Settings)
}

// StatusDTO combines connection state, queue backlog and the last sync
// outcome into the view presentation code polls.
type StatusDTO struct {
	Connection connection.State `json:"connection"`
	Counts     *store.Counts    `json:"counts"`
	Sync       syncer.Status    `json:"sync"`
}

func (ep *Endpoint) Status(c *gin.Context) {
	counts, err := ep.deps.Store.QueueCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(StatusDTO{
		Connection: ep.deps.Monitor.State(),
		Counts:     counts,
		Sync:       ep.deps.Reconciler.Status(),
	}))
}

// FailedRecordDTO is one record needing manual intervention.
type FailedRecordDTO struct {
	Category   string `json:"category"`
	ID         string `json:"id"`
	RetryCount int    `json:"retryCount"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func (ep *Endpoint) FailedOperations(c *gin.Context) {
	ctx := c.Request.Context()

	orders, err := ep.deps.Store.FailedOrders(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
		return
	}
	payments, err := ep.deps.Store.FailedPayments(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
		return
	}
	ops, err := ep.deps.Store.FailedSyncOperations(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
		return
	}

	records := make([]FailedRecordDTO, 0, len(orders)+len(payments)+len(ops))
	records = append(records, utils.Map(orders, orderToFailedDTO)...)
	records = append(records, utils.Map(payments, paymentToFailedDTO)...)
	records = append(records, utils.Map(ops, operationToFailedDTO)...)

	c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{"records": records}))
}

// TriggerSync starts a reconciliation pass on demand, e.g. from an ops
// screen. A pass already in flight turns the request into a no-op.
func (ep *Endpoint) TriggerSync(c *gin.Context) {
	result, err := ep.deps.Reconciler.Sync(c.Request.Context())
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			c.JSON(http.StatusAccepted, common.NewSuccessResponse(gin.H{"state": syncer.StateSyncing}))
			return
		}
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(result))
}
