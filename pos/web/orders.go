package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	v1 "tablio.com/tablio/api/v1"
	"tablio.com/tablio/pos/dispatch"
	"tablio.com/tablio/pos/store"
	"tablio.com/tablio/web/common"
)

// CreateOrder accepts an order from the register UI and routes it through
// the dispatcher. Confirmed orders return 201; orders stored on-device while
// the server is unreachable return 202 with the provisional body, so the UI
// can print a receipt either way.
func (ep *Endpoint) CreateOrder(c *gin.Context) {
	var order v1.OrderDTO
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(common.FormatBindingError(err)))
		return
	}

	result, err := ep.deps.Dispatcher.CreateOrder(c.Request.Context(), &order)
	if err != nil {
		ep.writeDispatchError(c, err)
		return
	}

	status := http.StatusCreated
	if store.IsLocalID(result.ID) {
		status = http.StatusAccepted
	}
	c.JSON(status, common.NewSuccessResponse(gin.H{"order": result}))
}

// ProcessPayment forwards a payment. A payment that could not reach the
// server is stored for replay and acknowledged with 202.
func (ep *Endpoint) ProcessPayment(c *gin.Context) {
	var payment v1.PaymentDTO
	if err := c.ShouldBindJSON(&payment); err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(common.FormatBindingError(err)))
		return
	}

	err := ep.deps.Dispatcher.ProcessPayment(c.Request.Context(), &payment)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{"queued": false}))
	case errors.Is(err, dispatch.ErrQueuedForSync):
		c.JSON(http.StatusAccepted, common.NewSuccessResponse(gin.H{"queued": true}))
	default:
		ep.writeDispatchError(c, err)
	}
}

// Receipt re-renders the current view of a locally stored order.
func (ep *Endpoint) Receipt(c *gin.Context) {
	order, err := ep.deps.Dispatcher.PendingReceipt(c.Request.Context(), c.Param("localId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, common.NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{"order": order}))
}

func (ep *Endpoint) Menu(c *gin.Context) {
	ep.serveCatalog(c, ep.deps.Dispatcher.Menu)
}

func (ep *Endpoint) Tables(c *gin.Context) {
	ep.serveCatalog(c, ep.deps.Dispatcher.Tables)
}

func (ep *Endpoint) Settings(c *gin.Context) {
	ep.serveCatalog(c, ep.deps.Dispatcher.Settings)
}

// serveCatalog passes the upstream response body through untouched; the
// dispatcher already served it from cache when offline.
func (ep *Endpoint) serveCatalog(c *gin.Context, fetch func(context.Context) (json.RawMessage, error)) {
	data, err := fetch(c.Request.Context())
	if err != nil {
		if errors.Is(err, dispatch.ErrNoCachedData) {
			c.JSON(http.StatusServiceUnavailable, common.NewErrorResponse(err.Error()))
			return
		}
		ep.writeDispatchError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (ep *Endpoint) writeDispatchError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(common.FormatBindingError(ve)))
		return
	}
	var apiErr *v1.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.StatusCode, common.NewErrorResponse(apiErr.Error()))
		return
	}
	c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
}
