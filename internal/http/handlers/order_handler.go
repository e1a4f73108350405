// README: Order handlers for create/publish/get/cancel.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/order"
)

type OrderHandler struct {
	orders *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{orders: svc}
}

type createOrderReq struct {
	ClientID     int64  `json:"client_id"`
	ClientChatID int64  `json:"client_chat_id"`
	Kind         string `json:"kind"`
	City         string `json:"city"`
	Pickup       string `json:"pickup"`
	Dropoff      string `json:"dropoff"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.orders.Create(c.Request.Context(), order.CreateCommand{
		ClientID:     req.ClientID,
		ClientChatID: req.ClientChatID,
		Kind:         order.Kind(req.Kind),
		City:         req.City,
		PickupQuery:  req.Pickup,
		DropoffQuery: req.Dropoff,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, orderView(o))
}

func (h *OrderHandler) Publish(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	out, err := h.orders.Publish(c.Request.Context(), id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, outcomeStatus(out), gin.H{"outcome": out})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderView(o))
}

type cancelOrderReq struct {
	ClientID int64 `json:"client_id"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req cancelOrderReq
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientID == 0 {
		writeError(c, http.StatusBadRequest, "missing client_id")
		return
	}
	out, _, err := h.orders.CancelByClient(c.Request.Context(), id, req.ClientID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, outcomeStatus(out), gin.H{"outcome": out})
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func orderView(o *order.Order) gin.H {
	v := gin.H{
		"order_id": o.ID,
		"short_id": o.ShortID,
		"kind":     o.Kind,
		"city":     o.City,
		"status":   o.Status,
		"pickup":   o.Pickup.Address,
		"dropoff":  o.Dropoff.Address,
	}
	if o.Price.Amount > 0 {
		v["price_amount"] = o.Price.Amount
		v["price_currency"] = o.Price.Currency
	}
	return v
}
