package api

import (
	"net/http"

	"retail-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type updatePriceRequest struct {
	SellingPrice decimal.Decimal `json:"selling_price"`
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

func (h *Handler) updateSellingPrice(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req updatePriceRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.catalog.UpdateSellingPrice(c.Request.Context(), id, req.SellingPrice)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) getStock(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	stock, err := h.catalog.GetStock(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stock)
}

func (h *Handler) recordDelivery(c *gin.Context) {
	var req service.RecordDeliveryRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.deliveries.RecordDelivery(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) listDeliveries(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	deliveries, err := h.deliveries.ListDeliveries(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}
