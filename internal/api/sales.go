package api

import (
	"net/http"
	"strconv"

	"retail-service/internal/service"

	"github.com/gin-gonic/gin"
)

type updateLineRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

func (h *Handler) createPOSSale(c *gin.Context) {
	var req service.CreatePOSSaleRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	sale, err := h.pos.CreatePOSSale(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if sale.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, sale)
}

func (h *Handler) getPOSSale(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	sale, err := h.pos.GetPOSSale(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

func (h *Handler) createSale(c *gin.Context) {
	var req service.CreateSaleRequest
	if !bindJSON(c, &req) {
		return
	}

	sale, err := h.sales.CreateSale(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sale)
}

func (h *Handler) getSale(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	sale, err := h.sales.GetSale(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

func (h *Handler) deleteSale(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.sales.DeleteSale(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) addSaleLine(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req service.LineItemRequest
	if !bindJSON(c, &req) {
		return
	}

	sale, err := h.sales.AddSaleLine(c.Request.Context(), id, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

func (h *Handler) updateSaleLine(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	lineID, ok := parseID(c, "lineId")
	if !ok {
		return
	}

	var req updateLineRequest
	if !bindJSON(c, &req) {
		return
	}

	sale, err := h.sales.UpdateSaleLineQuantity(c.Request.Context(), id, lineID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

func (h *Handler) removeSaleLine(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	lineID, ok := parseID(c, "lineId")
	if !ok {
		return
	}

	sale, err := h.sales.RemoveSaleLine(c.Request.Context(), id, lineID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

func (h *Handler) listDiscrepancies(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	discrepancies, err := h.reconciler.ListDiscrepancies(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"discrepancies": discrepancies})
}
