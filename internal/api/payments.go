package api

import (
	"errors"
	"net/http"

	"retail-service/internal/models"
	"retail-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// webhookPayload accepts the flat result form and the Daraja STK callback envelope
type webhookPayload struct {
	ExternalReferenceID string `json:"external_reference_id"`
	ResultCode          *int   `json:"result_code"`
	Body                *struct {
		StkCallback struct {
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (p webhookPayload) notification() (service.Notification, bool) {
	if p.Body != nil && p.Body.StkCallback.CheckoutRequestID != "" {
		cb := p.Body.StkCallback
		if cb.ResultCode == nil {
			return service.Notification{}, false
		}
		return service.Notification{ExternalReferenceID: cb.CheckoutRequestID, ResultCode: *cb.ResultCode}, true
	}
	if p.ExternalReferenceID == "" || p.ResultCode == nil {
		return service.Notification{}, false
	}
	return service.Notification{ExternalReferenceID: p.ExternalReferenceID, ResultCode: *p.ResultCode}, true
}

// paymentWebhook acknowledges every well-formed notification, including unknown
// references and duplicates. Only storage failures return 5xx so the gateway retries.
func (h *Handler) paymentWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	n, ok := payload.notification()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external reference and result code are required"})
		return
	}

	result, err := h.reconciler.HandleNotification(c.Request.Context(), n)
	if err != nil {
		var validation *models.ValidationError
		if errors.As(err, &validation) {
			h.writeError(c, err)
			return
		}
		h.logger.Error("Payment webhook failed",
			zap.String("external_reference_id", n.ExternalReferenceID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "Retry later"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
		"outcome":    result.Outcome,
	})
}
