package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/models"
)

func (h *Handler) createPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPurchase
		if err := bindJSON(c, &input); err != nil {
			h.respondError(c, "createPurchase", err)
			return
		}
		result, err := h.purchases.CreatePurchase(c.Request.Context(), &input)
		if err != nil {
			h.respondError(c, "createPurchase", err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func (h *Handler) paymentHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ledger, err := h.deps.Suppliers.GetPaymentHistory(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.respondError(c, "paymentHistory", err)
			return
		}
		c.JSON(http.StatusOK, ledger)
	}
}

func (h *Handler) addPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSupplierPayment
		if err := bindJSON(c, &input); err != nil {
			h.respondError(c, "addPayment", err)
			return
		}
		ledger, err := h.deps.Suppliers.AddPayment(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			h.respondError(c, "addPayment", err)
			return
		}
		c.JSON(http.StatusCreated, ledger)
	}
}
