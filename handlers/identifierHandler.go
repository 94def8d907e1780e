package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
)

type returnToSupplierRequest struct {
	Values []string `json:"values"`
}

func identifierTypeParam(c *gin.Context) (models.IdentifierType, error) {
	t, err := models.ParseIdentifierType(c.Param("type"))
	if err != nil || !t.Tracked() {
		return "", utils.NewValidationError("type", "must be serial or imei")
	}
	return t, nil
}

func (h *Handler) getIdentifiersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifierType, err := identifierTypeParam(c)
		if err != nil {
			h.respondError(c, "getIdentifiers", err)
			return
		}
		rec, err := h.deps.Identifiers.Get(c.Request.Context(), identifierType, c.Param("sku"))
		if err != nil {
			h.respondError(c, "getIdentifiers", err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func (h *Handler) returnToSupplierHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifierType, err := identifierTypeParam(c)
		if err != nil {
			h.respondError(c, "returnToSupplier", err)
			return
		}
		var req returnToSupplierRequest
		if err := bindJSON(c, &req); err != nil {
			h.respondError(c, "returnToSupplier", err)
			return
		}
		result, err := h.purchases.ReturnToSupplier(c.Request.Context(), identifierType, c.Param("sku"), req.Values)
		if err != nil {
			h.respondError(c, "returnToSupplier", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
