package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
)

type adjustmentRequest struct {
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
	ForWhat       string `json:"forWhat"`
	Reference     string `json:"reference"`
	SupplierEmail string `json:"supplierEmail"`
}

func (r *adjustmentRequest) meta() (models.InventoryDeltaMeta, error) {
	reason := models.InventoryReason(strings.TrimSpace(r.Reason))
	if reason == "" {
		reason = models.InventoryReasonAdjustment
	}
	switch reason {
	case models.InventoryReasonAdjustment, models.InventoryReasonOpening:
	default:
		return models.InventoryDeltaMeta{}, utils.NewValidationError("reason", "manual adjustments accept %q or %q", models.InventoryReasonAdjustment, models.InventoryReasonOpening)
	}
	if r.Quantity == 0 {
		return models.InventoryDeltaMeta{}, utils.NewValidationError("quantity", "must not be zero")
	}
	if r.Quantity < 0 && strings.TrimSpace(r.ForWhat) == "" {
		return models.InventoryDeltaMeta{}, utils.NewValidationError("forWhat", "is required when removing stock")
	}
	if r.SupplierEmail != "" && !utils.IsValidEmail(r.SupplierEmail) {
		return models.InventoryDeltaMeta{}, utils.NewValidationError("supplierEmail", "is not a valid email")
	}
	return models.InventoryDeltaMeta{
		Reason:        reason,
		Reference:     r.Reference,
		SupplierEmail: r.SupplierEmail,
		ForWhat:       strings.TrimSpace(r.ForWhat),
	}, nil
}

func (h *Handler) getInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := h.deps.Inventory.GetInventory(c.Request.Context(), c.Param("sku"))
		if err != nil {
			h.respondError(c, "getInventory", err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func (h *Handler) inventoryHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit", 0)
		if err != nil {
			h.respondError(c, "inventoryHistory", err)
			return
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			h.respondError(c, "inventoryHistory", err)
			return
		}
		page, err := h.deps.Inventory.GetHistory(c.Request.Context(), c.Param("sku"), limit, offset)
		if err != nil {
			h.respondError(c, "inventoryHistory", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// adjustInventoryHandler books a manual correction. Products tracked by identifier
// change stock only through purchases, sales and returns.
func (h *Handler) adjustInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var req adjustmentRequest
		if err := bindJSON(c, &req); err != nil {
			h.respondError(c, "adjustInventory", err)
			return
		}
		meta, err := req.meta()
		if err != nil {
			h.respondError(c, "adjustInventory", err)
			return
		}
		product, err := h.deps.Products.GetProduct(ctx, c.Param("sku"))
		if err != nil {
			h.respondError(c, "adjustInventory", err)
			return
		}
		if product.IdentifierType.Tracked() {
			h.respondError(c, "adjustInventory", utils.NewValidationError("sku", "%s-tracked product %q cannot be adjusted manually", product.IdentifierType, product.Sku))
			return
		}
		rec, err := h.deps.Inventory.ApplyDelta(ctx, product.Sku, req.Quantity, meta)
		if err != nil {
			h.respondError(c, "adjustInventory", err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
