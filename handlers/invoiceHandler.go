package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/mmdatafocus/retail_backend/workflow"
)

type invoiceListResponse struct {
	Invoices []models.Invoice `json:"invoices"`
	PageInfo models.PageInfo  `json:"pageInfo"`
}

type returnRequest struct {
	Items  []workflow.ReturnItemInput `json:"items"`
	Reason string                     `json:"reason"`
}

// returnResponse carries the per-group outcome; Error is set on a partial return.
type returnResponse struct {
	*workflow.ProcessReturnResult
	Error string `json:"error,omitempty"`
}

func (h *Handler) createInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSaleInvoice
		if err := bindJSON(c, &input); err != nil {
			h.respondError(c, "createInvoice", err)
			return
		}
		result, err := h.sales.CreateSale(c.Request.Context(), &input)
		if err != nil {
			h.respondError(c, "createInvoice", err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func (h *Handler) listInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.InvoiceFilter{OriginalInvoiceId: c.Query("originalInvoiceId")}
		if v := c.Query("isReturn"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				h.respondError(c, "listInvoices", utils.NewValidationError("isReturn", "must be true or false"))
				return
			}
			filter.IsReturn = &b
		}
		var err error
		if filter.Limit, err = queryInt(c, "limit", 0); err != nil {
			h.respondError(c, "listInvoices", err)
			return
		}
		if filter.Offset, err = queryInt(c, "offset", 0); err != nil {
			h.respondError(c, "listInvoices", err)
			return
		}
		invoices, info, err := h.deps.Invoices.ListInvoices(c.Request.Context(), filter)
		if err != nil {
			h.respondError(c, "listInvoices", err)
			return
		}
		c.JSON(http.StatusOK, invoiceListResponse{Invoices: invoices, PageInfo: info})
	}
}

func (h *Handler) getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := h.deps.Invoices.GetInvoice(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.respondError(c, "getInvoice", err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func (h *Handler) processReturnHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req returnRequest
		if err := bindJSON(c, &req); err != nil {
			h.respondError(c, "processReturn", err)
			return
		}
		result, err := h.returns.ProcessReturn(c.Request.Context(), &workflow.ProcessReturnInput{
			InvoiceId: c.Param("id"),
			Items:     req.Items,
			Reason:    req.Reason,
		})
		if err != nil && result != nil {
			// partially applied: the caller needs the group results to reconcile
			c.JSON(utils.HTTPStatus(err), returnResponse{ProcessReturnResult: result, Error: err.Error()})
			return
		}
		if err != nil {
			h.respondError(c, "processReturn", err)
			return
		}
		c.JSON(http.StatusCreated, returnResponse{ProcessReturnResult: result})
	}
}
