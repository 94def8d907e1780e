package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/mmdatafocus/retail_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Handler serves the REST API on top of the services and workflows in Deps.
type Handler struct {
	deps      workflow.Deps
	sales     *workflow.SaleWorkflow
	returns   *workflow.ReturnWorkflow
	purchases *workflow.PurchaseWorkflow
	logger    *logrus.Logger
}

func NewHandler(d workflow.Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Handler{
		deps:      d,
		sales:     workflow.NewSaleWorkflow(d),
		returns:   workflow.NewReturnWorkflow(d),
		purchases: workflow.NewPurchaseWorkflow(d),
		logger:    logger,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	api.POST("/products", h.createProductHandler())
	api.GET("/products", h.listProductsHandler())
	api.GET("/products/:sku", h.getProductHandler())
	api.PUT("/products/:sku", h.updateProductHandler())

	api.GET("/inventory/:sku", h.getInventoryHandler())
	api.GET("/inventory/:sku/history", h.inventoryHistoryHandler())
	api.POST("/inventory/:sku/adjustments", h.adjustInventoryHandler())

	api.GET("/identifiers/:type/:sku", h.getIdentifiersHandler())
	api.POST("/identifiers/:type/:sku/return-to-supplier", h.returnToSupplierHandler())

	api.POST("/purchases", h.createPurchaseHandler())
	api.GET("/purchases/:id/payments", h.paymentHistoryHandler())
	api.POST("/purchases/:id/payments", h.addPaymentHandler())

	api.POST("/invoices", h.createInvoiceHandler())
	api.GET("/invoices", h.listInvoicesHandler())
	api.GET("/invoices/:id", h.getInvoiceHandler())
	api.POST("/invoices/:id/returns", h.processReturnHandler())
}

// respondError maps the error taxonomy onto a status code. Internal errors are
// logged and answered without detail.
func (h *Handler) respondError(c *gin.Context, funcName string, err error) {
	status := utils.HTTPStatus(err)
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		config.LogError(h.logger, "handlers", funcName, cid, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": "internal error", "correlationId": cid})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "correlationId": cid})
}

// bindJSON decodes the body; malformed JSON is reported as a validation failure.
func bindJSON(c *gin.Context, dest any) error {
	if err := c.ShouldBindJSON(dest); err != nil {
		var ve *utils.ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return &utils.ValidationError{Message: "invalid request: " + err.Error()}
	}
	return nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, utils.NewValidationError(name, "must be an integer")
	}
	return n, nil
}
